package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation decisions.
type Kind uint8

const (
	// Unauthenticated means there is no current identity.
	Unauthenticated Kind = iota + 1
	// NotFound means a referenced entity is absent.
	NotFound
	// Invalid means the input or a decoded record is malformed.
	Invalid
	// Transient means a network or gateway failure that may succeed later.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// ParseKind is the inverse of Kind.String. Unknown names map to zero.
func ParseKind(s string) Kind {
	switch s {
	case "unauthenticated":
		return Unauthenticated
	case "not_found":
		return NotFound
	case "invalid":
		return Invalid
	case "transient":
		return Transient
	}
	return 0
}

// Error is a classified failure. Msg is safe to show to a user.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Msg
	if s == "" {
		s = e.Kind.String()
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a bare Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds a classified error with a formatted user message.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. An already classified error
// keeps its kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Op: op, Msg: e.Msg, Err: e.Err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind of err, or zero when it is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return 0
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}

// ErrNotSignedIn is returned by every mutating operation without an identity.
var ErrNotSignedIn = &Error{Kind: Unauthenticated, Msg: "not signed in"}
