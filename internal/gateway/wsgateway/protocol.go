// Package wsgateway carries the gateway operations over a websocket: a
// hub Server in front of a tree store, and a Client that implements
// gateway.Gateway for the daemon.
package wsgateway

import (
	"errors"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// RealtimePath is the websocket endpoint on the hub.
const RealtimePath = "/v1/realtime"

const (
	opGet            = "get"
	opSet            = "set"
	opUpdate         = "update"
	opDelete         = "delete"
	opSubscribe      = "subscribe"
	opUnsubscribe    = "unsubscribe"
	opSignIn         = "signin"
	opSignUp         = "signup"
	opSignOut        = "signout"
	opDeleteIdentity = "delete_identity"
	opNow            = "now"
	opResume         = "resume"
)

// Request is a client frame. Fields are used according to Op.
type Request struct {
	ID          uint64         `json:"id"`
	Op          string         `json:"op"`
	Path        string         `json:"path,omitempty"`
	Value       any            `json:"value,omitempty"`
	Updates     map[string]any `json:"updates,omitempty"`
	Email       string         `json:"email,omitempty"`
	Password    string         `json:"password,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Sub         string         `json:"sub,omitempty"`
	Token       string         `json:"token,omitempty"`
}

// Frame is a server frame: a Response when ID is set, otherwise a Push for
// subscription Sub. Token is set on sign in and sign up and resumes the
// identity on a later connection.
type Frame struct {
	ID       uint64     `json:"id,omitempty"`
	OK       bool       `json:"ok,omitempty"`
	Value    any        `json:"value,omitempty"`
	Exists   bool       `json:"exists,omitempty"`
	Identity *Identity  `json:"identity,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Token    string     `json:"token,omitempty"`

	Sub  string `json:"sub,omitempty"`
	Path string `json:"path,omitempty"`
}

// Identity mirrors gateway.Identity on the wire.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func errorBody(err error) *ErrorBody {
	kind := model.KindOf(err)
	if kind == 0 {
		kind = model.Transient
	}
	msg := err.Error()
	var me *model.Error
	if errors.As(err, &me) && me.Msg != "" {
		msg = me.Msg
	}
	return &ErrorBody{Kind: kind.String(), Message: msg}
}

func (e *ErrorBody) err(op string) error {
	kind := model.ParseKind(e.Kind)
	if kind == 0 {
		kind = model.Transient
	}
	return model.Errorf(kind, op, "%s", e.Message)
}
