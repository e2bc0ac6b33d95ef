package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const minPasswordLen = 6

type account struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Hash        []byte `json:"hash"`
}

func (a account) identity() gateway.Identity {
	return gateway.Identity{UID: a.UID, Email: a.Email, DisplayName: a.DisplayName}
}

func emailKey(email string) []byte {
	return []byte(accountPrefix + "email/" + strings.ToLower(strings.TrimSpace(email)))
}

func uidKey(uid string) []byte {
	return []byte(accountPrefix + "uid/" + uid)
}

// CreateAccount registers a new identity. Emails are case-insensitive.
func (s *Store) CreateAccount(ctx context.Context, email, password, displayName string) (gateway.Identity, error) {
	const op = "sign up"
	if err := ctx.Err(); err != nil {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return gateway.Identity{}, model.Errorf(model.Invalid, op, "invalid email address")
	}
	if len(password) < minPasswordLen {
		return gateway.Identity{}, model.Errorf(model.Invalid, op, "password must be at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return gateway.Identity{}, model.Wrap(model.Invalid, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, closer, err := s.db.Get(emailKey(email)); err == nil {
		closer.Close()
		return gateway.Identity{}, model.Errorf(model.Invalid, op, "email already in use")
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}

	acct := account{
		UID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		Email:       email,
		DisplayName: displayName,
		Hash:        hash,
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return gateway.Identity{}, model.Wrap(model.Invalid, op, err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(emailKey(email), []byte(acct.UID), nil); err != nil {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	if err := batch.Set(uidKey(acct.UID), raw, nil); err != nil {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	s.logger.Info("account created", zap.String("uid", acct.UID))
	return acct.identity(), nil
}

// VerifyAccount checks credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Store) VerifyAccount(ctx context.Context, email, password string) (gateway.Identity, error) {
	const op = "sign in"
	if err := ctx.Err(); err != nil {
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	acct, err := s.lookupByEmail(email)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return gateway.Identity{}, model.Errorf(model.Unauthenticated, op, "invalid email or password")
		}
		return gateway.Identity{}, model.Wrap(model.Transient, op, err)
	}
	if err := bcrypt.CompareHashAndPassword(acct.Hash, []byte(password)); err != nil {
		return gateway.Identity{}, model.Errorf(model.Unauthenticated, op, "invalid email or password")
	}
	return acct.identity(), nil
}

// DeleteAccount removes the identity. Tree data is left to the caller.
func (s *Store) DeleteAccount(ctx context.Context, uid string) error {
	const op = "delete account"
	if err := ctx.Err(); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, closer, err := s.db.Get(uidKey(uid))
	if errors.Is(err, pebble.ErrNotFound) {
		return model.Errorf(model.NotFound, op, "no account %s", uid)
	}
	if err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	var acct account
	decErr := json.Unmarshal(raw, &acct)
	closer.Close()
	if decErr != nil {
		return model.Wrap(model.Transient, op, decErr)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(emailKey(acct.Email), nil); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if err := batch.Delete(uidKey(uid), nil); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	s.logger.Info("account deleted", zap.String("uid", uid))
	return nil
}

func (s *Store) lookupByEmail(email string) (account, error) {
	uid, closer, err := s.db.Get(emailKey(email))
	if err != nil {
		return account{}, err
	}
	key := uidKey(string(uid))
	closer.Close()

	raw, closer, err := s.db.Get(key)
	if err != nil {
		return account{}, err
	}
	defer closer.Close()
	var acct account
	if err := json.Unmarshal(raw, &acct); err != nil {
		return account{}, err
	}
	return acct, nil
}
