package treestore

import (
	"context"
	"sync"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// Session binds one signed-in identity to a shared Store. Each hub
// connection and each embedded daemon gets its own.
type Session struct {
	*Store

	mu        sync.Mutex
	current   gateway.Identity
	signedIn  bool
	listeners gateway.Listeners
}

var _ gateway.Gateway = (*Session)(nil)

// NewSession returns a signed-out session over s.
func (s *Store) NewSession() *Session {
	return &Session{Store: s}
}

func (s *Session) SignIn(ctx context.Context, email, password string) (gateway.Identity, error) {
	id, err := s.VerifyAccount(ctx, email, password)
	if err != nil {
		return gateway.Identity{}, err
	}
	s.setCurrent(id)
	return id, nil
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) (gateway.Identity, error) {
	id, err := s.CreateAccount(ctx, email, password, displayName)
	if err != nil {
		return gateway.Identity{}, err
	}
	s.setCurrent(id)
	return id, nil
}

func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	prev, was := s.current, s.signedIn
	s.current, s.signedIn = gateway.Identity{}, false
	s.mu.Unlock()
	if was {
		s.listeners.Notify(prev, false)
	}
	return nil
}

func (s *Session) Current() (gateway.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.signedIn
}

func (s *Session) OnIdentityChanged(fn func(gateway.Identity, bool)) func() {
	return s.listeners.Add(fn)
}

func (s *Session) DeleteIdentity(ctx context.Context) error {
	id, ok := s.Current()
	if !ok {
		return model.ErrNotSignedIn
	}
	if err := s.DeleteAccount(ctx, id.UID); err != nil {
		return err
	}
	return s.SignOut(ctx)
}

// Bind signs the session in as id without a password check. The hub uses
// it to resume an identity it already authenticated on another connection.
func (s *Session) Bind(id gateway.Identity) {
	s.setCurrent(id)
}

func (s *Session) setCurrent(id gateway.Identity) {
	s.mu.Lock()
	s.current, s.signedIn = id, true
	s.mu.Unlock()
	s.listeners.Notify(id, true)
}
