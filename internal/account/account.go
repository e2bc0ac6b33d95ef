// Package account wraps the identity service with the users/{uid} record
// that the rest of the client reads.
package account

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/conversation"
	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/presence"
)

// LocalState is the client-local data owned by a user. *store.DB
// implements it.
type LocalState interface {
	ForgetUser(userID string) error
}

type Service struct {
	gw       gateway.Gateway
	presence *presence.Tracker
	index    *conversation.Index
	local    LocalState
	logger   *zap.Logger
}

func NewService(gw gateway.Gateway, p *presence.Tracker, index *conversation.Index, local LocalState, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gw: gw, presence: p, index: index, local: local, logger: logger.Named("account")}
}

func userPath(uid string) string { return gateway.Join("users", uid) }

// SignUp creates the identity and its users/{uid} record. The new user is
// signed in on return.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (model.User, error) {
	const op = "sign up"
	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return model.User{}, model.Errorf(model.Invalid, op, "full name is required")
	}
	id, err := s.gw.SignUp(ctx, email, password, fullName)
	if err != nil {
		return model.User{}, err
	}
	if err := s.writeRecord(ctx, id); err != nil {
		return model.User{}, model.Wrap(model.Transient, op, err)
	}
	s.logger.Info("account created", zap.String("user_id", id.UID))
	return s.CurrentUser(ctx)
}

// SignIn authenticates and recreates the users/{uid} record if it is
// missing.
func (s *Service) SignIn(ctx context.Context, email, password string) (model.User, error) {
	const op = "sign in"
	id, err := s.gw.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return model.User{}, err
	}
	snap, err := s.gw.Get(ctx, userPath(id.UID))
	if err != nil {
		return model.User{}, model.Wrap(model.Transient, op, err)
	}
	if !snap.Exists() {
		s.logger.Warn("user record missing, recreating", zap.String("user_id", id.UID))
		if err := s.writeRecord(ctx, id); err != nil {
			return model.User{}, model.Wrap(model.Transient, op, err)
		}
	}
	return s.CurrentUser(ctx)
}

func (s *Service) writeRecord(ctx context.Context, id gateway.Identity) error {
	base := userPath(id.UID)
	return s.gw.Update(ctx, map[string]any{
		gateway.Join(base, "email"):     id.Email,
		gateway.Join(base, "fullName"):  id.DisplayName,
		gateway.Join(base, "createdAt"): gateway.ServerTimestamp(),
	})
}

// SignOut marks the user offline before dropping the identity. A failed
// presence write does not block signing out.
func (s *Service) SignOut(ctx context.Context) error {
	id, ok := s.gw.Current()
	if !ok {
		return nil
	}
	if s.presence != nil {
		if err := s.presence.MarkOffline(ctx, id.UID); err != nil {
			s.logger.Warn("mark offline on sign out", zap.Error(err))
		}
	}
	return s.gw.SignOut(ctx)
}

// CurrentUser reads the signed-in user's record.
func (s *Service) CurrentUser(ctx context.Context) (model.User, error) {
	const op = "current user"
	id, ok := s.gw.Current()
	if !ok {
		return model.User{}, model.ErrNotSignedIn
	}
	snap, err := s.gw.Get(ctx, userPath(id.UID))
	if err != nil {
		return model.User{}, model.Wrap(model.Transient, op, err)
	}
	if !snap.Exists() {
		return model.User{}, model.Errorf(model.NotFound, op, "user record missing")
	}
	return model.DecodeUser(id.UID, snap.Value)
}

// UpdateProfile changes the display name.
func (s *Service) UpdateProfile(ctx context.Context, fullName string) error {
	const op = "update profile"
	id, ok := s.gw.Current()
	if !ok {
		return model.ErrNotSignedIn
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return model.Errorf(model.Invalid, op, "full name is required")
	}
	if err := s.gw.Set(ctx, gateway.Join(userPath(id.UID), "fullName"), fullName); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	s.logger.Info("profile updated", zap.String("user_id", id.UID))
	return nil
}
