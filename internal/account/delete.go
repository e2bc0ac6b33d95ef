package account

import (
	"context"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// DeleteAccount removes everything the signed-in user owns in one update:
// their conversations with messages and index entries, both request
// collections plus the counterpart copies, their entry in every friend's
// map, and their user record. The identity and local state go last.
func (s *Service) DeleteAccount(ctx context.Context) error {
	const op = "delete account"
	id, ok := s.gw.Current()
	if !ok {
		return model.ErrNotSignedIn
	}
	me := id.UID

	updates := map[string]any{
		userPath(me):                          nil,
		gateway.Join("userConversations", me): nil,
		gateway.Join("friendRequests", me):    nil,
		gateway.Join("sentRequests", me):      nil,
	}

	convs, err := s.index.ListConversationsForUser(ctx, me)
	if err != nil {
		return err
	}
	for _, c := range convs {
		updates[gateway.Join("conversations", c.ID)] = nil
		updates[gateway.Join("messages", c.ID)] = nil
		for _, p := range c.Others(me) {
			updates[gateway.Join("userConversations", p, c.ID)] = nil
		}
	}

	if err := s.counterpartCopies(ctx, me, updates); err != nil {
		return model.Wrap(model.Transient, op, err)
	}

	snap, err := s.gw.Get(ctx, gateway.Join(userPath(me), "friends"))
	if err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	for friend := range model.DecodeFriends(snap.Value) {
		if friend != me {
			updates[gateway.Join("users", friend, "friends", me)] = nil
		}
	}

	if err := s.gw.Update(ctx, updates); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if err := s.gw.DeleteIdentity(ctx); err != nil {
		return err
	}
	if s.local != nil {
		if err := s.local.ForgetUser(me); err != nil {
			s.logger.Warn("forget local state", zap.String("user_id", me), zap.Error(err))
		}
	}
	s.logger.Info("account deleted", zap.String("user_id", me), zap.Int("conversations", len(convs)))
	return nil
}

// counterpartCopies adds the other side's copy of every request me is part
// of. Copies that fail to decode are left in place.
func (s *Service) counterpartCopies(ctx context.Context, me string, updates map[string]any) error {
	for _, side := range []struct {
		own, other string
	}{
		{"friendRequests", "sentRequests"},
		{"sentRequests", "friendRequests"},
	} {
		snap, err := s.gw.Get(ctx, gateway.Join(side.own, me))
		if err != nil {
			return err
		}
		for _, child := range snap.Children() {
			req, err := model.DecodeFriendRequest(child.Key(), child.Value)
			if err != nil {
				s.logger.Warn("skipping malformed request", zap.String("request_id", child.Key()), zap.Error(err))
				continue
			}
			if other := req.Counterpart(me); other != me && other != "" {
				updates[gateway.Join(side.other, other, req.ID)] = nil
			}
		}
	}
	return nil
}
