// Package social manages friend requests and the symmetric friends graph.
//
// Every request is stored twice, once in the receiver's inbox
// (friendRequests/{receiver}/{id}) and once in the sender's sent
// collection (sentRequests/{sender}/{id}). Both copies, and both friend
// entries on accept, change in a single multi-path update.
package social

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const (
	unknownName  = "Unknown User"
	unknownEmail = "No email"
	lookupLimit  = 8
)

// Manager operates on behalf of the gateway's current identity.
type Manager struct {
	gw     gateway.Gateway
	logger *zap.Logger
}

func NewManager(gw gateway.Gateway, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{gw: gw, logger: logger.Named("social")}
}

func (m *Manager) self() (string, error) {
	id, ok := m.gw.Current()
	if !ok {
		return "", model.ErrNotSignedIn
	}
	return id.UID, nil
}

func inboxPath(receiver, id string) string { return gateway.Join("friendRequests", receiver, id) }
func sentPath(sender, id string) string    { return gateway.Join("sentRequests", sender, id) }
func friendPath(uid, friend string) string { return gateway.Join("users", uid, "friends", friend) }

// SendFriendRequest creates a pending request from the caller to receiverID.
// The duplicate check is advisory: two clients racing can still create two
// pending requests for the same pair.
func (m *Manager) SendFriendRequest(ctx context.Context, receiverID string) (model.FriendRequest, error) {
	const op = "send friend request"
	me, err := m.self()
	if err != nil {
		return model.FriendRequest{}, err
	}
	if receiverID == "" || !gateway.ValidSegment(receiverID) {
		return model.FriendRequest{}, model.Errorf(model.Invalid, op, "invalid receiver")
	}
	if receiverID == me {
		return model.FriendRequest{}, model.Errorf(model.Invalid, op, "cannot befriend yourself")
	}

	var sender, receiver model.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		sender, err = m.user(gctx, me)
		return err
	})
	g.Go(func() (err error) {
		receiver, err = m.user(gctx, receiverID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.FriendRequest{}, model.Wrap(model.Transient, op, err)
	}
	if sender.IsFriend(receiverID) {
		return model.FriendRequest{}, model.Errorf(model.Invalid, op, "already friends")
	}

	existing, err := m.storedRequests(ctx, me)
	if err != nil {
		return model.FriendRequest{}, model.Wrap(model.Transient, op, err)
	}
	for _, r := range existing {
		if r.Status == model.RequestPending && r.Links(me, receiverID) {
			return model.FriendRequest{}, model.Errorf(model.Invalid, op, "a pending request already exists")
		}
	}

	req := model.FriendRequest{
		ID:            m.gw.NewKey(),
		SenderID:      me,
		ReceiverID:    receiverID,
		SenderName:    sender.FullName,
		ReceiverName:  receiver.FullName,
		SenderEmail:   sender.Email,
		ReceiverEmail: receiver.Email,
		Status:        model.RequestPending,
	}
	rec := req.Record()
	rec["timestamp"] = gateway.ServerTimestamp()
	err = m.gw.Update(ctx, map[string]any{
		inboxPath(receiverID, req.ID): rec,
		sentPath(me, req.ID):          rec,
	})
	if err != nil {
		return model.FriendRequest{}, model.Wrap(model.Transient, op, err)
	}
	m.logger.Info("friend request sent", zap.String("request_id", req.ID), zap.String("receiver", receiverID))
	req.Direction = model.Outgoing
	return req, nil
}

// AcceptFriendRequest accepts a pending request from the caller's inbox.
func (m *Manager) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return m.resolve(ctx, "accept friend request", requestID, model.RequestAccepted)
}

// RejectFriendRequest rejects a pending request. Both copies are kept.
func (m *Manager) RejectFriendRequest(ctx context.Context, requestID string) error {
	return m.resolve(ctx, "reject friend request", requestID, model.RequestRejected)
}

func (m *Manager) resolve(ctx context.Context, op, requestID string, status model.RequestStatus) error {
	me, err := m.self()
	if err != nil {
		return err
	}
	if !gateway.ValidSegment(requestID) {
		return model.Errorf(model.Invalid, op, "invalid request id")
	}
	snap, err := m.gw.Get(ctx, inboxPath(me, requestID))
	if err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	if !snap.Exists() {
		return model.Errorf(model.NotFound, op, "friend request %s not found", requestID)
	}
	req, err := model.DecodeFriendRequest(requestID, snap.Value)
	if err != nil {
		return model.Wrap(model.Invalid, op, err)
	}
	if req.Status != model.RequestPending {
		return model.Errorf(model.Invalid, op, "friend request already %s", req.Status)
	}
	req.ID = requestID
	req.Status = status

	updates := map[string]any{
		inboxPath(me, requestID):          req.Record(),
		sentPath(req.SenderID, requestID): req.Record(),
	}
	if status == model.RequestAccepted {
		addFriendEntries(updates, me, req.SenderID)
	}
	if err := m.gw.Update(ctx, updates); err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	m.logger.Info("friend request resolved", zap.String("request_id", requestID), zap.String("status", string(status)))
	return nil
}

func addFriendEntries(updates map[string]any, a, b string) {
	updates[friendPath(a, b)] = map[string]any{"id": b, "createdAt": gateway.ServerTimestamp()}
	updates[friendPath(b, a)] = map[string]any{"id": a, "createdAt": gateway.ServerTimestamp()}
}

// RemoveFriend removes both directions. Removing an absent friend succeeds.
func (m *Manager) RemoveFriend(ctx context.Context, friendID string) error {
	const op = "remove friend"
	me, err := m.self()
	if err != nil {
		return err
	}
	if !gateway.ValidSegment(friendID) {
		return model.Errorf(model.Invalid, op, "invalid friend id")
	}
	err = m.gw.Update(ctx, map[string]any{
		friendPath(me, friendID): nil,
		friendPath(friendID, me): nil,
	})
	if err != nil {
		return model.Wrap(model.Transient, op, err)
	}
	m.logger.Info("friend removed", zap.String("friend", friendID))
	return nil
}

// ListFriendRequests merges the caller's inbox and sent collections,
// keeps pending requests only, and resolves the other party's name and
// email with a live lookup. Newest first.
func (m *Manager) ListFriendRequests(ctx context.Context) ([]model.FriendRequest, error) {
	const op = "list friend requests"
	me, err := m.self()
	if err != nil {
		return nil, err
	}
	all, err := m.storedRequests(ctx, me)
	if err != nil {
		return nil, model.Wrap(model.Transient, op, err)
	}

	pending := make([]model.FriendRequest, 0, len(all))
	for _, r := range all {
		if r.Status == model.RequestPending {
			pending = append(pending, r)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)
	for i := range pending {
		r := &pending[i]
		g.Go(func() error {
			name, email := unknownName, unknownEmail
			u, err := m.user(gctx, r.Counterpart(me))
			switch {
			case err == nil:
				if u.FullName != "" {
					name = u.FullName
				}
				if u.Email != "" {
					email = u.Email
				}
			case model.KindOf(err) == model.Transient:
				return err
			}
			if r.Direction == model.Incoming {
				r.SenderName, r.SenderEmail = name, email
			} else {
				r.ReceiverName, r.ReceiverEmail = name, email
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.Wrap(model.Transient, op, err)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp > pending[j].Timestamp
		}
		return pending[i].ID < pending[j].ID
	})
	return pending, nil
}

// storedRequests returns every decodable request in both of uid's
// collections, with Direction set. Malformed copies are skipped.
func (m *Manager) storedRequests(ctx context.Context, uid string) ([]model.FriendRequest, error) {
	var inbox, sent gateway.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		inbox, err = m.gw.Get(gctx, gateway.Join("friendRequests", uid))
		return err
	})
	g.Go(func() (err error) {
		sent, err = m.gw.Get(gctx, gateway.Join("sentRequests", uid))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.FriendRequest
	collect := func(snap gateway.Snapshot, dir model.Direction) {
		for _, child := range snap.Children() {
			r, err := model.DecodeFriendRequest(child.Key(), child.Value)
			if err != nil {
				m.logger.Warn("skipping malformed friend request", zap.String("path", child.Path), zap.Error(err))
				continue
			}
			r.Direction = dir
			out = append(out, r)
		}
	}
	collect(inbox, model.Incoming)
	collect(sent, model.Outgoing)
	return out, nil
}

// ListFriends expands the caller's friends map into user records sorted by
// name. Friends whose record is gone are skipped.
func (m *Manager) ListFriends(ctx context.Context) ([]model.User, error) {
	const op = "list friends"
	me, err := m.self()
	if err != nil {
		return nil, err
	}
	snap, err := m.gw.Get(ctx, gateway.Join("users", me, "friends"))
	if err != nil {
		return nil, model.Wrap(model.Transient, op, err)
	}
	kids := snap.Children()
	found := make([]*model.User, len(kids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)
	for i, child := range kids {
		g.Go(func() error {
			u, err := m.user(gctx, child.Key())
			switch model.KindOf(err) {
			case 0:
				found[i] = &u
			case model.Transient:
				return err
			default:
				m.logger.Debug("skipping friend", zap.String("friend", child.Key()), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, model.Wrap(model.Transient, op, err)
	}

	out := make([]model.User, 0, len(found))
	for _, u := range found {
		if u != nil {
			out = append(out, *u)
		}
	}
	sortUsers(out)
	return out, nil
}

// SearchUsers matches term case-insensitively against email and name,
// excluding the caller. A blank term matches nobody.
func (m *Manager) SearchUsers(ctx context.Context, term string) ([]model.User, error) {
	const op = "search users"
	me, err := m.self()
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	snap, err := m.gw.Get(ctx, "users")
	if err != nil {
		return nil, model.Wrap(model.Transient, op, err)
	}
	var out []model.User
	for _, child := range snap.Children() {
		if child.Key() == me {
			continue
		}
		u, err := model.DecodeUser(child.Key(), child.Value)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(u.Email), term) || strings.Contains(strings.ToLower(u.FullName), term) {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (m *Manager) user(ctx context.Context, uid string) (model.User, error) {
	snap, err := m.gw.Get(ctx, gateway.Join("users", uid))
	if err != nil {
		return model.User{}, model.Wrap(model.Transient, "lookup user", err)
	}
	if !snap.Exists() {
		return model.User{}, model.Errorf(model.NotFound, "lookup user", "user %s not found", uid)
	}
	return model.DecodeUser(uid, snap.Value)
}

func sortUsers(us []model.User) {
	sort.Slice(us, func(i, j int) bool {
		a, b := strings.ToLower(us[i].FullName), strings.ToLower(us[j].FullName)
		if a != b {
			return a < b
		}
		return us[i].ID < us[j].ID
	})
}
