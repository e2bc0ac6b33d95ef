package social

import (
	"context"

	"go.uber.org/zap"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// settle picks the status both copies should carry. A terminal state on
// either side wins, and accepted wins over rejected.
func settle(a, b model.RequestStatus) model.RequestStatus {
	switch {
	case a == model.RequestAccepted || b == model.RequestAccepted:
		return model.RequestAccepted
	case a == model.RequestRejected || b == model.RequestRejected:
		return model.RequestRejected
	default:
		return model.RequestPending
	}
}

// Repair makes the two copies of a request agree and, when only one copy
// had been accepted, restores missing friend entries. It reports whether anything
// was written. The caller must be the sender or the receiver.
func (m *Manager) Repair(ctx context.Context, requestID string) (bool, error) {
	const op = "repair friend request"
	me, err := m.self()
	if err != nil {
		return false, err
	}
	if !gateway.ValidSegment(requestID) {
		return false, model.Errorf(model.Invalid, op, "invalid request id")
	}

	var seed model.FriendRequest
	found := false
	for _, p := range []string{inboxPath(me, requestID), sentPath(me, requestID)} {
		snap, err := m.gw.Get(ctx, p)
		if err != nil {
			return false, model.Wrap(model.Transient, op, err)
		}
		if !snap.Exists() {
			continue
		}
		if seed, err = model.DecodeFriendRequest(requestID, snap.Value); err == nil {
			found = true
			break
		}
	}
	if !found {
		return false, model.Errorf(model.NotFound, op, "friend request %s not found", requestID)
	}

	inbox, sent, err := m.copies(ctx, seed.ReceiverID, seed.SenderID, requestID)
	if err != nil {
		return false, model.Wrap(model.Transient, op, err)
	}
	want := settle(statusOf(inbox), statusOf(sent))

	updates := make(map[string]any)
	rec := seed
	rec.ID = requestID
	rec.Status = want
	if inbox == nil || inbox.Status != want {
		updates[inboxPath(seed.ReceiverID, requestID)] = rec.Record()
	}
	if sent == nil || sent.Status != want {
		updates[sentPath(seed.SenderID, requestID)] = rec.Record()
	}
	// Friend entries are restored only for a half-applied accept. Two
	// accepted copies with no entries is a removed friendship.
	if want == model.RequestAccepted && statusOf(inbox) != statusOf(sent) {
		ok, err := m.friendsLinked(ctx, seed.SenderID, seed.ReceiverID)
		if err != nil {
			return false, model.Wrap(model.Transient, op, err)
		}
		if !ok {
			addFriendEntries(updates, seed.SenderID, seed.ReceiverID)
		}
	}
	if len(updates) == 0 {
		return false, nil
	}
	if err := m.gw.Update(ctx, updates); err != nil {
		return false, model.Wrap(model.Transient, op, err)
	}
	m.logger.Warn("repaired friend request", zap.String("request_id", requestID), zap.String("status", string(want)), zap.Int("paths", len(updates)))
	return true, nil
}

// ReconcileRequests runs Repair over every request visible to the caller
// and returns how many needed a write.
func (m *Manager) ReconcileRequests(ctx context.Context) (int, error) {
	me, err := m.self()
	if err != nil {
		return 0, err
	}
	all, err := m.storedRequests(ctx, me)
	if err != nil {
		return 0, model.Wrap(model.Transient, "reconcile friend requests", err)
	}
	seen := make(map[string]bool, len(all))
	repaired := 0
	for _, r := range all {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		changed, err := m.Repair(ctx, r.ID)
		if err != nil {
			if model.IsTransient(err) {
				return repaired, err
			}
			m.logger.Warn("friend request repair skipped", zap.String("request_id", r.ID), zap.Error(err))
			continue
		}
		if changed {
			repaired++
		}
	}
	return repaired, nil
}

func (m *Manager) copies(ctx context.Context, receiver, sender, id string) (inbox, sent *model.FriendRequest, err error) {
	read := func(p string) (*model.FriendRequest, error) {
		snap, err := m.gw.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		if !snap.Exists() {
			return nil, nil
		}
		r, err := model.DecodeFriendRequest(id, snap.Value)
		if err != nil {
			return nil, nil
		}
		return &r, nil
	}
	if inbox, err = read(inboxPath(receiver, id)); err != nil {
		return nil, nil, err
	}
	if sent, err = read(sentPath(sender, id)); err != nil {
		return nil, nil, err
	}
	return inbox, sent, nil
}

func (m *Manager) friendsLinked(ctx context.Context, a, b string) (bool, error) {
	ab, err := m.gw.Get(ctx, friendPath(a, b))
	if err != nil {
		return false, err
	}
	ba, err := m.gw.Get(ctx, friendPath(b, a))
	if err != nil {
		return false, err
	}
	return ab.Exists() && ba.Exists(), nil
}

func statusOf(r *model.FriendRequest) model.RequestStatus {
	if r == nil {
		return ""
	}
	return r.Status
}
