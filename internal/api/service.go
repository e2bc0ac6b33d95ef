package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Taiwoayodeji/ChatGifs/internal/account"
	"github.com/Taiwoayodeji/ChatGifs/internal/bus"
	"github.com/Taiwoayodeji/ChatGifs/internal/coordinator"
	"github.com/Taiwoayodeji/ChatGifs/internal/gif"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
	"github.com/Taiwoayodeji/ChatGifs/internal/outbox"
	"github.com/Taiwoayodeji/ChatGifs/internal/social"
	"github.com/Taiwoayodeji/ChatGifs/internal/status"
	"github.com/Taiwoayodeji/ChatGifs/internal/store"
)

// Deps are the daemon components the service exposes.
type Deps struct {
	Profile     string
	Coordinator *coordinator.Coordinator
	Account     *account.Service
	Social      *social.Manager
	Outbox      *outbox.Sender
	Gifs        *gif.Client
	DB          *store.DB
	Status      *status.Machine
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Service implements chatgifs.v1.Client.
type Service struct {
	Deps
	startedAt time.Time
	handlers  map[string]unary
}

var _ ClientServer = (*Service)(nil)

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("api")
	s := &Service{Deps: deps, startedAt: time.Now()}
	s.handlers = map[string]unary{
		MethodStatus:              s.status,
		MethodSignUp:              s.signUp,
		MethodSignIn:              s.signIn,
		MethodSignOut:             s.signOut,
		MethodDeleteAccount:       s.deleteAccount,
		MethodUpdateProfile:       s.updateProfile,
		MethodSearchUsers:         s.searchUsers,
		MethodListFriends:         s.listFriends,
		MethodListFriendRequests:  s.listFriendRequests,
		MethodSendFriendRequest:   s.sendFriendRequest,
		MethodAcceptFriendRequest: s.acceptFriendRequest,
		MethodRejectFriendRequest: s.rejectFriendRequest,
		MethodRemoveFriend:        s.removeFriend,
		MethodListConversations:   s.listConversations,
		MethodCreateConversation:  s.createConversation,
		MethodDeleteConversation:  s.deleteConversation,
		MethodOpenConversation:    s.openConversation,
		MethodCloseConversation:   s.closeConversation,
		MethodListMessages:        s.listMessages,
		MethodSendMessage:         s.sendMessage,
		MethodCheckOnline:         s.checkOnline,
		MethodSearchGifs:          s.searchGifs,
		MethodTrendingGifs:        s.trendingGifs,
		MethodGetPreferences:      s.getPreferences,
		MethodSetPreference:       s.setPreference,
	}
	return s
}

func (s *Service) handler(method string) unary {
	fn := s.handlers[method]
	return func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		out, err := fn(ctx, in)
		if err != nil {
			s.Logger.Debug("call failed", zap.String("method", method), zap.Error(err))
			return nil, toStatus(method, err)
		}
		return out, nil
	}
}

func (s *Service) status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fields := map[string]any{
		"profile":   s.Profile,
		"status":    string(s.Status.Current()),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.DB != nil {
		if n, err := s.DB.CountOutbox(); err == nil {
			fields["outbox_queued"] = n
		}
	}
	if s.Coordinator.UserID() != "" {
		if u, err := s.Account.CurrentUser(ctx); err == nil {
			fields["user"] = userFields(u, true)
		}
		fields["active_conversation"] = s.Coordinator.Active()
		fields["friends"] = len(s.Coordinator.Friends())
		fields["requests"] = len(s.Coordinator.Requests())
		fields["conversations"] = len(s.Coordinator.Conversations())
	}
	return reply(fields)
}

func (s *Service) signUp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.Account.SignUp(ctx, str(in, "email"), str(in, "password"), str(in, "full_name"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"user": userFields(u, true)})
}

func (s *Service) signIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.Account.SignIn(ctx, str(in, "email"), str(in, "password"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"user": userFields(u, true)})
}

func (s *Service) signOut(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Account.SignOut(ctx); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) deleteAccount(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Account.DeleteAccount(ctx); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) updateProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Account.UpdateProfile(ctx, str(in, "full_name")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) searchUsers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	users, err := s.Social.SearchUsers(ctx, str(in, "term"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"users": listOf(users, func(u model.User) map[string]any {
		return userFields(u, false)
	})})
}

func (s *Service) listFriends(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.reloadSocial(ctx); err != nil {
		return nil, err
	}
	return reply(map[string]any{"friends": listOf(s.Coordinator.Friends(), func(u model.User) map[string]any {
		return userFields(u, s.Coordinator.Online(u.ID))
	})})
}

func (s *Service) listFriendRequests(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.reloadSocial(ctx); err != nil {
		return nil, err
	}
	return reply(map[string]any{"requests": listOf(s.Coordinator.Requests(), requestFields)})
}

func (s *Service) sendFriendRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.Coordinator.SendFriendRequest(ctx, str(in, "receiver_id"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"request": requestFields(req)})
}

func (s *Service) acceptFriendRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Coordinator.AcceptFriendRequest(ctx, str(in, "request_id")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) rejectFriendRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Coordinator.RejectFriendRequest(ctx, str(in, "request_id")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) removeFriend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Coordinator.RemoveFriend(ctx, str(in, "friend_id")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) listConversations(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if err := s.signedIn(); err != nil {
		return nil, err
	}
	return reply(map[string]any{"conversations": listOf(s.Coordinator.Conversations(), summaryFields)})
}

func (s *Service) createConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	conv, err := s.Coordinator.CreateConversation(ctx, strList(in, "participants"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"conversation": conversationFields(conv)})
}

func (s *Service) deleteConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Coordinator.DeleteConversation(ctx, str(in, "conversation_id")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) openConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Coordinator.OpenConversation(ctx, str(in, "conversation_id")); err != nil {
		return nil, err
	}
	return reply(nil)
}

func (s *Service) closeConversation(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.Coordinator.CloseConversation()
	return reply(nil)
}

// listMessages returns the cached messages of a conversation. Only the
// open conversation is kept current.
func (s *Service) listMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.signedIn(); err != nil {
		return nil, err
	}
	cid := str(in, "conversation_id")
	if cid == "" {
		cid = s.Coordinator.Active()
	}
	if cid == "" {
		return nil, model.Errorf(model.Invalid, MethodListMessages, "no conversation given and none open")
	}
	return reply(map[string]any{
		"conversation_id": cid,
		"open":            cid == s.Coordinator.Active(),
		"messages":        listOf(s.Coordinator.Messages(cid), messageFields),
	})
}

// sendMessage queues the message in the outbox; delivery is reported on
// the Watch stream.
func (s *Service) sendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	typ := model.MessageType(str(in, "type"))
	if typ == "" {
		typ = model.MessageText
	}
	id, err := s.Outbox.Queue(str(in, "conversation_id"), str(in, "content"), typ)
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"client_msg_id": id})
}

func (s *Service) checkOnline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid := str(in, "user_id")
	if uid == "" {
		return nil, model.Errorf(model.Invalid, MethodCheckOnline, "user_id is required")
	}
	return reply(map[string]any{"user_id": uid, "online": s.Coordinator.CheckOnline(ctx, uid)})
}

func (s *Service) searchGifs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	gifs, err := s.Gifs.Search(ctx, str(in, "query"))
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"gifs": listOf(gifs, gifFields)})
}

func (s *Service) trendingGifs(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	gifs, err := s.Gifs.Trending(ctx)
	if err != nil {
		return nil, err
	}
	return reply(map[string]any{"gifs": listOf(gifs, gifFields)})
}

// reloadSocial refreshes friends and requests before they are listed; they
// are not polled. A failed reload serves the cached lists.
func (s *Service) reloadSocial(ctx context.Context) error {
	if err := s.signedIn(); err != nil {
		return err
	}
	if err := s.Coordinator.ReloadSocial(ctx); err != nil {
		s.Logger.Warn("social reload failed, serving cached lists", zap.Error(err))
	}
	return nil
}

func (s *Service) signedIn() error {
	if s.Coordinator.UserID() == "" {
		return model.ErrNotSignedIn
	}
	return nil
}

// Watch streams bus events whose kind starts with the "prefix" field, or
// every event when it is empty.
func (s *Service) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.Bus.Subscribe(str(in, "prefix"), 256)
	defer unsub()
	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			out := &structpb.Struct{Fields: map[string]*structpb.Value{
				"kind":           structpb.NewStringValue(evt.Kind),
				"occurred_at_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
				"profile":        structpb.NewStringValue(s.Profile),
				"payload":        eventPayload(evt.Payload),
			}}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
