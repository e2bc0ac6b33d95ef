// Package api serves the daemon's control surface over gRPC. Every
// method carries a google.protobuf.Struct in each direction, so the
// service is described by hand instead of from generated stubs.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chatgifs.v1.Client"

// Unary method names, in the order they are registered.
const (
	MethodStatus              = "Status"
	MethodSignUp              = "SignUp"
	MethodSignIn              = "SignIn"
	MethodSignOut             = "SignOut"
	MethodDeleteAccount       = "DeleteAccount"
	MethodUpdateProfile       = "UpdateProfile"
	MethodSearchUsers         = "SearchUsers"
	MethodListFriends         = "ListFriends"
	MethodListFriendRequests  = "ListFriendRequests"
	MethodSendFriendRequest   = "SendFriendRequest"
	MethodAcceptFriendRequest = "AcceptFriendRequest"
	MethodRejectFriendRequest = "RejectFriendRequest"
	MethodRemoveFriend        = "RemoveFriend"
	MethodListConversations   = "ListConversations"
	MethodCreateConversation  = "CreateConversation"
	MethodDeleteConversation  = "DeleteConversation"
	MethodOpenConversation    = "OpenConversation"
	MethodCloseConversation   = "CloseConversation"
	MethodListMessages        = "ListMessages"
	MethodSendMessage         = "SendMessage"
	MethodCheckOnline         = "CheckOnline"
	MethodSearchGifs          = "SearchGifs"
	MethodTrendingGifs        = "TrendingGifs"
	MethodGetPreferences      = "GetPreferences"
	MethodSetPreference       = "SetPreference"
)

// MethodWatch is the server stream of daemon events.
const MethodWatch = "Watch"

// FullMethod returns the gRPC path of a method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type unary func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// ClientServer is the handler type registered for the service.
type ClientServer interface {
	handler(method string) unary
	Watch(in *structpb.Struct, stream grpc.ServerStream) error
}

var unaryMethods = []string{
	MethodStatus, MethodSignUp, MethodSignIn, MethodSignOut, MethodDeleteAccount,
	MethodUpdateProfile, MethodSearchUsers, MethodListFriends, MethodListFriendRequests,
	MethodSendFriendRequest, MethodAcceptFriendRequest, MethodRejectFriendRequest,
	MethodRemoveFriend, MethodListConversations, MethodCreateConversation,
	MethodDeleteConversation, MethodOpenConversation, MethodCloseConversation,
	MethodListMessages, MethodSendMessage, MethodCheckOnline, MethodSearchGifs,
	MethodTrendingGifs, MethodGetPreferences, MethodSetPreference,
}

// UnaryMethods lists the unary method names.
func UnaryMethods() []string {
	return append([]string(nil), unaryMethods...)
}

// WatchStreamDesc describes the Watch stream for clients opening it.
var WatchStreamDesc = grpc.StreamDesc{
	StreamName:    MethodWatch,
	ServerStreams: true,
}

// ServiceDesc is the grpc.ServiceDesc for chatgifs.v1.Client.
var ServiceDesc = buildServiceDesc()

func buildServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(unaryMethods))
	for _, name := range unaryMethods {
		methods = append(methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*ClientServer)(nil),
		Methods:     methods,
		Streams: []grpc.StreamDesc{{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		}},
		Metadata: "chatgifs/v1/client.proto",
	}
}

func unaryHandler(name string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		fn := srv.(ClientServer).handler(name)
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ClientServer).Watch(in, stream)
}

// Register adds the service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ClientServer) {
	s.RegisterService(&ServiceDesc, srv)
}
