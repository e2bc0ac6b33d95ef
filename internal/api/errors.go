package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// toStatus maps a domain error onto a gRPC status. The model message is
// kept as the status message.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	msg := err.Error()
	var me *model.Error
	if errors.As(err, &me) && me.Msg != "" {
		msg = me.Msg
	}
	switch {
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, msg)
	}
	switch model.KindOf(err) {
	case model.Unauthenticated:
		return grpcstatus.Error(codes.Unauthenticated, msg)
	case model.NotFound:
		return grpcstatus.Error(codes.NotFound, msg)
	case model.Invalid:
		return grpcstatus.Error(codes.InvalidArgument, msg)
	case model.Transient:
		return grpcstatus.Error(codes.Unavailable, msg)
	}
	return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
}

// FromStatus turns a gRPC error back into a model error so callers can
// use errors.Is against model kinds.
func FromStatus(op string, err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok || err == nil {
		return err
	}
	var kind model.Kind
	switch st.Code() {
	case codes.Unauthenticated:
		kind = model.Unauthenticated
	case codes.NotFound:
		kind = model.NotFound
	case codes.InvalidArgument:
		kind = model.Invalid
	case codes.Unavailable, codes.DeadlineExceeded:
		kind = model.Transient
	default:
		return err
	}
	return model.Errorf(kind, op, "%s", st.Message())
}
