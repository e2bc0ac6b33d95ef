// Package client talks to a running chatgifsd over its Unix socket.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Taiwoayodeji/ChatGifs/internal/api"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Call invokes a unary method with args and returns the reply fields.
// Errors carry model kinds, see api.FromStatus.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return nil, api.FromStatus(method, err)
	}
	return out.AsMap(), nil
}

// Event is one daemon event from Watch.
type Event struct {
	Kind       string
	OccurredAt time.Time
	Payload    any
}

// Watch streams daemon events whose kind starts with prefix until ctx is
// done or the daemon goes away. The channel is closed on return.
func (c *Client) Watch(ctx context.Context, prefix string) (<-chan Event, <-chan error, error) {
	stream, err := c.conn.NewStream(ctx, &api.WatchStreamDesc, api.FullMethod(api.MethodWatch))
	if err != nil {
		return nil, nil, api.FromStatus(api.MethodWatch, err)
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return nil, nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, nil, api.FromStatus(api.MethodWatch, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, api.FromStatus(api.MethodWatch, err)
	}

	events := make(chan Event, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			out := new(structpb.Struct)
			if err := stream.RecvMsg(out); err != nil {
				if ctx.Err() == nil {
					errs <- api.FromStatus(api.MethodWatch, err)
				}
				return
			}
			f := out.GetFields()
			evt := Event{
				Kind:       f["kind"].GetStringValue(),
				OccurredAt: time.UnixMilli(int64(f["occurred_at_ms"].GetNumberValue())),
				Payload:    f["payload"].AsInterface(),
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
