// Package client talks to a running lockwatch bridge over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ppiankov/lockwatch/internal/bridge"
	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/subject"
)

const callTimeout = 5 * time.Second

// Client connects to a lockwatch bridge.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a client for addr. Extra options are appended after the
// insecure transport default.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lockwatch: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.conn.Invoke(ctx, method, in, out)
}

// ForegroundChanged reports id as the new foreground subject.
func (c *Client) ForegroundChanged(ctx context.Context, id subject.ID) error {
	return c.invoke(ctx, bridge.MethodForegroundChanged, wrapperspb.String(string(id)), new(emptypb.Empty))
}

// SetKeyguard reports the device lock screen state.
func (c *Client) SetKeyguard(ctx context.Context, locked bool) error {
	return c.invoke(ctx, bridge.MethodSetKeyguard, wrapperspb.Bool(locked), new(emptypb.Empty))
}

// Authorize opens a prompt for a virtual subject.
func (c *Client) Authorize(ctx context.Context, id subject.ID) (prompt.Prompt, bool, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, bridge.MethodAuthorize, wrapperspb.String(string(id)), out); err != nil {
		return prompt.Prompt{}, false, err
	}
	p, shown := bridge.DecodeAuthorization(out)
	return p, shown, nil
}

// Submit sends a secret for the visible prompt on id.
func (c *Client) Submit(ctx context.Context, id subject.ID, secret string) (prompt.Result, error) {
	in, err := bridge.EncodeSubmission(id, secret)
	if err != nil {
		return prompt.Result{}, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, bridge.MethodSubmit, in, out); err != nil {
		return prompt.Result{}, err
	}
	return bridge.DecodeResult(out), nil
}

// Dismiss hides the prompt for id and reports whether one was visible.
func (c *Client) Dismiss(ctx context.Context, id subject.ID) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, bridge.MethodDismiss, wrapperspb.String(string(id)), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// ResetSessions clears all session authentication.
func (c *Client) ResetSessions(ctx context.Context) error {
	return c.invoke(ctx, bridge.MethodResetSessions, new(emptypb.Empty), new(emptypb.Empty))
}

// Status fetches the instance summary.
func (c *Client) Status(ctx context.Context) (locker.Status, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, bridge.MethodStatus, new(emptypb.Empty), out); err != nil {
		return locker.Status{}, err
	}
	return bridge.DecodeStatus(out), nil
}

// Protected lists every subject with a credential.
func (c *Client) Protected(ctx context.Context) ([]subject.ID, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, bridge.MethodProtected, new(emptypb.Empty), out); err != nil {
		return nil, err
	}
	ids := make([]subject.ID, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		ids = append(ids, subject.ID(v.GetStringValue()))
	}
	return ids, nil
}

// WatchPrompts calls fn for every prompt instruction until ctx is done or
// the stream ends.
func (c *Client) WatchPrompts(ctx context.Context, fn func(bridge.Signal)) error {
	stream, err := c.conn.NewStream(ctx, &bridge.ServiceDesc.Streams[0], bridge.MethodWatchPrompts)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(new(emptypb.Empty)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(bridge.DecodeSignal(msg))
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
