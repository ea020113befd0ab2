// Package bridge is the gRPC surface between lockwatch and the platform
// that observes foreground windows and draws the lock prompt.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// Backend is what the bridge needs from a running instance.
type Backend interface {
	Authorize(ctx context.Context, id subject.ID) (prompt.Prompt, bool, error)
	Submit(ctx context.Context, id subject.ID, secret string) (prompt.Result, error)
	Dismiss(ctx context.Context, id subject.ID) bool
	ResetSessions(ctx context.Context, reason string) error
	Status(ctx context.Context) (locker.Status, error)
	Protected(ctx context.Context) ([]subject.ID, error)
}

// Server serves the bridge service.
type Server struct {
	backend Backend
	hub     *Hub
	logger  *slog.Logger
	grpc    *grpc.Server
}

// NewServer registers the bridge on a new grpc.Server.
func NewServer(backend Backend, hub *Hub, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		hub:     hub,
		logger:  logger,
		grpc:    grpc.NewServer(opts...),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// ListenAndServe listens on addr and serves until stopped.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis. Blocks until stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// GracefulStop drains in-flight calls and closes watcher streams.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

// Stop closes every connection immediately.
func (s *Server) Stop() {
	s.grpc.Stop()
}

func parseSubject(raw string) (subject.ID, error) {
	id := subject.ID(raw)
	if err := subject.Validate(id); err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	return id, nil
}

// ForegroundChanged reports the new foreground subject.
func (s *Server) ForegroundChanged(_ context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id, err := parseSubject(in.GetValue())
	if err != nil {
		return nil, err
	}
	s.hub.Publish(id)
	return &emptypb.Empty{}, nil
}

// SetKeyguard reports whether the device lock screen is showing.
func (s *Server) SetKeyguard(_ context.Context, in *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	s.hub.SetKeyguard(in.GetValue())
	return &emptypb.Empty{}, nil
}

// Authorize opens a prompt for a virtual subject.
func (s *Server) Authorize(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	id, err := parseSubject(in.GetValue())
	if err != nil {
		return nil, err
	}
	p, shown, err := s.backend.Authorize(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeAuthorization(p, shown)
}

// Submit checks a secret against the visible prompt.
func (s *Server) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, secret, err := decodeSubmission(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.backend.Submit(ctx, id, secret)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeResult(res)
}

// Dismiss hides the prompt for a subject.
func (s *Server) Dismiss(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id, err := parseSubject(in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(s.backend.Dismiss(ctx, id)), nil
}

// ResetSessions clears all session authentication.
func (s *Server) ResetSessions(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.backend.ResetSessions(ctx, "user request"); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Status reports the instance summary.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.backend.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStatus(st)
}

// Protected lists every subject with a credential.
func (s *Server) Protected(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ids, err := s.backend.Protected(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		values = append(values, structpb.NewStringValue(string(id)))
	}
	return &structpb.ListValue{Values: values}, nil
}

// WatchPrompts streams prompt instructions until the client goes away.
// A prompt already visible is replayed first so a reconnecting surface can
// redraw it.
func (s *Server) WatchPrompts(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	signals, cancel := s.hub.Subscribe()
	defer cancel()

	if st, err := s.backend.Status(ctx); err == nil && st.Prompt != nil {
		if err := sendSignal(stream, Signal{Kind: SignalShow, Prompt: *st.Prompt, Subject: st.Prompt.Subject}); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			if err := sendSignal(stream, sig); err != nil {
				return err
			}
		}
	}
}

func sendSignal(stream grpc.ServerStream, sig Signal) error {
	msg, err := EncodeSignal(sig)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(msg)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, subject.ErrInvalid):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, prompt.ErrNoPrompt):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, prompt.ErrCheckInProgress), errors.Is(err, prompt.ErrPromptClosed):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, locker.ErrMandatoryMissing):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
