package bridge

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lockwatch.v1.Bridge"

// Full method names.
const (
	MethodForegroundChanged = "/" + ServiceName + "/ForegroundChanged"
	MethodSetKeyguard       = "/" + ServiceName + "/SetKeyguard"
	MethodAuthorize         = "/" + ServiceName + "/Authorize"
	MethodSubmit            = "/" + ServiceName + "/Submit"
	MethodDismiss           = "/" + ServiceName + "/Dismiss"
	MethodResetSessions     = "/" + ServiceName + "/ResetSessions"
	MethodStatus            = "/" + ServiceName + "/Status"
	MethodProtected         = "/" + ServiceName + "/Protected"
	MethodWatchPrompts      = "/" + ServiceName + "/WatchPrompts"
)

// bridgeService is the handler type registered with grpc. Payloads are
// protobuf well-known types so no generated code is needed.
type bridgeService interface {
	ForegroundChanged(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SetKeyguard(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	Authorize(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dismiss(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	ResetSessions(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Protected(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	WatchPrompts(*emptypb.Empty, grpc.ServerStream) error
}

func unary[In proto.Message, Out proto.Message](method string, newIn func() In, call func(bridgeService, context.Context, In) (Out, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(bridgeService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(In))
		})
	}
}

func watchPromptsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(bridgeService).WatchPrompts(in, stream)
}

func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newBool() *wrapperspb.BoolValue     { return new(wrapperspb.BoolValue) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }
func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }

// ServiceDesc describes the bridge for grpc registration and clients.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*bridgeService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ForegroundChanged", Handler: unary(MethodForegroundChanged, newString, bridgeService.ForegroundChanged)},
		{MethodName: "SetKeyguard", Handler: unary(MethodSetKeyguard, newBool, bridgeService.SetKeyguard)},
		{MethodName: "Authorize", Handler: unary(MethodAuthorize, newString, bridgeService.Authorize)},
		{MethodName: "Submit", Handler: unary(MethodSubmit, newStruct, bridgeService.Submit)},
		{MethodName: "Dismiss", Handler: unary(MethodDismiss, newString, bridgeService.Dismiss)},
		{MethodName: "ResetSessions", Handler: unary(MethodResetSessions, newEmpty, bridgeService.ResetSessions)},
		{MethodName: "Status", Handler: unary(MethodStatus, newEmpty, bridgeService.Status)},
		{MethodName: "Protected", Handler: unary(MethodProtected, newEmpty, bridgeService.Protected)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchPrompts", Handler: watchPromptsHandler, ServerStreams: true},
	},
	Metadata: "lockwatch/v1/bridge.proto",
}
