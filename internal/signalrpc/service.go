// Package signalrpc accepts strategy signals and marks over gRPC.
//
// Messages are google.protobuf.Struct values carrying the same JSON shapes as the
// HTTP API, so strategies in any language can call it without generated stubs.
package signalrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "execution.v1.SignalService"

	SubmitSignalMethod = "/" + ServiceName + "/SubmitSignal"
	PushMarksMethod    = "/" + ServiceName + "/PushMarks"
)

// SignalServer is the server API of the signal service.
type SignalServer interface {
	SubmitSignal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PushMarks(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the signal service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SignalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitSignal", Handler: submitSignalHandler},
		{MethodName: "PushMarks", Handler: pushMarksHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "execution/v1/signal",
}

// Register attaches srv to s.
func Register(s *grpc.Server, srv SignalServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitSignalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignalServer).SubmitSignal(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitSignalMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SignalServer).SubmitSignal(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func pushMarksHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SignalServer).PushMarks(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMarksMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SignalServer).PushMarks(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
