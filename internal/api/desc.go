package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the console.
const ServiceName = "wppsync.v1.Console"

// Console method names.
const (
	MethodStatus           = "Status"
	MethodListChats        = "ListChats"
	MethodLoadMoreChats    = "LoadMoreChats"
	MethodMarkRead         = "MarkRead"
	MethodOpenChat         = "OpenChat"
	MethodListMessages     = "ListMessages"
	MethodLoadMoreMessages = "LoadMoreMessages"
	MethodSendText         = "SendText"
	MethodOutbound         = "Outbound"
	MethodUpdateToken      = "UpdateToken"
	MethodReconnect        = "Reconnect"
	MethodWatchEvents      = "WatchEvents"
)

// ConsoleServer is the server API for the console service. Requests and
// responses are google.protobuf.Struct values carrying the JSON views
// declared in views.go.
type ConsoleServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreChats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendText(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Outbound(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryCall func(ConsoleServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConsoleServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConsoleServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConsoleServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ConsoleServiceDesc is the grpc.ServiceDesc for the console service.
var ConsoleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsoleServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, ConsoleServer.Status),
		unary(MethodListChats, ConsoleServer.ListChats),
		unary(MethodLoadMoreChats, ConsoleServer.LoadMoreChats),
		unary(MethodMarkRead, ConsoleServer.MarkRead),
		unary(MethodOpenChat, ConsoleServer.OpenChat),
		unary(MethodListMessages, ConsoleServer.ListMessages),
		unary(MethodLoadMoreMessages, ConsoleServer.LoadMoreMessages),
		unary(MethodSendText, ConsoleServer.SendText),
		unary(MethodOutbound, ConsoleServer.Outbound),
		unary(MethodUpdateToken, ConsoleServer.UpdateToken),
		unary(MethodReconnect, ConsoleServer.Reconnect),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// RegisterConsoleServer registers srv on s.
func RegisterConsoleServer(s grpc.ServiceRegistrar, srv ConsoleServer) {
	s.RegisterService(&ConsoleServiceDesc, srv)
}

// FullMethod returns the invoke path of a console method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
