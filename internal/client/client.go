package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wppsync/internal/api"
)

// Client wraps the gRPC connection to a profile's daemon.
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

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	return api.FromStruct(out, resp)
}

func (c *Client) Status(ctx context.Context) (api.StatusView, error) {
	var v api.StatusView
	err := c.call(ctx, api.MethodStatus, api.Empty{}, &v)
	return v, err
}

func (c *Client) ListChats(ctx context.Context, refresh bool) (api.ChatsView, error) {
	var v api.ChatsView
	err := c.call(ctx, api.MethodListChats, api.ListChatsRequest{Refresh: refresh}, &v)
	return v, err
}

func (c *Client) LoadMoreChats(ctx context.Context) (api.ChatsView, error) {
	var v api.ChatsView
	err := c.call(ctx, api.MethodLoadMoreChats, api.Empty{}, &v)
	return v, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) (api.ChatsView, error) {
	var v api.ChatsView
	err := c.call(ctx, api.MethodMarkRead, api.ConversationRequest{ConversationID: conversationID}, &v)
	return v, err
}

func (c *Client) OpenChat(ctx context.Context, conversationID string) (api.MessagesView, error) {
	var v api.MessagesView
	err := c.call(ctx, api.MethodOpenChat, api.ConversationRequest{ConversationID: conversationID}, &v)
	return v, err
}

func (c *Client) ListMessages(ctx context.Context) (api.MessagesView, error) {
	var v api.MessagesView
	err := c.call(ctx, api.MethodListMessages, api.Empty{}, &v)
	return v, err
}

func (c *Client) LoadMoreMessages(ctx context.Context) (api.MessagesView, error) {
	var v api.MessagesView
	err := c.call(ctx, api.MethodLoadMoreMessages, api.Empty{}, &v)
	return v, err
}

// SendText sends a message. On failure the returned view still names the
// provisional record and the failure kind when the daemon attached them.
func (c *Client) SendText(ctx context.Context, req api.SendTextRequest) (api.SendView, error) {
	var v api.SendView
	err := c.call(ctx, api.MethodSendText, req, &v)
	if err != nil {
		if failed, ok := api.SendFailure(err); ok {
			return failed, err
		}
	}
	return v, err
}

func (c *Client) Outbound(ctx context.Context, conversationID string, limit int) (api.OutboundView, error) {
	var v api.OutboundView
	err := c.call(ctx, api.MethodOutbound, api.OutboundRequest{ConversationID: conversationID, Limit: limit}, &v)
	return v, err
}

func (c *Client) UpdateToken(ctx context.Context, token string) (api.StatusView, error) {
	var v api.StatusView
	err := c.call(ctx, api.MethodUpdateToken, api.UpdateTokenRequest{Token: token}, &v)
	return v, err
}

func (c *Client) Reconnect(ctx context.Context) (api.StatusView, error) {
	var v api.StatusView
	err := c.call(ctx, api.MethodReconnect, api.Empty{}, &v)
	return v, err
}

// EventStream receives events from WatchEvents.
type EventStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (api.EventView, error) {
	var v api.EventView
	msg, err := s.stream.Recv()
	if err != nil {
		return v, err
	}
	err = api.FromStruct(msg, &v)
	return v, err
}

// Watch subscribes to daemon events whose kind starts with namespace.
// An empty namespace streams everything.
func (c *Client) Watch(ctx context.Context, namespace string) (*EventStream, error) {
	in, err := api.ToStruct(api.WatchRequest{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, &api.ConsoleServiceDesc.Streams[0], api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: x}, nil
}
