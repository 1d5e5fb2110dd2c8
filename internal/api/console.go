package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/chatlist"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/outbox"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/timeline"
)

const defaultOutboundLimit = 20

// Channel is the live connection as seen by the console.
type Channel interface {
	State() status.State
	Connect(ctx context.Context, endpoint string) error
	Disconnect()
	UpdateCredential(ctx context.Context, token string) error
}

// ChatList is the account's conversation list.
type ChatList interface {
	AccountID() string
	State() chatlist.State
	Refresh(ctx context.Context) error
	LoadMore(ctx context.Context) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Timeline is the open conversation.
type Timeline interface {
	State() timeline.State
	Open(ctx context.Context, conversationID string) error
	LoadMore(ctx context.Context) error
}

// Sender submits outbound messages.
type Sender interface {
	SendText(ctx context.Context, accountID, conversationID, to, body string) (outbox.Outcome, error)
	Outbound(conversationID string, limit int) ([]store.OutboxEntry, error)
}

// ModeSource reports how the lists are being kept fresh.
type ModeSource interface {
	Mode() intsync.Mode
}

// Checkpoints reports persisted sync progress.
type Checkpoints interface {
	LastConnected() (time.Time, error)
}

// Deps are the components a Console serves. Engine and Checkpoints may be nil.
type Deps struct {
	Profile     string
	LiveURL     string
	Channel     Channel
	Chats       ChatList
	Timeline    Timeline
	Sender      Sender
	Engine      ModeSource
	Checkpoints Checkpoints
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// Console implements ConsoleServer.
type Console struct {
	Deps
	startedAt time.Time
}

// NewConsole creates the console service.
func NewConsole(d Deps) *Console {
	return &Console{Deps: d, startedAt: time.Now()}
}

var _ ConsoleServer = (*Console)(nil)

func (c *Console) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(c.status())
}

func (c *Console) status() StatusView {
	v := StatusView{
		Profile:   c.Profile,
		State:     string(c.Channel.State()),
		AccountID: c.Chats.AccountID(),
		Chats:     len(c.Chats.State().Conversations),
		UptimeMs:  time.Since(c.startedAt).Milliseconds(),
	}
	if c.Engine != nil {
		v.Mode = string(c.Engine.Mode())
	}
	if c.Checkpoints != nil {
		if at, err := c.Checkpoints.LastConnected(); err == nil && !at.IsZero() {
			v.LastConnected = &at
		}
	}
	v.ActiveConversation = c.Timeline.State().ConversationID
	return v
}

func (c *Console) ListChats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListChatsRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Refresh || c.Chats.State().Phase == chatlist.PhaseIdle {
		if err := c.Chats.Refresh(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	return ToStruct(chatsView(c.Chats.State()))
}

func (c *Console) LoadMoreChats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.Chats.LoadMore(ctx); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(chatsView(c.Chats.State()))
}

func (c *Console) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := conversationRequest(in)
	if err != nil {
		return nil, err
	}
	if err := c.Chats.MarkRead(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(chatsView(c.Chats.State()))
}

func (c *Console) OpenChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := conversationRequest(in)
	if err != nil {
		return nil, err
	}
	if err := c.Timeline.Open(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(messagesView(c.Timeline.State()))
}

func (c *Console) ListMessages(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return ToStruct(messagesView(c.Timeline.State()))
}

func (c *Console) LoadMoreMessages(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.Timeline.LoadMore(ctx); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(messagesView(c.Timeline.State()))
}

func (c *Console) SendText(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendTextRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" || req.To == "" || req.Body == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId, to and body are required")
	}
	accountID := req.AccountID
	if accountID == "" {
		accountID = c.Chats.AccountID()
	}
	out, err := c.Sender.SendText(ctx, accountID, req.ConversationID, req.To, req.Body)
	if err != nil {
		return nil, sendFailure(out, err)
	}
	return ToStruct(SendView{LocalID: out.LocalID, ServerMessageID: out.Sent.ServerMessageID})
}

func (c *Console) Outbound(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req OutboundRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	if req.Limit <= 0 {
		req.Limit = defaultOutboundLimit
	}
	entries, err := c.Sender.Outbound(req.ConversationID, req.Limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read send journal: %v", err)
	}
	return ToStruct(OutboundView{ConversationID: req.ConversationID, Entries: outboundEntries(entries)})
}

func (c *Console) UpdateToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UpdateTokenRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	c.Logger.Info("credential updated over control socket")
	if err := c.Channel.UpdateCredential(ctx, req.Token); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(c.status())
}

func (c *Console) Reconnect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	c.Channel.Disconnect()
	if err := c.Channel.Connect(ctx, c.LiveURL); err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(c.status())
}

// WatchEvents streams bus events under the requested namespace until the
// client goes away.
func (c *Console) WatchEvents(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	ch, unsub := c.Bus.Subscribe(req.Namespace, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			msg, err := ToStruct(EventView{
				EventID:          uuid.New().String(),
				Profile:          c.Profile,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			})
			if err != nil {
				c.Logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func decode(in *structpb.Struct, v any) error {
	if err := FromStruct(in, v); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func conversationRequest(in *structpb.Struct) (ConversationRequest, error) {
	var req ConversationRequest
	if err := decode(in, &req); err != nil {
		return req, err
	}
	if req.ConversationID == "" {
		return req, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	return req, nil
}

func chatsView(s chatlist.State) ChatsView {
	v := ChatsView{
		Phase:         string(s.Phase),
		Conversations: s.Conversations,
		Pagination:    s.Pagination,
		HasMore:       s.Pagination.HasMore(),
	}
	if v.Conversations == nil {
		v.Conversations = []model.ConversationSummary{}
	}
	if s.LastErr != nil {
		v.Error = s.LastErr.Error()
	}
	return v
}

func messagesView(s timeline.State) MessagesView {
	v := MessagesView{
		ConversationID: s.ConversationID,
		Phase:          string(s.Phase),
		Messages:       s.Messages,
		Pagination:     s.Pagination,
		HasMore:        s.Pagination.HasMore(),
	}
	if v.Messages == nil {
		v.Messages = []model.MessageRecord{}
	}
	if s.LastErr != nil {
		v.Error = s.LastErr.Error()
	}
	return v
}
