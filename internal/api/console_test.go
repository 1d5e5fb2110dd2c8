package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/channel"
	"github.com/matheus3301/wppsync/internal/chatlist"
	"github.com/matheus3301/wppsync/internal/history"
	"github.com/matheus3301/wppsync/internal/model"
	"github.com/matheus3301/wppsync/internal/outbox"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/timeline"
)

type fakeChannel struct {
	state     status.State
	token     string
	connected []string
	connErr   error
}

func (f *fakeChannel) State() status.State { return f.state }
func (f *fakeChannel) Disconnect()         { f.state = status.Disconnected }
func (f *fakeChannel) Connect(_ context.Context, endpoint string) error {
	f.connected = append(f.connected, endpoint)
	if f.connErr != nil {
		return f.connErr
	}
	f.state = status.Connected
	return nil
}
func (f *fakeChannel) UpdateCredential(_ context.Context, token string) error {
	f.token = token
	return nil
}

type fakeChats struct {
	state      chatlist.State
	refreshes  int
	refreshErr error
	read       []string
}

func (f *fakeChats) AccountID() string              { return "42" }
func (f *fakeChats) State() chatlist.State          { return f.state }
func (f *fakeChats) LoadMore(context.Context) error { return nil }
func (f *fakeChats) Refresh(context.Context) error {
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.state = chatlist.State{
		Phase:         chatlist.PhaseReady,
		Conversations: []model.ConversationSummary{{ID: "c1"}, {ID: "c2"}},
		Pagination:    &model.PaginationCursor{Limit: 2, Offset: 0, Total: 5},
	}
	return nil
}
func (f *fakeChats) MarkRead(_ context.Context, id string) error {
	f.read = append(f.read, id)
	return nil
}

type fakeTimeline struct {
	state timeline.State
}

func (f *fakeTimeline) State() timeline.State          { return f.state }
func (f *fakeTimeline) LoadMore(context.Context) error { return nil }
func (f *fakeTimeline) Open(_ context.Context, id string) error {
	f.state = timeline.State{ConversationID: id, Phase: timeline.PhaseReady}
	return nil
}

type fakeSender struct {
	calls   []string
	err     error
	entries []store.OutboxEntry
}

func (f *fakeSender) SendText(_ context.Context, accountID, conversationID, to, body string) (outbox.Outcome, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s/%s", accountID, conversationID, to, body))
	if f.err != nil {
		return outbox.Outcome{LocalID: "local-1", Failure: outbox.Classify(f.err)}, f.err
	}
	return outbox.Outcome{LocalID: "local-1", Sent: model.SentMessage{ServerMessageID: "srv-1"}}, nil
}

func (f *fakeSender) Outbound(string, int) ([]store.OutboxEntry, error) {
	return f.entries, nil
}

type fixedMode intsync.Mode

func (m fixedMode) Mode() intsync.Mode { return intsync.Mode(m) }

type fixture struct {
	console  *Console
	channel  *fakeChannel
	chats    *fakeChats
	timeline *fakeTimeline
	sender   *fakeSender
}

func newFixture() fixture {
	f := fixture{
		channel:  &fakeChannel{state: status.Disconnected},
		chats:    &fakeChats{state: chatlist.State{Phase: chatlist.PhaseIdle}},
		timeline: &fakeTimeline{},
		sender:   &fakeSender{},
	}
	f.console = NewConsole(Deps{
		Profile:  "main",
		LiveURL:  "wss://gw.example/live",
		Channel:  f.channel,
		Chats:    f.chats,
		Timeline: f.timeline,
		Sender:   f.sender,
		Engine:   fixedMode(intsync.ModePolling),
		Bus:      bus.New(),
		Logger:   zap.NewNop(),
	})
	return f
}

func mustStruct(t *testing.T, v any) *structpb.Struct {
	t.Helper()
	s, err := ToStruct(v)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStatus(t *testing.T) {
	f := newFixture()
	resp, err := f.console.Status(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var v StatusView
	if err := FromStruct(resp, &v); err != nil {
		t.Fatal(err)
	}
	if v.Profile != "main" || v.State != "disconnected" || v.Mode != "polling" || v.AccountID != "42" {
		t.Errorf("status = %+v", v)
	}
}

func TestListChatsRefreshesIdleList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	resp, err := f.console.ListChats(ctx, mustStruct(t, ListChatsRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	var v ChatsView
	if err := FromStruct(resp, &v); err != nil {
		t.Fatal(err)
	}
	if v.Phase != "ready" || len(v.Conversations) != 2 || !v.HasMore {
		t.Errorf("chats = %+v", v)
	}

	// A ready list is served as is unless a refresh is asked for.
	if _, err := f.console.ListChats(ctx, mustStruct(t, ListChatsRequest{})); err != nil {
		t.Fatal(err)
	}
	if f.chats.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", f.chats.refreshes)
	}
	if _, err := f.console.ListChats(ctx, mustStruct(t, ListChatsRequest{Refresh: true})); err != nil {
		t.Fatal(err)
	}
	if f.chats.refreshes != 2 {
		t.Errorf("refreshes = %d, want 2", f.chats.refreshes)
	}
}

func TestRequiredFields(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	empty := mustStruct(t, Empty{})

	calls := map[string]func() error{
		"MarkRead": func() error { _, err := f.console.MarkRead(ctx, empty); return err },
		"OpenChat": func() error { _, err := f.console.OpenChat(ctx, empty); return err },
		"SendText": func() error { _, err := f.console.SendText(ctx, empty); return err },
		"Outbound": func() error { _, err := f.console.Outbound(ctx, empty); return err },
		"Token":    func() error { _, err := f.console.UpdateToken(ctx, empty); return err },
	}
	for name, call := range calls {
		if code := grpcstatus.Code(call()); code != codes.InvalidArgument {
			t.Errorf("%s code = %v, want InvalidArgument", name, code)
		}
	}
	if len(f.sender.calls) != 0 || len(f.chats.read) != 0 || f.channel.token != "" {
		t.Error("invalid requests reached the components")
	}
}

func TestSendTextDefaultsAccount(t *testing.T) {
	f := newFixture()
	resp, err := f.console.SendText(context.Background(), mustStruct(t, SendTextRequest{ConversationID: "c1", To: "5511", Body: "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	var v SendView
	if err := FromStruct(resp, &v); err != nil {
		t.Fatal(err)
	}
	if v.LocalID != "local-1" || v.ServerMessageID != "srv-1" {
		t.Errorf("send = %+v", v)
	}
	if len(f.sender.calls) != 1 || f.sender.calls[0] != "42/c1/5511/hi" {
		t.Errorf("calls = %v", f.sender.calls)
	}
}

func TestSendTextFailureKinds(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
		kind outbox.FailureKind
	}{
		{outbox.ErrMissingSessionID, codes.FailedPrecondition, outbox.FailureMissingSession},
		{&history.APIError{StatusCode: 422, Message: "invalid number"}, codes.Internal, outbox.FailureAPI},
		{fmt.Errorf("send message: %w", history.ErrNoResponse), codes.Unknown, outbox.FailureNoResponse},
		{&history.NetworkError{Op: "send message", Err: errors.New("connection refused")}, codes.Unavailable, outbox.FailureNetwork},
	}
	for _, tt := range tests {
		f := newFixture()
		f.sender.err = tt.err
		_, err := f.console.SendText(context.Background(), mustStruct(t, SendTextRequest{ConversationID: "c1", To: "5511", Body: "hi"}))
		if code := grpcstatus.Code(err); code != tt.code {
			t.Errorf("%v: code = %v, want %v", tt.err, code, tt.code)
		}
		v, ok := SendFailure(err)
		if !ok {
			t.Errorf("%v: no send view attached", tt.err)
			continue
		}
		if v.LocalID != "local-1" || v.Failure != string(tt.kind) {
			t.Errorf("%v: view = %+v, want local-1 %s", tt.err, v, tt.kind)
		}
	}

	if _, ok := SendFailure(errors.New("plain")); ok {
		t.Error("view extracted from a plain error")
	}
}

func TestReconnectAndToken(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.console.Reconnect(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if len(f.channel.connected) != 1 || f.channel.connected[0] != "wss://gw.example/live" {
		t.Errorf("connected = %v", f.channel.connected)
	}

	if _, err := f.console.UpdateToken(ctx, mustStruct(t, UpdateTokenRequest{Token: "new"})); err != nil {
		t.Fatal(err)
	}
	if f.channel.token != "new" {
		t.Errorf("token = %q", f.channel.token)
	}

	f.channel.connErr = channel.ErrMissingCredential
	_, err := f.console.Reconnect(ctx, nil)
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", code)
	}
}

func TestOutboundView(t *testing.T) {
	f := newFixture()
	f.sender.entries = []store.OutboxEntry{
		{ClientMsgID: "local-2", Status: store.OutboxFailed, ErrorKind: "network_error", ErrorMessage: "refused"},
		{ClientMsgID: "local-1", Status: store.OutboxSent, ServerMsgID: "srv-1"},
	}
	resp, err := f.console.Outbound(context.Background(), mustStruct(t, OutboundRequest{ConversationID: "c1"}))
	if err != nil {
		t.Fatal(err)
	}
	var v OutboundView
	if err := FromStruct(resp, &v); err != nil {
		t.Fatal(err)
	}
	if len(v.Entries) != 2 || v.Entries[0].ErrorKind != "network_error" || v.Entries[1].ServerMessageID != "srv-1" {
		t.Errorf("outbound = %+v", v)
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{channel.ErrMissingCredential, codes.FailedPrecondition},
		{fmt.Errorf("wrap: %w", outbox.ErrMissingSessionID), codes.FailedPrecondition},
		{channel.ErrNotConnected, codes.Unavailable},
		{&history.NetworkError{Op: "fetch", Err: errors.New("refused")}, codes.Unavailable},
		{history.ErrInvalidPage, codes.InvalidArgument},
		{&channel.AuthError{Reason: "expired"}, codes.Unauthenticated},
		{&history.APIError{StatusCode: 404}, codes.NotFound},
		{&history.APIError{StatusCode: 401}, codes.Unauthenticated},
		{&history.APIError{StatusCode: 500}, codes.Internal},
		{history.ErrNoResponse, codes.Unknown},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		if got := grpcstatus.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if toStatus(nil) != nil {
		t.Error("toStatus(nil) should be nil")
	}
}
