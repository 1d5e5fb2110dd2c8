package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppsync/internal/api"
	"github.com/matheus3301/wppsync/internal/client"
	"github.com/matheus3301/wppsync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		out.status(c.Status(ctx))
	case "chats":
		refresh := len(args) > 1 && args[1] == "--refresh"
		out.chats(c.ListChats(ctx, refresh))
	case "more":
		out.chats(c.LoadMoreChats(ctx))
	case "read":
		out.chats(c.MarkRead(ctx, arg(args, 1, "read <conversation-id>")))
	case "open":
		out.messages(c.OpenChat(ctx, arg(args, 1, "open <conversation-id>")))
	case "messages":
		if len(args) > 1 && args[1] == "--more" {
			out.messages(c.LoadMoreMessages(ctx))
		} else {
			out.messages(c.ListMessages(ctx))
		}
	case "send":
		if len(args) < 4 {
			usage("send <conversation-id> <to> <text...>")
		}
		out.sent(c.SendText(ctx, api.SendTextRequest{
			ConversationID: args[1],
			To:             args[2],
			Body:           strings.Join(args[3:], " "),
		}))
	case "outbound":
		limit := 0
		if len(args) > 2 {
			limit, _ = strconv.Atoi(args[2])
		}
		out.outbound(c.Outbound(ctx, arg(args, 1, "outbound <conversation-id> [limit]"), limit))
	case "token":
		out.status(c.UpdateToken(ctx, readToken(args)))
	case "reconnect":
		out.status(c.Reconnect(ctx))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show channel and sync status")
	fmt.Fprintln(os.Stderr, "  chats [--refresh]              Show the conversation list")
	fmt.Fprintln(os.Stderr, "  more                           Load the next page of conversations")
	fmt.Fprintln(os.Stderr, "  read <id>                      Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  open <id>                      Open a conversation")
	fmt.Fprintln(os.Stderr, "  messages [--more]              Show (or page) the open conversation")
	fmt.Fprintln(os.Stderr, "  send <id> <to> <text...>       Send a text message")
	fmt.Fprintln(os.Stderr, "  outbound <id> [limit]          Show the send journal of a conversation")
	fmt.Fprintln(os.Stderr, "  token [<token>|-]              Replace the gateway token (- reads stdin)")
	fmt.Fprintln(os.Stderr, "  reconnect                      Reopen the live channel")
	fmt.Fprintln(os.Stderr, "  watch [namespace]              Stream daemon events")
}

func arg(args []string, i int, form string) string {
	if len(args) <= i {
		usage(form)
	}
	return args[i]
}

func usage(form string) {
	fmt.Fprintf(os.Stderr, "usage: wppctl %s\n", form)
	os.Exit(1)
}

func readToken(args []string) string {
	if len(args) > 1 && args[1] != "-" {
		return args[1]
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		fail(err)
	}
	return strings.TrimSpace(string(b))
}

func cmdWatch(c *client.Client, args []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	stream, err := c.Watch(ctx, namespace)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			fail(err)
		}
		if jsonOut {
			outputJSON(evt)
			continue
		}
		payload, _ := json.Marshal(evt.Payload)
		fmt.Printf("%s %-24s %s\n", time.UnixMilli(evt.OccurredAtUnixMs).Format(time.TimeOnly), evt.Kind, payload)
	}
}

type printer struct {
	json bool
}

func (p printer) status(v api.StatusView, err error) {
	if p.done(v, err) {
		return
	}
	fmt.Printf("Profile: %s\n", v.Profile)
	fmt.Printf("Account: %s\n", v.AccountID)
	fmt.Printf("Channel: %s\n", v.State)
	fmt.Printf("Mode:    %s\n", v.Mode)
	fmt.Printf("Chats:   %d\n", v.Chats)
	if v.ActiveConversation != "" {
		fmt.Printf("Open:    %s\n", v.ActiveConversation)
	}
	if v.LastConnected != nil {
		fmt.Printf("Live at: %s\n", v.LastConnected.Local().Format(time.DateTime))
	}
	fmt.Printf("Uptime:  %s\n", (time.Duration(v.UptimeMs) * time.Millisecond).Round(time.Second))
}

func (p printer) chats(v api.ChatsView, err error) {
	if p.done(v, err) {
		return
	}
	if v.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", v.Error)
	}
	if len(v.Conversations) == 0 {
		fmt.Printf("No conversations (%s).\n", v.Phase)
		return
	}
	for _, c := range v.Conversations {
		name := c.ContactDisplayName
		if c.IsGroup && c.GroupDisplayName != nil {
			name = *c.GroupDisplayName
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", c.UnreadCount)
		}
		fmt.Printf("%-24s %-28s %-5s %s\n", c.ID, name, unread, c.LastMessagePreview)
	}
	if v.HasMore {
		fmt.Println("... more available (wppctl more)")
	}
}

func (p printer) messages(v api.MessagesView, err error) {
	if p.done(v, err) {
		return
	}
	if v.Error != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", v.Error)
	}
	if v.ConversationID == "" {
		fmt.Println("No conversation open.")
		return
	}
	for i := len(v.Messages) - 1; i >= 0; i-- {
		m := v.Messages[i]
		who := m.SenderAddress
		if m.IsOutbound {
			who = "me"
		}
		fmt.Printf("%s %-16s %-9s %s\n", m.OccurredAt.Format(time.DateTime), who, m.DeliveryStatus, m.BodyText)
	}
}

func (p printer) sent(v api.SendView, err error) {
	if err != nil && v.Failure != "" {
		if p.json {
			outputJSON(v)
		}
		fail(fmt.Errorf("send %s failed (%s): %w", v.LocalID, v.Failure, err))
	}
	if p.done(v, err) {
		return
	}
	fmt.Printf("Sent %s as %s\n", v.LocalID, v.ServerMessageID)
}

func (p printer) outbound(v api.OutboundView, err error) {
	if p.done(v, err) {
		return
	}
	if len(v.Entries) == 0 {
		fmt.Println("No outbound messages.")
		return
	}
	for _, e := range v.Entries {
		detail := e.ServerMessageID
		if e.ErrorKind != "" {
			detail = e.ErrorKind + ": " + e.ErrorMessage
		}
		fmt.Printf("%s %-8s %-16s %-30q %s\n", e.CreatedAt.Format(time.DateTime), e.Status, e.Recipient, e.Body, detail)
	}
}

// done handles errors and JSON output, reporting whether the caller should
// stop printing.
func (p printer) done(v any, err error) bool {
	if err != nil {
		fail(err)
	}
	if p.json {
		outputJSON(v)
		return true
	}
	return false
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
