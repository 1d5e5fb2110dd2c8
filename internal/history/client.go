package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/model"
)

const maxBodyBytes = 8 << 20

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	Token() string
}

// Client is the request/response side of the gateway. It never retries;
// callers decide.
type Client struct {
	baseURL string
	http    *http.Client
	creds   TokenSource
	logger  *zap.Logger
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, creds TokenSource, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		logger:  logger,
	}
}

// AccountSession is the transport session bound to an account.
type AccountSession struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type envelope struct {
	Success    bool                    `json:"success"`
	Data       json.RawMessage         `json:"data"`
	Pagination *model.PaginationCursor `json:"pagination"`
	Error      string                  `json:"error"`
	Message    string                  `json:"message"`
}

type sendRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

// FetchConversationPage fetches one page of an account's chat list.
func (c *Client) FetchConversationPage(ctx context.Context, accountID string, limit, offset int) (model.Page[model.ConversationSummary], error) {
	if limit <= 0 || offset < 0 {
		return model.Page[model.ConversationSummary]{}, ErrInvalidPage
	}
	env, err := c.do(ctx, "fetch conversations", http.MethodGet, "/chats/"+url.PathEscape(accountID), pageQuery(limit, offset), nil)
	if err != nil {
		return model.Page[model.ConversationSummary]{}, err
	}
	return decodePage[model.ConversationSummary]("fetch conversations", env)
}

// FetchMessagePage fetches one page of a conversation's timeline, newest first.
func (c *Client) FetchMessagePage(ctx context.Context, conversationID string, limit, offset int) (model.Page[model.MessageRecord], error) {
	if limit <= 0 || offset < 0 {
		return model.Page[model.MessageRecord]{}, ErrInvalidPage
	}
	path := "/chats/" + url.PathEscape(conversationID) + "/messages"
	env, err := c.do(ctx, "fetch messages", http.MethodGet, path, pageQuery(limit, offset), nil)
	if err != nil {
		return model.Page[model.MessageRecord]{}, err
	}
	return decodePage[model.MessageRecord]("fetch messages", env)
}

// MarkRead marks a conversation as read on the gateway.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, "mark read", http.MethodPatch, "/chats/"+url.PathEscape(conversationID)+"/read", nil, nil)
	return err
}

// SendMessage submits one text message through the given session.
func (c *Client) SendMessage(ctx context.Context, sessionID, to, body string) (model.SentMessage, error) {
	env, err := c.do(ctx, "send message", http.MethodPost, "/messages/send", nil, sendRequest{
		SessionID: sessionID,
		To:        to,
		Message:   body,
	})
	if err != nil {
		return model.SentMessage{}, err
	}
	var sent model.SentMessage
	if err := decodeData(env, &sent); err != nil || sent.ServerMessageID == "" {
		return model.SentMessage{}, fmt.Errorf("send message: %w", ErrNoResponse)
	}
	return sent, nil
}

// AccountSession looks up the transport session of an account.
func (c *Client) AccountSession(ctx context.Context, accountID string) (AccountSession, error) {
	env, err := c.do(ctx, "account session", http.MethodGet, "/accounts/"+url.PathEscape(accountID), nil, nil)
	if err != nil {
		return AccountSession{}, err
	}
	var s AccountSession
	if err := decodeData(env, &s); err != nil {
		return AccountSession{}, fmt.Errorf("account session: %w", ErrNoResponse)
	}
	return s, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) (envelope, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return envelope{}, fmt.Errorf("%s: %w", op, err)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.creds.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return envelope{}, &NetworkError{Op: op, Err: err}
	}
	c.logger.Debug("gateway request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: env.Error, Message: env.Message}
		if decodeErr != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return envelope{}, apiErr
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("%s: %w", op, ErrNoResponse)
	}
	if !env.Success {
		return envelope{}, &APIError{StatusCode: resp.StatusCode, Code: env.Error, Message: env.Message}
	}
	return env, nil
}

func decodePage[T any](op string, env envelope) (model.Page[T], error) {
	items := []T{}
	if err := decodeData(env, &items); err != nil {
		return model.Page[T]{}, fmt.Errorf("%s: %w", op, ErrNoResponse)
	}
	return model.Page[T]{Items: items, Pagination: env.Pagination}, nil
}

// decodeData leaves v untouched when data is absent or null.
func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}

func pageQuery(limit, offset int) url.Values {
	return url.Values{
		"limit":  []string{strconv.Itoa(limit)},
		"offset": []string{strconv.Itoa(offset)},
	}
}
