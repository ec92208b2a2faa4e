// Package api is the client for the collaborating request/response surface:
// conversation pages, message pages, read receipts, favorite state, user
// search and the attachment-bearing send fallback. Failures are mapped to
// the core's error taxonomy at this boundary; stores never see a partial
// response.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/taskora/chatsync/internal/model"
)

// Client talks to the REST surface. Safe for concurrent use.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize overrides the per_page value sent on paged endpoints.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a REST client for the given base URL and bearer token.
func NewClient(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		token:    token,
		pageSize: 50,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me returns the authenticated user, part of the initial state snapshot.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.getJSON(ctx, "me", "/me", nil, &u)
	return u, err
}

// ListConversations fetches one page of conversation summaries.
func (c *Client) ListConversations(ctx context.Context, page int) ([]model.Conversation, error) {
	var dtos []conversationDTO
	q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(c.pageSize)}}
	if err := c.getJSON(ctx, "list conversations", "/conversations", q, &dtos); err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.toModel())
	}
	return out, nil
}

// ListMessages fetches one page of a conversation's messages, newest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page int) ([]model.Message, error) {
	var msgs []model.Message
	q := url.Values{"page": {strconv.Itoa(page)}, "per_page": {strconv.Itoa(c.pageSize)}}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.getJSON(ctx, "list messages", path, q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateConversation creates (or returns) a conversation with another user.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (model.Conversation, error) {
	var dto conversationDTO
	if err := c.postJSON(ctx, "create conversation", "/conversations", req, &dto); err != nil {
		return model.Conversation{}, err
	}
	return dto.toModel(), nil
}

// MarkRead issues the durable read receipt for a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.postJSON(ctx, "mark read", path, nil, nil)
}

// ToggleFavorite toggles the server-backed favorite flag and returns the
// authoritative state.
func (c *Client) ToggleFavorite(ctx context.Context, conversationID string) (bool, error) {
	var resp favoriteResponse
	path := "/conversations/" + url.PathEscape(conversationID) + "/favorite"
	if err := c.postJSON(ctx, "toggle favorite", path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Favorite, nil
}

// SearchUsers looks up users to start new conversations with.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var users []model.User
	q := url.Values{"query": {query}}
	if err := c.getJSON(ctx, "search users", "/conversations/search/users", q, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SendMessageMultipart is the attachment-bearing send fallback used when the
// channel is unavailable. It returns the server-confirmed message.
func (c *Client) SendMessageMultipart(ctx context.Context, conversationID, text, clientKey string, uploads []Upload) (model.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("message", text); err != nil {
		return model.Message{}, fmt.Errorf("build multipart: %w", err)
	}
	if err := w.WriteField("clientKey", clientKey); err != nil {
		return model.Message{}, fmt.Errorf("build multipart: %w", err)
	}
	for _, up := range uploads {
		part, err := w.CreateFormFile("attachments[]", up.Name)
		if err != nil {
			return model.Message{}, fmt.Errorf("build multipart: %w", err)
		}
		if _, err := part.Write(up.Data); err != nil {
			return model.Message{}, fmt.Errorf("build multipart: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return model.Message{}, fmt.Errorf("build multipart: %w", err)
	}

	path := "/conversations/" + url.PathEscape(conversationID) + "/message"
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, &body)
	if err != nil {
		return model.Message{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var msg model.Message
	if err := c.doJSON(req, "send message", &msg); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, op, out)
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.doJSON(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == 419:
		return ErrAuthExpired
	case resp.StatusCode >= 400:
		c.logger.Warn("api request failed", zap.String("op", op), zap.Int("status", resp.StatusCode))
		return &FetchError{Op: op, Status: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
