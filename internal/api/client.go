// Package api is the REST client for the platform's chat endpoints.
// It returns authoritative records or a structured *Error; it never
// mutates engine state itself.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edulink/chatsync/internal/auth"
)

// Error is a structured request failure: the HTTP status plus the
// optional human-readable detail string the server attaches.
type Error struct {
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api: %d", e.Status)
}

// IsNotFound reports whether err is an API not-found failure.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client calls the platform REST API with the session's credential.
type Client struct {
	base   string
	http   *http.Client
	tokens auth.TokenSource

	// retryInitialInterval and retryMaxElapsed tune the backoff
	// retrying idempotent GETs: first-retry delay and total budget.
	retryInitialInterval time.Duration
	retryMaxElapsed      time.Duration
}

// NewClient creates a REST client against the given base URL,
// e.g. "https://school.example.com/api".
func NewClient(base string, tokens auth.TokenSource) *Client {
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    8,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		base:                 base,
		http:                 &http.Client{Transport: tr, Timeout: 30 * time.Second},
		tokens:               tokens,
		retryInitialInterval: 500 * time.Millisecond,
		retryMaxElapsed:      10 * time.Second,
	}
}

// ListChats returns all chats the local user participates in.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.get(ctx, "/chats/", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat returns a single chat by id.
func (c *Client) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	if err := c.get(ctx, fmt.Sprintf("/chats/%d/", chatID), &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateChat creates a direct or group chat.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodPost, "/chats/", req, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// DeleteChat deletes a chat.
func (c *Client) DeleteChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d/", chatID), nil, nil)
}

// RenameChat partially updates a chat's name.
func (c *Client) RenameChat(ctx context.Context, chatID int64, name string) (*Chat, error) {
	var chat Chat
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/chats/%d/", chatID), body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListMessages returns the initial message page for a chat, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID int64) ([]Message, error) {
	var msgs []Message
	if err := c.get(ctx, fmt.Sprintf("/chats/%d/messages/", chatID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage sends a message and returns the confirmed record.
func (c *Client) SendMessage(ctx context.Context, chatID int64, req SendMessageRequest) (*Message, error) {
	var msg Message
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/messages/", chatID), req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage partially updates a message's content.
func (c *Client) UpdateMessage(ctx context.Context, chatID, messageID int64, content string) (*Message, error) {
	var msg Message
	body := map[string]string{"content": content}
	path := fmt.Sprintf("/chats/%d/messages/%d/", chatID, messageID)
	if err := c.do(ctx, http.MethodPatch, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/chats/%d/messages/%d/", chatID, messageID), nil, nil)
}

// MarkRead marks all messages in the chat read for the local user.
func (c *Client) MarkRead(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/mark-read/", chatID), nil, nil)
}

// AddParticipant adds a user to a group chat.
func (c *Client) AddParticipant(ctx context.Context, chatID, userID int64) (*Chat, error) {
	var chat Chat
	body := map[string]int64{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/add_participant/", chatID), body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// RemoveParticipant removes a user from a group chat.
func (c *Client) RemoveParticipant(ctx context.Context, chatID, userID int64) (*Chat, error) {
	var chat Chat
	body := map[string]int64{"user_id": userID}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/remove_participant/", chatID), body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// LeaveChat removes the local user from the chat.
func (c *Client) LeaveChat(ctx context.Context, chatID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%d/leave/", chatID), nil, nil)
}

// get performs an idempotent GET with exponential backoff on network
// errors and 5xx responses. Mutations go through do and are never
// auto-retried.
func (c *Client) get(ctx context.Context, path string, out any) error {
	op := func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if errors.Is(err, auth.ErrNoToken) {
			return backoff.Permanent(err)
		}
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitialInterval
	b.MaxElapsedTime = c.retryMaxElapsed
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError extracts the server's detail string. The platform uses
// both {"detail": ...} and {"error": ...} shapes.
func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	var payload struct {
		Detail string `json:"detail"`
		ErrMsg string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		if payload.Detail != "" {
			apiErr.Detail = payload.Detail
		} else {
			apiErr.Detail = payload.ErrMsg
		}
	}
	return apiErr
}
