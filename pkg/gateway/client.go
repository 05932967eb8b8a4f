package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrConversationNotFound is returned by Client.Conversation for unknown numbers.
var ErrConversationNotFound = errors.New("conversation not found")

// Client talks to the conversation management routes of a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client with a 5-second timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Conversations calls GET /api/conversations.
func (c *Client) Conversations(ctx context.Context) ([]string, error) {
	var list ConversationList
	if err := c.do(ctx, http.MethodGet, "/api/conversations", &list); err != nil {
		return nil, err
	}
	return list.PhoneNumbers, nil
}

// Conversation calls GET /api/conversations/{phone}.
func (c *Client) Conversation(ctx context.Context, phone string) (ConversationView, error) {
	var view ConversationView
	if err := c.do(ctx, http.MethodGet, conversationPath(phone), &view); err != nil {
		return ConversationView{}, err
	}
	return view, nil
}

// DeleteConversation calls DELETE /api/conversations/{phone}.
func (c *Client) DeleteConversation(ctx context.Context, phone string) (DeleteResult, error) {
	var result DeleteResult
	if err := c.do(ctx, http.MethodDelete, conversationPath(phone), &result); err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrConversationNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func conversationPath(phone string) string {
	return "/api/conversations/" + url.PathEscape(strings.TrimSpace(phone))
}
