// Package history fetches conversation history from the chat server's
// HTTP API. It is the external fetch collaborator of the conversation
// store.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mashrufahmed/chat-app-f-sathi/internal/model"
)

type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient builds a history client for the given user. baseURL empty
// disables fetching (Messages returns nil).
func NewClient(baseURL, userID string) *Client {
	if baseURL == "" {
		return &Client{userID: userID}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Messages returns the ordered pair history with peerID, oldest first.
func (c *Client) Messages(ctx context.Context, peerID string, limit int) ([]model.Message, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	u := c.baseURL + "/api/messages/" + url.PathEscape(peerID)
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", c.userID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch: %d", resp.StatusCode)
	}
	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}
	return msgs, nil
}
