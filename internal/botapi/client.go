// Package botapi is a client for the Telegram userbot HTTP API that serves
// the dialog list and per-chat message history.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/database"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 32 << 20

var (
	// ErrNotConfigured is returned when the endpoint URL is empty.
	ErrNotConfigured = errors.New("endpoint not configured")
	// ErrInvalidPayload is returned when a response body is not the expected JSON.
	ErrInvalidPayload = errors.New("invalid response payload")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// DialogsResponse is the envelope of the dialogs endpoint.
type DialogsResponse struct {
	Success      *bool             `json:"success"`
	DialogsCount int               `json:"dialogs_count"`
	Dialogs      []database.Dialog `json:"dialogs"`
}

// Client calls the dialogs and history endpoints with Api-Key authorization.
type Client struct {
	dialogs    config.EndpointConfig
	history    config.EndpointConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. A nil httpClient uses a default client;
// per-request deadlines come from the endpoint timeouts.
func NewClient(dialogs, history config.EndpointConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		dialogs:    dialogs,
		history:    history,
		httpClient: httpClient,
		logger:     logger.With("component", "botapi"),
	}
}

// FetchDialogs returns the dialog list as served, duplicates included.
func (c *Client) FetchDialogs(ctx context.Context) ([]database.Dialog, error) {
	startTime := time.Now()
	body, err := c.get(ctx, c.dialogs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dialogs: %w", err)
	}

	var resp DialogsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch dialogs: %w: %v", ErrInvalidPayload, err)
	}
	if resp.Success != nil && !*resp.Success {
		return nil, fmt.Errorf("failed to fetch dialogs: %w: success=false", ErrInvalidPayload)
	}

	c.logger.InfoContext(ctx, "Fetched dialogs",
		"count", len(resp.Dialogs),
		"reported_count", resp.DialogsCount,
		"duration_ms", time.Since(startTime).Milliseconds())
	return resp.Dialogs, nil
}

// FetchHistory returns the raw history payload for chatID. The payload is
// checked to be JSON but is otherwise opaque.
func (c *Client) FetchHistory(ctx context.Context, chatID int64) (json.RawMessage, error) {
	startTime := time.Now()
	params := url.Values{"chat_id": []string{strconv.FormatInt(chatID, 10)}}
	body, err := c.get(ctx, c.history, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for chat %d: %w", chatID, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("failed to fetch history for chat %d: %w", chatID, ErrInvalidPayload)
	}

	c.logger.DebugContext(ctx, "Fetched history",
		"chat_id", chatID,
		"bytes", len(body),
		"duration_ms", time.Since(startTime).Milliseconds())
	return json.RawMessage(body), nil
}

func (c *Client) get(ctx context.Context, endpoint config.EndpointConfig, params url.Values) ([]byte, error) {
	if endpoint.URL == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	if endpoint.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, endpoint.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Api-Key "+endpoint.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "Bot API returned an error", "url", u.Redacted(), "status", resp.StatusCode)
		return nil, &StatusError{
			Endpoint:   u.Host + u.Path,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(truncate(body, 512))),
		}
	}
	return body, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
