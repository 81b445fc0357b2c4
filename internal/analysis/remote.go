package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/edgard/lifetracker/internal/database"
)

// RemoteService implements Service by posting {"history": ...} to an
// analysis endpoint that answers with an Analysis document.
type RemoteService struct {
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

// AnalyzeRequest is the body sent to and accepted by analysis endpoints.
type AnalyzeRequest struct {
	History json.RawMessage `json:"history"`
}

// NewRemoteService creates a RemoteService. httpClient may be nil.
func NewRemoteService(endpoint string, httpClient *http.Client, log *slog.Logger) (*RemoteService, error) {
	if endpoint == "" {
		return nil, errors.New("analysis endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RemoteService{
		endpoint:   endpoint,
		httpClient: httpClient,
		log:        log.With("component", "remote_analysis"),
	}, nil
}

// Analyze posts the history and decodes the response body.
func (s *RemoteService) Analyze(ctx context.Context, history json.RawMessage) (*database.Analysis, error) {
	startTime := time.Now()
	body, err := json.Marshal(AnalyzeRequest{History: history})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.ErrorContext(ctx, "Analysis request failed", "error", err)
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		s.log.ErrorContext(ctx, "Analysis endpoint returned an error", "status", resp.StatusCode)
		return nil, &StatusError{Provider: "remote", StatusCode: resp.StatusCode, Message: msg}
	}

	analysis, err := ParseAnalysis(string(respBody))
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "Analysis completed", "duration_ms", time.Since(startTime).Milliseconds())
	return analysis, nil
}
