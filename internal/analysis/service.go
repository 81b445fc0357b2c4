// Package analysis turns a raw message history into a structured Analysis
// using a language model. Backends: any OpenAI compatible API (DeepSeek by
// default), Gemini, or a remote HTTP analysis endpoint.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edgard/lifetracker/internal/database"
)

var (
	// ErrEmptyResponse is returned when the backend produced no analysis.
	ErrEmptyResponse = errors.New("empty analysis response")
	// ErrInvalidResponse is returned when the backend response is not a valid Analysis.
	ErrInvalidResponse = errors.New("invalid analysis response")
)

// Service analyzes a message history.
type Service interface {
	// Analyze submits the opaque history payload and returns the analysis.
	Analyze(ctx context.Context, history json.RawMessage) (*database.Analysis, error)
}

// StatusError reports a non-2xx response from an analysis backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s analysis returned HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

var validate = validator.New()

// ParseAnalysis decodes a model response into an Analysis. Markdown code
// fences are stripped; an empty body or JSON null yields ErrEmptyResponse.
func ParseAnalysis(text string) (*database.Analysis, error) {
	text = stripCodeFence(strings.TrimSpace(text))
	if text == "" || text == "null" {
		return nil, ErrEmptyResponse
	}

	var analysis *database.Analysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if analysis == nil {
		return nil, ErrEmptyResponse
	}

	analysis.Sentiment = strings.ToLower(strings.TrimSpace(analysis.Sentiment))
	if err := validate.Struct(analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return analysis, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl != -1 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
