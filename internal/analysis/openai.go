package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/database"
)

// OpenAIService implements Service over an OpenAI compatible chat
// completion API in JSON mode.
type OpenAIService struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	language    string
	log         *slog.Logger
}

// NewOpenAIService creates an OpenAIService. httpClient may be nil.
func NewOpenAIService(cfg config.OpenAIConfig, language string, httpClient *http.Client, log *slog.Logger) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	logger := log.With("component", "openai_analysis")
	logger.Info("OpenAI analysis client initialized", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIService{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		language:    language,
		log:         logger,
	}, nil
}

// Analyze sends the history as the user message and parses the JSON reply.
func (s *OpenAIService) Analyze(ctx context.Context, history json.RawMessage) (*database.Analysis, error) {
	startTime := time.Now()
	s.log.DebugContext(ctx, "Requesting analysis", "history_bytes", len(history))

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(s.language)},
			{Role: openai.ChatMessageRoleUser, Content: string(history)},
		},
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			s.log.ErrorContext(ctx, "Analysis API call failed", "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
			return nil, &StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			s.log.ErrorContext(ctx, "Analysis API call failed", "status", reqErr.HTTPStatusCode, "error", reqErr.Err)
			return nil, &StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err)}
		}
		s.log.ErrorContext(ctx, "Analysis API call failed", "error", err)
		return nil, fmt.Errorf("openai analysis call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	analysis, err := ParseAnalysis(choice.Message.Content)
	if err != nil {
		s.log.WarnContext(ctx, "Unusable analysis response",
			"finish_reason", choice.FinishReason, "content_length", len(choice.Message.Content), "error", err)
		return nil, err
	}

	s.log.InfoContext(ctx, "Analysis completed",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(startTime).Milliseconds())
	return analysis, nil
}
