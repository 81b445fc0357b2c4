package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/database"
)

func stringList(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: description}
}

// analysisSchema mirrors database.Analysis for Gemini's JSON schema mode.
var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"summary":     {Type: genai.TypeString, Description: "Short overview of the conversation."},
		"topics":      stringList("Main topics discussed."),
		"sentiment":   {Type: genai.TypeString, Enum: []string{database.SentimentPositive, database.SentimentNeutral, database.SentimentNegative}},
		"actionItems": stringList("Tasks or plans mentioned for the future."),
		"participants": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"roles":              stringList("Roles of the participants."),
				"interests":          stringList("Interests of the participants."),
				"communicationStyle": stringList("Communication styles of the participants."),
			},
		},
		"context": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"type":         {Type: genai.TypeString},
				"mainGoal":     {Type: genai.TypeString},
				"technologies": stringList("Technologies, products or companies mentioned."),
			},
		},
		"psychologicalAspects": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"values":      stringList("Key values."),
				"motivations": stringList("Motivating factors."),
				"mood":        {Type: genai.TypeString},
			},
		},
		"businessAnalysis": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"strengths":       stringList("Strengths of the collaboration."),
				"risks":           stringList("Potential risks."),
				"recommendations": stringList("Recommendations."),
			},
		},
		"conclusions": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"achieved":  stringList("Results achieved."),
				"pending":   stringList("Open questions."),
				"nextSteps": stringList("Proposed next steps."),
			},
		},
	},
	Required: []string{"summary", "topics", "sentiment"},
}

// GeminiService implements Service over the Gemini API in JSON schema mode.
type GeminiService struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
}

// NewGeminiService creates a GeminiService. httpOptions may override the
// API base URL.
func NewGeminiService(ctx context.Context, cfg config.GeminiConfig, language string, httpOptions *genai.HTTPOptions, log *slog.Logger) (*GeminiService, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpOptions != nil {
		clientCfg.HTTPOptions = *httpOptions
	}
	gi, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := cfg.Temperature
	contentConfig := &genai.GenerateContentConfig{
		Temperature:       &temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt(language)}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    analysisSchema,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	logger := log.With("component", "gemini_analysis")
	logger.Info("Gemini analysis client initialized", "model", cfg.Model)
	return &GeminiService{
		genaiClient:   gi,
		log:           logger,
		contentConfig: contentConfig,
		modelName:     cfg.Model,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}, nil
}

// Analyze sends the history and parses the schema constrained reply.
func (s *GeminiService) Analyze(ctx context.Context, history json.RawMessage) (*database.Analysis, error) {
	startTime := time.Now()
	s.log.DebugContext(ctx, "Requesting analysis", "history_bytes", len(history))

	contents := []*genai.Content{genai.NewContentFromText(string(history), genai.RoleUser)}
	resp, err := s.generateContentWithRetries(ctx, contents)
	if err != nil {
		return nil, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		s.log.ErrorContext(ctx, "Gemini analysis blocked", "reason", resp.PromptFeedback.BlockReason)
		return nil, fmt.Errorf("%w: blocked: %v", ErrEmptyResponse, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, ErrEmptyResponse
	}

	analysis, err := ParseAnalysis(resp.Text())
	if err != nil {
		s.log.WarnContext(ctx, "Unusable analysis response", "finish_reason", resp.Candidates[0].FinishReason, "error", err)
		return nil, err
	}

	s.log.InfoContext(ctx, "Analysis completed", "model", s.modelName, "duration_ms", time.Since(startTime).Milliseconds())
	return analysis, nil
}

// generateContentWithRetries retries 500 and 503 responses up to maxRetries times.
func (s *GeminiService) generateContentWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := s.genaiClient.Models.GenerateContent(ctx, s.modelName, contents, s.contentConfig)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if !errors.As(err, &apiErr) {
			var valueErr genai.APIError
			if errors.As(err, &valueErr) {
				apiErr = &valueErr
			}
		}
		if apiErr == nil {
			s.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
			return nil, fmt.Errorf("gemini analysis call failed: %w", err)
		}

		retriable := apiErr.Code == 500 || apiErr.Code == 503
		if !retriable || attempt >= s.maxRetries {
			s.log.ErrorContext(ctx, "Gemini API call failed", "attempt", attempt+1, "code", apiErr.Code, "error", err)
			return nil, &StatusError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
		}

		s.log.WarnContext(ctx, "Retrying Gemini API call", "attempt", attempt+1, "delay", s.retryDelay, "code", apiErr.Code)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}
