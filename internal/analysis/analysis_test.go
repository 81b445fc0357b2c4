package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/lifetracker/internal/analysis"
	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/logger"
)

const sampleAnalysis = `{
  "summary": "Planning a product launch",
  "topics": ["launch", "pricing"],
  "sentiment": "Positive",
  "participants": {"roles": ["founder"]},
  "conclusions": {"nextSteps": ["send deck"]}
}`

var sampleHistory = json.RawMessage(`{"messages": [{"text": "hi", "date": "2025-01-01T00:00:00Z", "from_user": true}]}`)

func TestParseAnalysis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "plain", input: sampleAnalysis},
		{name: "fenced", input: "```json\n" + sampleAnalysis + "\n```"},
		{name: "no sentiment", input: `{"summary": "x"}`},
		{name: "empty", input: "   ", wantErr: analysis.ErrEmptyResponse},
		{name: "null", input: "null", wantErr: analysis.ErrEmptyResponse},
		{name: "array", input: `[1]`, wantErr: analysis.ErrInvalidResponse},
		{name: "bad sentiment", input: `{"sentiment": "ecstatic"}`, wantErr: analysis.ErrInvalidResponse},
		{name: "wrong leaf type", input: `{"topics": "launch"}`, wantErr: analysis.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := analysis.ParseAnalysis(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseAnalysis() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAnalysis() error = %v", err)
			}
			if got == nil {
				t.Fatal("ParseAnalysis() returned nil analysis")
			}
		})
	}

	got, _ := analysis.ParseAnalysis(sampleAnalysis)
	if got.Sentiment != "positive" {
		t.Errorf("Sentiment = %q, want normalized positive", got.Sentiment)
	}
	if got.Context != nil {
		t.Errorf("absent context decoded as %+v", got.Context)
	}
}

func TestOpenAIService(t *testing.T) {
	t.Parallel()

	var gotReq struct {
		Model          string `json:"model"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	content := sampleAnalysis

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "deepseek-chat",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	defer srv.Close()

	svc, err := analysis.NewOpenAIService(config.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Model:   "deepseek-chat",
	}, "English", nil, logger.Discard())
	if err != nil {
		t.Fatalf("NewOpenAIService() error = %v", err)
	}

	got, err := svc.Analyze(context.Background(), sampleHistory)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Summary != "Planning a product launch" || len(got.Topics) != 2 {
		t.Errorf("Analyze() = %+v", got)
	}
	if gotReq.Model != "deepseek-chat" || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("request model=%q response_format=%q", gotReq.Model, gotReq.ResponseFormat.Type)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || !strings.Contains(gotReq.Messages[0].Content, "strictly in English") {
		t.Errorf("unexpected system message: %+v", gotReq.Messages)
	}
	if gotReq.Messages[1].Content != string(sampleHistory) {
		t.Errorf("user message = %q, want raw history", gotReq.Messages[1].Content)
	}
}

func TestOpenAIServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		content    string
		wantStatus int
		wantErr    error
	}{
		{name: "null content", status: http.StatusOK, content: "", wantErr: analysis.ErrEmptyResponse},
		{name: "server error", status: http.StatusInternalServerError, wantStatus: http.StatusInternalServerError},
		{name: "unauthorized", status: http.StatusUnauthorized, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				if tt.status != http.StatusOK {
					_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "server_error"}}`))
					return
				}
				_, _ = w.Write([]byte(`{"choices": [{"index": 0, "message": {"role": "assistant", "content": null}}]}`))
			}))
			defer srv.Close()

			svc, err := analysis.NewOpenAIService(config.OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"}, "", nil, logger.Discard())
			if err != nil {
				t.Fatalf("NewOpenAIService() error = %v", err)
			}
			_, err = svc.Analyze(context.Background(), sampleHistory)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Analyze() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantStatus != 0 {
				var statusErr *analysis.StatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.wantStatus {
					t.Fatalf("Analyze() error = %v, want StatusError %d", err, tt.wantStatus)
				}
			}
		})
	}
}

func TestRemoteService(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		var req analysis.AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.History) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("mode") {
		case "empty":
			return
		case "fail":
			http.Error(w, "Failed to analyze history", http.StatusInternalServerError)
		default:
			_, _ = io.WriteString(w, sampleAnalysis)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	ok, _ := analysis.NewRemoteService(srv.URL, nil, logger.Discard())
	if got, err := ok.Analyze(ctx, sampleHistory); err != nil || got.Summary == "" {
		t.Errorf("Analyze() = %+v, %v", got, err)
	}

	empty, _ := analysis.NewRemoteService(srv.URL+"?mode=empty", nil, logger.Discard())
	if _, err := empty.Analyze(ctx, sampleHistory); !errors.Is(err, analysis.ErrEmptyResponse) {
		t.Errorf("Analyze() error = %v, want ErrEmptyResponse", err)
	}

	fail, _ := analysis.NewRemoteService(srv.URL+"?mode=fail", nil, logger.Discard())
	var statusErr *analysis.StatusError
	if _, err := fail.Analyze(ctx, sampleHistory); !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Analyze() error = %v, want StatusError 500", err)
	}

	if _, err := analysis.NewRemoteService("", nil, logger.Discard()); err == nil {
		t.Error("NewRemoteService() with empty endpoint succeeded")
	}
}

func TestGeminiServiceRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"code": 503, "message": "overloaded", "status": "UNAVAILABLE"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": sampleAnalysis}}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	svc, err := analysis.NewGeminiService(context.Background(), config.GeminiConfig{
		APIKey:     "g-key",
		Model:      "gemini-2.0-flash",
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, "English", &genai.HTTPOptions{BaseURL: srv.URL}, logger.Discard())
	if err != nil {
		t.Fatalf("NewGeminiService() error = %v", err)
	}

	got, err := svc.Analyze(context.Background(), sampleHistory)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Sentiment != "positive" {
		t.Errorf("Sentiment = %q", got.Sentiment)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("GenerateContent called %d times, want 2", n)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Analysis: config.AnalysisConfig{Provider: "remote", Endpoint: "http://localhost:1/analyze", Timeout: time.Second},
	}
	svc, err := analysis.New(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := svc.(*analysis.RemoteService); !ok {
		t.Errorf("New() = %T, want *RemoteService", svc)
	}

	cfg.Analysis.Provider = "openai"
	if _, err := analysis.New(context.Background(), cfg, logger.Discard()); err == nil {
		t.Error("New() without an OpenAI key succeeded")
	}
}
