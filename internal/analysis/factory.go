package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/edgard/lifetracker/internal/config"
)

// New builds the Service selected by cfg.Analysis.Provider.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (Service, error) {
	httpClient := &http.Client{Timeout: cfg.Analysis.Timeout}

	switch cfg.Analysis.Provider {
	case "openai":
		return NewOpenAIService(cfg.OpenAI, cfg.Analysis.Language, httpClient, log)
	case "gemini":
		return NewGeminiService(ctx, cfg.Gemini, cfg.Analysis.Language, nil, log)
	case "remote":
		return NewRemoteService(cfg.Analysis.Endpoint, httpClient, log)
	default:
		return nil, fmt.Errorf("unknown analysis provider %q", cfg.Analysis.Provider)
	}
}
