package openai

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds OpenAI-compatible chat/completions settings.
type Config struct {
	BaseURL     string // default "https://api.openai.com/v1"
	APIKey      string
	Model       string // default "gpt-4o-mini"
	Temperature float32
	Timeout     time.Duration // default 45s
}

// Client implements llm.Extractor, llm.Assessor, and llm.Judge over the
// chat/completions endpoint with JSON-mode structured outputs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}
