// Package ollama implements llm.Extractor against a local Ollama server,
// giving the arbiter a second backend to run alongside OpenAI.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
)

type Config struct {
	Host    string // default "http://localhost:11434"
	Model   string // default "llama3.2"
	Timeout time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}
}

func (c *Client) Source() string {
	return "ollama:" + c.cfg.Model
}

// ExtractInvoice implements llm.Extractor via the Ollama /api/chat endpoint
// in JSON mode.
func (c *Client) ExtractInvoice(ctx context.Context, ocrText string) (invoice.Extraction, error) {
	if strings.TrimSpace(ocrText) == "" {
		c.log.Warn("llm.extract.empty_input", "source", c.Source())
		return invoice.Extraction{Items: []invoice.Item{}}, nil
	}

	schema := llm.BuildExtractionSchema()
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return invoice.Extraction{}, fmt.Errorf("marshal schema: %w", err)
	}

	body := map[string]any{
		"model":  c.cfg.Model,
		"stream": false,
		"format": "json",
		"messages": []map[string]any{
			{"role": "system", "content": llm.ExtractionSystemPrompt() + "\n\nJSON Schema:\n" + string(schemaJSON)},
			{"role": "user", "content": llm.ExtractionUserPrompt(ocrText)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.Host, "/") + "/api/chat"
	raw, _, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, nil, c.log)
	if err != nil {
		return invoice.Extraction{}, fmt.Errorf("ollama chat: %w", err)
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return invoice.Extraction{}, fmt.Errorf("decode ollama response: %w", err)
	}
	content := []byte(strings.TrimSpace(resp.Message.Content))

	if err := llm.ValidateJSONAgainstSchema(schema, content); err != nil {
		return invoice.Extraction{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var out invoice.Extraction
	if err := json.Unmarshal(content, &out); err != nil {
		return invoice.Extraction{}, fmt.Errorf("unmarshal extraction: %w", err)
	}
	llm.NormalizeExtraction(&out)
	return out, nil
}
