package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fatura-ai/invoice-extractor/internal/invoice"
	"github.com/fatura-ai/invoice-extractor/internal/llm"
)

// Source implements llm.Extractor.
func (c *Client) Source() string {
	return "openai:" + c.cfg.Model
}

// ExtractInvoice implements llm.Extractor using text-only chat/completions.
func (c *Client) ExtractInvoice(ctx context.Context, ocrText string) (invoice.Extraction, error) {
	if strings.TrimSpace(ocrText) == "" {
		c.log.Warn("llm.extract.empty_input", "source", c.Source())
		return invoice.Extraction{Items: []invoice.Item{}}, nil
	}

	schema := llm.BuildExtractionSchema()
	raw, err := c.complete(ctx, "extract",
		llm.ExtractionSystemPrompt(),
		llm.ExtractionUserPrompt(ocrText),
		schema,
	)
	if err != nil {
		return invoice.Extraction{}, err
	}

	var out invoice.Extraction
	if err := json.Unmarshal(raw, &out); err != nil {
		return invoice.Extraction{}, fmt.Errorf("unmarshal extraction: %w", err)
	}
	llm.NormalizeExtraction(&out)
	return out, nil
}

// AssessText implements llm.Assessor.
func (c *Client) AssessText(ctx context.Context, ocrText string) (invoice.Assessment, error) {
	schema := llm.BuildAssessmentSchema()
	raw, err := c.complete(ctx, "assess",
		llm.AssessmentSystemPrompt(),
		llm.AssessmentUserPrompt(ocrText),
		schema,
	)
	if err != nil {
		return invoice.Assessment{}, err
	}

	var out invoice.Assessment
	if err := json.Unmarshal(raw, &out); err != nil {
		return invoice.Assessment{}, fmt.Errorf("unmarshal assessment: %w", err)
	}
	return out, nil
}

// Judge implements llm.Judge.
func (c *Client) Judge(ctx context.Context, req llm.JudgeRequest) (invoice.Decision, error) {
	resultA, err := json.MarshalIndent(req.ResultA, "", "  ")
	if err != nil {
		return invoice.Decision{}, fmt.Errorf("marshal candidate a: %w", err)
	}
	resultB, err := json.MarshalIndent(req.ResultB, "", "  ")
	if err != nil {
		return invoice.Decision{}, fmt.Errorf("marshal candidate b: %w", err)
	}

	schema := llm.BuildDecisionSchema()
	raw, err := c.complete(ctx, "judge",
		llm.JudgeSystemPrompt(),
		llm.JudgeUserPrompt(req, string(resultA), string(resultB)),
		schema,
	)
	if err != nil {
		return invoice.Decision{}, err
	}

	var out invoice.Decision
	if err := json.Unmarshal(raw, &out); err != nil {
		return invoice.Decision{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	if out.SelectedSource != req.SourceA && out.SelectedSource != req.SourceB {
		return invoice.Decision{}, fmt.Errorf("judge selected unknown source %q", out.SelectedSource)
	}
	return out, nil
}

// complete runs one chat/completions call and returns the schema-validated
// JSON content of the first choice.
func (c *Client) complete(ctx context.Context, op, system, user string, schema map[string]any) ([]byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm."+op+".start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(user),
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if err != nil {
		c.log.Error("llm."+op+".http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm."+op+".decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm."+op+".no_choices",
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("no choices in openai response")
	}
	content := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	if err := llm.ValidateJSONAgainstSchema(schema, content); err != nil {
		c.log.Error("llm."+op+".schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	c.log.Info("llm."+op+".ok",
		"req_id", rid,
		"bytes", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
