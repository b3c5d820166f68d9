package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON-Schema (draft 2020-12 subset) maps passed to the backends as
// structured-output constraints and used locally to validate replies.

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

// BuildExtractionSchema describes an invoice.Extraction: five nullable
// header fields plus an array of items with nullable fields.
func BuildExtractionSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"product_name": nullable("string"),
			"quantity":     nullable("number"),
			"unit_price":   nullable("number"),
			"total_price":  nullable("number"),
			"description":  nullable("string"),
		},
	}
	header := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"invoice_number": nullable("string"),
			"date":           nullable("string"),
			"supplier_name":  nullable("string"),
			"total_amount":   nullable("number"),
			"currency":       nullable("string"),
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"general_fields": header,
			"items":          map[string]any{"type": "array", "items": item},
		},
		"required": []string{"general_fields", "items"},
	}
}

// BuildAssessmentSchema describes an invoice.Assessment.
func BuildAssessmentSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"quality":          map[string]any{"type": "string", "enum": []string{"good", "poor"}},
			"confidence":       confidenceProp(),
			"issues":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"should_retry":     map[string]any{"type": "boolean"},
			"suggested_params": map[string]any{"type": "object"},
		},
		"required": []string{"quality", "confidence"},
	}
}

// BuildDecisionSchema describes an invoice.Decision.
func BuildDecisionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"selected_source": map[string]any{"type": "string", "minLength": 1},
			"confidence":      confidenceProp(),
			"reasoning":       map[string]any{"type": "string"},
			"result":          BuildExtractionSchema(),
		},
		"required": []string{"selected_source", "confidence", "reasoning", "result"},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
