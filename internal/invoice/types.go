// Package invoice defines the data model shared by the extraction pipeline:
// OCR output, extraction candidates, quality assessments, and decisions.
package invoice

import "strings"

// OCRResult is the outcome of one OCR pass over a document.
// Immutable once returned to the caller.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float32 `json:"confidence"` // 0..1
	Language   string  `json:"language"`
	Provider   string  `json:"provider"`
	RetryCount int     `json:"retry_count"` // incremented only by language-fallback replacement
}

// Item is a single line item from an invoice. All fields are optional;
// pointers distinguish absent from zero.
type Item struct {
	ProductName *string  `json:"product_name"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price"`
	TotalPrice  *float64 `json:"total_price"`
	Description *string  `json:"description"`
}

// Header holds the general invoice fields.
type Header struct {
	InvoiceNumber *string  `json:"invoice_number"`
	Date          *string  `json:"date"`
	SupplierName  *string  `json:"supplier_name"`
	TotalAmount   *float64 `json:"total_amount"`
	Currency      *string  `json:"currency"`
}

// Extraction is one backend's complete candidate result. Never mutated after
// creation; item order is extraction order and is preserved downstream.
type Extraction struct {
	Header Header `json:"general_fields"`
	Items  []Item `json:"items"`
}

// HeaderFieldCount is the number of header fields scored for completeness.
const HeaderFieldCount = 5

// ItemFieldCount is the number of item fields scored for completeness
// (description excluded).
const ItemFieldCount = 4

// Assessment is the quality gate's verdict on OCR text.
type Assessment struct {
	Quality     string         `json:"quality"` // constants.QualityGood | QualityPoor
	Confidence  float32        `json:"confidence"`
	Issues      []string       `json:"issues"`
	ShouldRetry bool           `json:"should_retry"`
	Params      map[string]any `json:"suggested_params,omitempty"` // engine parameter adjustments
}

// Decision is the arbiter's final selection among competing candidates.
// It always references one of the candidates it was computed from.
type Decision struct {
	SelectedSource string     `json:"selected_source"`
	Confidence     float32    `json:"confidence"`
	Reasoning      string     `json:"reasoning"`
	Result         Extraction `json:"result"`
}

// EmptyText reports whether OCR produced no usable text.
func (r OCRResult) EmptyText() bool {
	return strings.TrimSpace(r.Text) == ""
}
