// Package llm defines the language-model backend contracts the pipeline
// depends on, plus the JSON schemas their structured outputs must satisfy.
package llm

import (
	"context"

	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// Extractor produces one structured extraction candidate from OCR text.
// Implementations must return an empty-but-valid candidate for blank input
// instead of calling the backend.
type Extractor interface {
	// Source identifies the backend, e.g. "openai:gpt-4o-mini".
	Source() string
	ExtractInvoice(ctx context.Context, ocrText string) (invoice.Extraction, error)
}

// Assessor classifies OCR text quality.
type Assessor interface {
	AssessText(ctx context.Context, ocrText string) (invoice.Assessment, error)
}

// JudgeRequest carries the two leading candidates of a near-tie arbitration
// plus a bounded prefix of the source text.
type JudgeRequest struct {
	SourceA string
	ResultA invoice.Extraction
	SourceB string
	ResultB invoice.Extraction
	OCRText string
}

// Judge picks and justifies a winner between two competing candidates.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (invoice.Decision, error)
}
