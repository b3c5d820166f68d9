package llm

import (
	"github.com/fatura-ai/invoice-extractor/constants"
	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// NormalizeExtraction applies the post-decode cleanup shared by every
// backend: a missing item list becomes an empty one, and recognizable
// currency spellings (symbols, local abbreviations like "TL") are folded
// to their ISO 4217 code. An unrecognized currency passes through as the
// backend printed it.
func NormalizeExtraction(e *invoice.Extraction) {
	if e.Items == nil {
		e.Items = []invoice.Item{}
	}
	if e.Header.Currency == nil {
		return
	}
	if code, ok := constants.CanonicalizeCurrency(*e.Header.Currency); ok {
		s := string(code)
		e.Header.Currency = &s
	}
}
