package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatura-ai/invoice-extractor/constants"
)

// Bounded prefixes sent to the backends; long OCR dumps add cost without
// adding signal.
const (
	MaxAssessmentChars = 2000
	MaxJudgeTextChars  = 1500
)

// Prefix returns at most n leading bytes of s, cut on a rune boundary.
func Prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ExtractionSystemPrompt instructs a backend to emit an invoice.Extraction.
func ExtractionSystemPrompt() string {
	return strings.Join([]string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Extract the header fields (invoice number, date, supplier name, total amount, currency) and every line item.",
		"Currency must be a 3-letter ISO 4217 code, preferably one of " + strings.Join(constants.CurrencyStrings(), ", ") + ".",
		"Amounts are plain numbers without thousands separators.",
		"Use null for any field that is not present; never guess.",
		"Preserve the order in which line items appear in the document.",
	}, "\n")
}

// ExtractionUserPrompt wraps the OCR text for the extraction call.
func ExtractionUserPrompt(ocrText string) string {
	return "Extract the structured invoice data from this OCR text:\n\n" + ocrText
}

// AssessmentSystemPrompt instructs a backend to rate OCR text quality.
func AssessmentSystemPrompt() string {
	return strings.Join([]string{
		"You are an OCR quality assessor for invoice documents. Return ONLY JSON matching the provided JSON Schema.",
		"Good quality: readable text, recognizable amounts and dates, identifiable business terms.",
		"Poor quality: garbled text, excessive symbols, missing sections, output far too short for an invoice.",
		"Set should_retry when a re-scan with adjusted engine parameters could plausibly help.",
	}, "\n")
}

// AssessmentUserPrompt wraps a bounded prefix of the OCR text.
func AssessmentUserPrompt(ocrText string) string {
	return "Evaluate this OCR text quality:\n\n" + Prefix(ocrText, MaxAssessmentChars)
}

// JudgeSystemPrompt instructs a backend to choose between two candidates.
func JudgeSystemPrompt() string {
	return strings.Join([]string{
		"You compare two structured invoice extractions against the source OCR text and pick the better one.",
		"Return ONLY JSON matching the provided JSON Schema.",
		"selected_source must be exactly one of the two given source identifiers, and result must be that source's extraction unchanged.",
		"Prefer the candidate whose amounts are arithmetically consistent and whose fields match the source text.",
	}, "\n")
}

// JudgeUserPrompt lays out both candidates plus the bounded source text.
func JudgeUserPrompt(req JudgeRequest, resultA, resultB string) string {
	return fmt.Sprintf(
		"Candidate %q:\n%s\n\nCandidate %q:\n%s\n\nSource OCR text:\n%s",
		req.SourceA, resultA,
		req.SourceB, resultB,
		Prefix(req.OCRText, MaxJudgeTextChars),
	)
}
