package constants

import "strings"

type Currency string

const (
	TRY Currency = "TRY"
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

var allCurrencies = []Currency{TRY, USD, EUR, GBP}

func CurrencyStrings() []string {
	result := make([]string, len(allCurrencies))
	for i, c := range allCurrencies {
		result[i] = string(c)
	}
	return result
}

// CanonicalizeCurrency maps common symbols and spellings onto ISO 4217 codes.
// Returns ("", false) when the input is unrecognized.
func CanonicalizeCurrency(input string) (Currency, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]Currency{
		"₺":    TRY,
		"TL":   TRY,
		"LIRA": TRY,
		"$":    USD,
		"US$":  USD,
		"€":    EUR,
		"EURO": EUR,
		"£":    GBP,
	}
	if c, ok := synonyms[normalized]; ok {
		return c, true
	}

	for _, c := range allCurrencies {
		if normalized == string(c) {
			return c, true
		}
	}
	return "", false
}
