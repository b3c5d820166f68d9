// Package validate cross-checks extracted invoice data with deterministic
// arithmetic: per-item quantity × unit price against the line total, and the
// header total against the summed line totals with or without tax.
package validate

import (
	"math"

	"github.com/fatura-ai/invoice-extractor/internal/invoice"
)

// DefaultTaxRate is the VAT rate assumed by the tax check (18% KDV).
const DefaultTaxRate = 0.18

// itemTolerance and taxTolerance bound rounding drift in OCR'd amounts.
const (
	itemTolerance = 0.01
	taxTolerance  = 1.0
)

// ItemCheck is the verdict for one line item, at its original index.
type ItemCheck struct {
	ItemIndex int     `json:"item_index"`
	Product   *string `json:"product,omitempty"`
	Valid     bool    `json:"valid"`
	Skipped   bool    `json:"skipped,omitempty"`
	Expected  float64 `json:"expected,omitempty"`
	Actual    float64 `json:"actual,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// TaxCheck is the verdict of the subtotal/total consistency check.
type TaxCheck struct {
	Valid           bool    `json:"valid"`
	Skipped         bool    `json:"skipped,omitempty"`
	ItemsSubtotal   float64 `json:"items_subtotal,omitempty"`
	ExpectedWithTax float64 `json:"expected_with_tax,omitempty"`
	ActualTotal     float64 `json:"actual_total,omitempty"`
	TaxRate         float64 `json:"tax_rate,omitempty"`
	VATApplied      bool    `json:"vat_applied"`
	Reason          string  `json:"reason,omitempty"`
}

// Report is a pure function of an Extraction; it is recomputed fresh on
// every evaluation and has no lifecycle of its own.
type Report struct {
	ItemCalculations []ItemCheck `json:"item_calculations"`
	TaxValidation    TaxCheck    `json:"tax_validation"`
	AllValid         bool        `json:"all_valid"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CheckItem validates quantity × unit_price = total_price for one item.
// Items missing any of the three amounts are valid+skipped, never invalid.
func CheckItem(item invoice.Item, index int) ItemCheck {
	if item.Quantity == nil || item.UnitPrice == nil || item.TotalPrice == nil {
		return ItemCheck{
			ItemIndex: index,
			Product:   item.ProductName,
			Valid:     true,
			Skipped:   true,
			Reason:    "missing required fields for calculation",
		}
	}

	expected := round2(*item.Quantity * *item.UnitPrice)
	actual := round2(*item.TotalPrice)

	return ItemCheck{
		ItemIndex: index,
		Product:   item.ProductName,
		Valid:     math.Abs(expected-actual) < itemTolerance,
		Expected:  expected,
		Actual:    actual,
	}
}

// CheckTax validates that the header total matches the item subtotal either
// with taxRate applied or without any tax.
func CheckTax(data invoice.Extraction, taxRate float64) TaxCheck {
	var subtotal float64
	for _, item := range data.Items {
		if item.TotalPrice != nil {
			subtotal += *item.TotalPrice
		}
	}

	if subtotal <= 0 || data.Header.TotalAmount == nil {
		return TaxCheck{
			Valid:   true,
			Skipped: true,
			Reason:  "insufficient data for tax validation",
		}
	}

	actualTotal := *data.Header.TotalAmount
	expectedWithTax := round2(subtotal * (1 + taxRate))

	if math.Abs(expectedWithTax-actualTotal) < taxTolerance {
		return TaxCheck{
			Valid:           true,
			ItemsSubtotal:   subtotal,
			ExpectedWithTax: expectedWithTax,
			ActualTotal:     actualTotal,
			TaxRate:         taxRate,
			VATApplied:      true,
		}
	}

	if math.Abs(subtotal-actualTotal) < taxTolerance {
		return TaxCheck{
			Valid:         true,
			ItemsSubtotal: subtotal,
			ActualTotal:   actualTotal,
		}
	}

	return TaxCheck{
		ItemsSubtotal:   subtotal,
		ExpectedWithTax: expectedWithTax,
		ActualTotal:     actualTotal,
		TaxRate:         taxRate,
		Reason:          "total does not match items subtotal with or without tax",
	}
}

// Check runs all validations on an extraction candidate.
func Check(data invoice.Extraction, taxRate float64) Report {
	if taxRate <= 0 {
		taxRate = DefaultTaxRate
	}

	items := make([]ItemCheck, 0, len(data.Items))
	allValid := true
	for i, item := range data.Items {
		c := CheckItem(item, i)
		allValid = allValid && c.Valid
		items = append(items, c)
	}

	tax := CheckTax(data, taxRate)
	allValid = allValid && tax.Valid

	return Report{
		ItemCalculations: items,
		TaxValidation:    tax,
		AllValid:         allValid,
	}
}
