// Package invoice computes bill totals. It is pure arithmetic: no
// storage, no clock, no I/O, so the same cart always prices the same.
package invoice

import (
	"math"

	"github.com/1129Aliasgar/Billing-system/internal/domain"
)

// Options controls tax application for a whole cart.
type Options struct {
	// ApplyTax enables tax on top of the subtotal.
	ApplyTax bool
	// TaxPercent is the cart-level rate, used for items without a rate
	// of their own.
	TaxPercent float64
	// SplitTax reports the tax as two even halves (central + state).
	SplitTax bool
}

// Totals is the priced result. Each field is rounded to two decimals;
// TotalAmount is rounded from the unrounded sum, so
// BillAmount + TaxAmount matches TotalAmount within 0.01.
type Totals struct {
	BillAmount  float64
	TaxAmount   float64
	TotalAmount float64
	CentralTax  float64
	StateTax    float64
}

// Calculate prices a cart. A per-item GstRate > 0 overrides the cart
// rate for that line. Rounding happens once, at the output fields;
// intermediate sums keep full float precision.
func Calculate(items []domain.LineItem, opts Options) Totals {
	var subtotal, tax float64
	for _, item := range items {
		line := item.Price * float64(item.Quantity)
		subtotal += line
		if !opts.ApplyTax {
			continue
		}
		rate := opts.TaxPercent
		if item.GstRate > 0 {
			rate = item.GstRate
		}
		tax += line * rate / 100
	}

	t := Totals{
		BillAmount:  round2(subtotal),
		TaxAmount:   round2(tax),
		TotalAmount: round2(subtotal + tax),
	}
	if opts.ApplyTax && opts.SplitTax {
		t.CentralTax = round2(tax / 2)
		t.StateTax = round2(tax / 2)
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
