// Package profit derives ROAS, margin and cost-of-goods figures from raw
// campaign and store aggregates.
//
// Every function here is pure. Every float that leaves this package is
// finite: NaN and ±Inf are replaced with 0 and the offending field name is
// reported in Clamped so the caller can log a data-integrity warning.
package profit

import "math"

// TransactionFeeRate is the payment processing fee applied to profit-sheet revenue.
const TransactionFeeRate = 0.05

// Metrics is the result of Compute.
type Metrics struct {
	Revenue   float64
	COG       float64
	MarginEUR float64
	MarginPct float64
	ROAS      float64

	// Clamped lists the outputs that were non-finite and forced to 0.
	Clamped []string
}

// Compute derives campaign metrics for unitsSold units at productPrice each,
// cogPerUnit supplier cost per unit, and totalSpend ad spend.
func Compute(unitsSold int, productPrice, cogPerUnit, totalSpend float64) Metrics {
	units := float64(unitsSold)
	revenue := units * productPrice
	cog := units * cogPerUnit
	margin := revenue - totalSpend - cog

	var m Metrics
	m.Revenue = m.finite("revenue", revenue)
	m.COG = m.finite("cog", cog)
	m.MarginEUR = m.finite("margin_eur", margin)

	// Ratios use the already-clamped operands so a NaN input cannot leak
	// through a comparison that is always false.
	if m.Revenue > 0 {
		m.MarginPct = m.finite("margin_pct", m.MarginEUR/m.Revenue*100)
	}
	spend := m.finite("spend", totalSpend)
	if spend > 0 {
		m.ROAS = m.finite("roas", m.Revenue/spend)
	}
	return m
}

// CPC returns spend per click, 0 when there are no clicks.
func CPC(spend float64, clicks int) float64 {
	if clicks <= 0 {
		return 0
	}
	return Finite(spend / float64(clicks))
}

// ProfitMargin is the per-unit margin of a product as a percentage of its
// selling price, 0 when the price is not positive.
func ProfitMargin(sellingPrice, costPrice float64) float64 {
	if !(sellingPrice > 0) {
		return 0
	}
	return Finite((sellingPrice - costPrice) / sellingPrice * 100)
}

// SheetInput is one day of profit-sheet inputs.
type SheetInput struct {
	Revenue         float64
	COG             float64
	AdSpend         float64
	OtherExpenses   float64
	ProviderRefunds float64
	ManualRefunds   float64
}

// Sheet is the computed profit-sheet day.
type Sheet struct {
	TotalRefunds   float64
	TransactionFee float64
	Profit         float64
}

// ComputeSheet applies the profit-sheet formula:
// profit = revenue - cog - spend - other expenses - total refunds - fee.
func ComputeSheet(in SheetInput) Sheet {
	refunds := Finite(in.ProviderRefunds) + Finite(in.ManualRefunds)
	fee := Finite(in.Revenue * TransactionFeeRate)
	profit := Finite(in.Revenue) - Finite(in.COG) - Finite(in.AdSpend) -
		Finite(in.OtherExpenses) - refunds - fee
	return Sheet{
		TotalRefunds:   Finite(refunds),
		TransactionFee: fee,
		Profit:         Finite(profit),
	}
}

// Finite returns f, or 0 when f is NaN or infinite.
func Finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(f float64) float64 { return Finite(math.Round(f*100) / 100) }

func (m *Metrics) finite(field string, f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		m.Clamped = append(m.Clamped, field)
		return 0
	}
	return f
}
