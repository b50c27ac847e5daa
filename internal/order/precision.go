package order

import "github.com/shopspring/decimal"

// Round rounds v half-away-from-zero to places decimals.
func Round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Truncate drops digits beyond places. Quantities are truncated so sizing never
// rounds up past what the balance allows.
func Truncate(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Truncate(places).Float64()
	return f
}
