package price

import (
	"math"
)

// Discount returns the integer percentage off original, rounded half-up, or
// nil when either price is missing or not finite or original is not positive.
// Negative results (price went up) are returned as-is; callers filter them.
func Discount(current, original *float64) *int {
	if current == nil || original == nil {
		return nil
	}
	c, o := *current, *original
	if !isFinite(c) || !isFinite(o) || o <= 0 {
		return nil
	}

	raw := ((o - c) / o) * 100
	percent := int(math.Floor(raw + 0.5))
	return &percent
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Retention is a caller-side policy deciding which discounts are worth
// keeping. The zero value keeps every record.
type Retention struct {
	// RequirePositive drops records whose discount is missing or <= 0.
	RequirePositive bool `json:"requirePositive"`
	// MinDiscountPercent drops records whose discount is missing or below it.
	// Zero disables the threshold.
	MinDiscountPercent int `json:"minDiscountPercent"`
}

func (r Retention) Keep(discount *int) bool {
	if r.RequirePositive && (discount == nil || *discount <= 0) {
		return false
	}
	if r.MinDiscountPercent > 0 && (discount == nil || *discount < r.MinDiscountPercent) {
		return false
	}
	return true
}

// PositiveOnly keeps only strictly positive discounts.
func PositiveOnly(discount *int) *int {
	if discount == nil || *discount <= 0 {
		return nil
	}
	return discount
}
