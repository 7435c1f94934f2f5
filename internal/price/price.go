package price

import (
	"math"
	"strconv"
	"strings"
)

// DecimalConvention decides how commas in a price string are read.
type DecimalConvention string

const (
	// DecimalComma treats the first comma as the decimal marker. This
	// mis-reads thousands separators: "1,234.56" parses as 1.234.
	DecimalComma DecimalConvention = "comma"
	// ThousandsComma drops every comma before parsing.
	ThousandsComma DecimalConvention = "thousands"
)

// Parser normalizes localized price text according to a decimal convention.
type Parser struct {
	Convention DecimalConvention
}

// Normalize parses raw with the default comma-as-decimal convention.
func Normalize(raw string) (float64, bool) {
	return Parser{Convention: DecimalComma}.Normalize(raw)
}

// Normalize returns the numeric value of raw, or false when it is empty,
// unparseable or not finite. It never fails loudly.
func (p Parser) Normalize(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	switch p.Convention {
	case ThousandsComma:
		clean = strings.ReplaceAll(clean, ",", "")
	default:
		clean = strings.Replace(clean, ",", ".", 1)
	}

	value, ok := parseLeadingFloat(clean)
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// Ptr is Normalize returning nil for absent values.
func (p Parser) Ptr(raw string) *float64 {
	v, ok := p.Normalize(raw)
	if !ok {
		return nil
	}
	return &v
}

// parseLeadingFloat parses the longest prefix of s that forms a decimal
// number, so "12.99.50" yields 12.99 and "--5" yields nothing.
func parseLeadingFloat(s string) (float64, bool) {
	end := 0
	if end < len(s) && s[end] == '-' {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		frac := end + 1
		for frac < len(s) && s[frac] >= '0' && s[frac] <= '9' {
			frac++
			digits++
		}
		end = frac
	}
	if digits == 0 {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
