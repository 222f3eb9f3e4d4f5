package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxUnits is the largest whole part whose cents still fit in an int64.
const maxUnits = (math.MaxInt64 - 99) / 100

// FormatMinor renders cents as a decimal string, e.g. 1250 -> "12.50".
func FormatMinor(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ParseMinor parses a decimal amount into cents. Digits past the second
// decimal place are truncated.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	if strings.ContainsAny(whole, "+-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || strings.ContainsAny(frac, "+-") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if units > maxUnits {
		return 0, fmt.Errorf("amount %q out of range", s)
	}

	total := units*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}
