package util

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const maxUsernameLen = 128

// ParseAmount parses a submitted amount without rounding. Surrounding spaces are ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ValidateUsername checks a trimmed display name.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("username is empty")
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		return fmt.Errorf("username too long, max %d characters", maxUsernameLen)
	}
	return nil
}
