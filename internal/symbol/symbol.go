// Package symbol handles equity ticker normalization and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLen is the longest ticker accepted. Matches the width of the
// symbol column in the SQL schemas.
const MaxLen = 10

// tickerRegex matches exchange tickers such as AAPL, BRK.B, BHP.AX or RDS-A.
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*([.\-][A-Z0-9]+)*$`)

var (
	ErrEmpty   = errors.New("symbol: ticker is required")
	ErrInvalid = errors.New("symbol: invalid ticker format")
)

// Normalize trims and uppercases a ticker and validates its format.
// The returned string is the canonical form used as a position key.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrEmpty
	}
	if len(s) > MaxLen || !tickerRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return s, nil
}
