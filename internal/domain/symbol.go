package domain

import (
	"regexp"
	"strings"
)

var symbolRegex = regexp.MustCompile(`^[A-Z0-9._-]{1,32}$`)

// NormalizeSymbol trims and uppercases a trade symbol and validates it
// against ^[A-Z0-9._-]{1,32}$.
func NormalizeSymbol(s string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(symbol) {
		return "", &ValidationError{
			Message: "symbol must match ^[A-Z0-9._-]{1,32}$",
		}
	}
	return symbol, nil
}
