package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ghuser/toolcrib/services/inventory/domain"
)

// ParseQuantity parses a client-supplied quantity. Integral numbers written
// with a fractional part ("3.0") are accepted; anything else that is not a
// positive integer fails with ErrInvalidQuantity.
func ParseQuantity(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: missing", domain.ErrInvalidQuantity)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return checkQuantity(n, s)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, s)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %q out of range", domain.ErrInvalidQuantity, s)
	}
	return checkQuantity(int64(f), s)
}

func checkQuantity(n int64, raw string) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, raw)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q out of range", domain.ErrInvalidQuantity, raw)
	}
	return int(n), nil
}
