package models

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FormatAmount renders an amount in the smallest token unit as a decimal string.
func FormatAmount(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ParseAmount accepts either a JSON string ("1000") or a JSON integer (1000).
// Fractions, exponents and negative values are rejected.
func ParseAmount(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errors.New("amount is required")
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.Wrap(err, "amount is not a string")
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return 0, errors.New("amount is required")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("amount '%s' is not a non-negative integer", s)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "amount '%s' is out of range", s)
	}
	return v, nil
}
