// Package tracking carries a per-request tracking number through contexts so
// that every log line of one request or event can be correlated.
package tracking

import (
	"context"

	uuid "github.com/satori/uuid"
)

type ctxKey struct{}

// Header is the HTTP header used to propagate a tracking number.
const Header = "X-Tracking-Number"

// New returns a fresh tracking number.
func New() string {
	return uuid.NewV4().String()
}

// With returns a child context carrying number.
func With(ctx context.Context, number string) context.Context {
	return context.WithValue(ctx, ctxKey{}, number)
}

// From returns the tracking number of ctx, or "-" when there is none.
func From(ctx context.Context) string {
	if n, ok := ctx.Value(ctxKey{}).(string); ok && n != "" {
		return n
	}
	return "-"
}
