package gate

import (
	"context"

	"github.com/nerrad567/gray-logic-access/internal/credential"
)

type contextKey string

const ctxKeyClaims contextKey = "gate_claims"

// WithClaims returns a copy of ctx carrying verified claims.
func WithClaims(ctx context.Context, c *credential.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// ClaimsFromContext returns the verified claims attached by the gate.
// It returns nil for requests admitted without a credential (pre-flight
// or the loopback development bypass).
func ClaimsFromContext(ctx context.Context) *credential.Claims {
	c, _ := ctx.Value(ctxKeyClaims).(*credential.Claims) //nolint:errcheck // absent means nil
	return c
}
