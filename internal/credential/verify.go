package credential

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm is the only accepted signing algorithm (ECDSA P-256 / SHA-256).
const Algorithm = "ES256"

// ErrKeyNotFound is returned by a KeyResolver that has no key for the
// requested key id. A token naming an unknown key was not signed by the
// trusted authority, so it is reported as a bad signature.
var ErrKeyNotFound = errors.New("no key for key id")

var errMissingSubject = errors.New("missing subject")

// KeyResolver supplies the public key for a token's "kid" header.
type KeyResolver interface {
	ResolveKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error)
}

// StaticKey resolves every key id to one embedded public key.
type StaticKey struct {
	Key *ecdsa.PublicKey
}

// ResolveKey implements KeyResolver.
func (s StaticKey) ResolveKey(_ context.Context, _ string) (*ecdsa.PublicKey, error) {
	if s.Key == nil {
		return nil, ErrKeyNotFound
	}
	return s.Key, nil
}

// Verify checks token against a single trusted public key.
// It performs no I/O and reads no clock; now is the verification instant.
func Verify(token string, key *ecdsa.PublicKey, issuer, audience string, now time.Time) Outcome {
	v := NewVerifier(StaticKey{Key: key}, issuer, audience)
	return v.Verify(context.Background(), token, now)
}

// Verifier verifies tokens for one issuer/audience pair against keys
// from a KeyResolver. It is safe for concurrent use when the resolver is.
type Verifier struct {
	keys     KeyResolver
	issuer   string
	audience string
}

// NewVerifier creates a Verifier.
func NewVerifier(keys KeyResolver, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, audience: audience}
}

// Verify checks token at instant now. ctx bounds key resolution only.
func (v *Verifier) Verify(ctx context.Context, token string, now time.Time) Outcome {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string) //nolint:errcheck // absent kid resolves to ""
		return v.keys.ResolveKey(ctx, kid)
	})
	if err != nil {
		return classify(err)
	}

	if claims.Subject == "" {
		return invalid(ReasonMalformed, errMissingSubject)
	}
	return valid(claims)
}

// classify maps a parser error to a Reason. The parser reports structural
// and signature problems before it validates claims, and joins all claim
// failures, so the checks below run in priority order.
func classify(err error) Outcome {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(ReasonMalformed, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		if errors.Is(err, ErrKeyNotFound) {
			return invalid(ReasonBadSignature, err)
		}
		return invalid(ReasonKeyUnavailable, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return invalid(ReasonBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return invalid(ReasonExpired, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return invalid(ReasonWrongIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return invalid(ReasonWrongAudience, err)
	default:
		// Missing required claims and undecodable claim values.
		return invalid(ReasonMalformed, err)
	}
}
