package jwks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// P-256 coordinates are always 32 bytes in a JWK (RFC 7518 §6.2.1.2).
const p256CoordinateSize = 32

var (
	errUnsupportedKey = errors.New("unsupported key type")
	errInvalidPoint   = errors.New("invalid curve point")
)

// keySet is the RFC 7517 document shape.
type keySet struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// publicKey converts an EC P-256 signing key. Encryption keys and other
// key types are rejected with errUnsupportedKey.
func (k jsonWebKey) publicKey() (*ecdsa.PublicKey, error) {
	if k.Kty != "EC" || k.Crv != "P-256" {
		return nil, fmt.Errorf("%w: kty=%s crv=%s", errUnsupportedKey, k.Kty, k.Crv)
	}
	if k.Use != "" && k.Use != "sig" {
		return nil, fmt.Errorf("%w: use=%s", errUnsupportedKey, k.Use)
	}
	if k.Alg != "" && k.Alg != "ES256" {
		return nil, fmt.Errorf("%w: alg=%s", errUnsupportedKey, k.Alg)
	}

	x, err := decodeCoordinate(k.X)
	if err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	y, err := decodeCoordinate(k.Y)
	if err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}

	curve := elliptic.P256()
	if !curve.IsOnCurve(x, y) { //nolint:staticcheck // validating untrusted input, no ecdh equivalent for ecdsa keys
		return nil, errInvalidPoint
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeCoordinate(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding coordinate: %w", err)
	}
	if len(b) != p256CoordinateSize {
		return nil, fmt.Errorf("%w: coordinate is %d bytes", errInvalidPoint, len(b))
	}
	return new(big.Int).SetBytes(b), nil
}
