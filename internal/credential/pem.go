package credential

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsupportedKey is returned for public keys that are not P-256.
var ErrUnsupportedKey = errors.New("public key is not ECDSA P-256")

// ParsePublicKeyPEM parses a PEM-encoded ECDSA P-256 public key.
func ParsePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	key, err := jwt.ParseECPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, ErrUnsupportedKey
	}
	return key, nil
}

// LoadPublicKeyFile reads a PEM public key from disk.
func LoadPublicKeyFile(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	return ParsePublicKeyPEM(data)
}
