package key

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

const (
	// KeyBits is the modulus size of every key held by the store.
	KeyBits = 2048

	// DefaultValidity is how long a freshly generated key stays valid.
	DefaultValidity = time.Hour
)

var (
	ErrDuplicateKey  = errors.New("duplicate key id")
	ErrKeyNotFound   = errors.New("key not found")
	ErrKeyGeneration = errors.New("key generation failed")
	ErrEmptyStore    = errors.New("key store is empty")
	ErrNoValidKey    = errors.New("no unexpired key")
	ErrInvalidKey    = errors.New("invalid key")
)

// SigningKey is a snapshot of a key held by the Store. The private key is
// shared with the store and must not be modified.
type SigningKey struct {
	ID         string
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (k SigningKey) PublicKey() *rsa.PublicKey {
	return &k.PrivateKey.PublicKey
}

// Expired reports whether the key is no longer valid at now.
func (k SigningKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.After(now)
}

func (k SigningKey) PublicKeyDER() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key %q: %w", k.ID, err)
	}
	return der, nil
}
