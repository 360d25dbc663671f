package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zarvd/jwks-server/internal/key"
)

const (
	// PrimaryKeyID names the key generated on first use of an empty store.
	PrimaryKeyID = "key1"

	// ActiveKeyIDPrefix prefixes the ids of keys generated to replace an
	// expired default key for SignClaims.
	ActiveKeyIDPrefix = "key-"

	// ExpiredKeyIDPrefix prefixes the ids of keys minted for expired-key
	// issuance.
	ExpiredKeyIDPrefix = "expired-"

	DefaultSubject  = "1234567890"
	DefaultName     = "John Doe"
	DefaultValidity = time.Hour
)

type keyStore interface {
	Generate(id string) (key.SigningKey, error)
	ForceExpire(id string) (key.SigningKey, error)
	First() (key.SigningKey, error)
	FirstNonExpired(now time.Time) (key.SigningKey, error)
	Len() int
}

// Claims is the payload of an issued token.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Issued is a signed token together with the key it is bound to.
type Issued struct {
	Token     string
	KeyID     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SignedToken is a JWT signed over caller supplied claims, split into its
// base64url encoded parts.
type SignedToken struct {
	KeyID     string
	Header    string
	Payload   string
	Signature string
}

func (t *SignedToken) String() string {
	return t.Header + "." + t.Payload + "." + t.Signature
}

type Issuer struct {
	logger   *slog.Logger
	keys     keyStore
	clock    key.Clock
	subject  string
	name     string
	issuer   string
	validity time.Duration
	newKeyID func() string
}

func NewIssuer(keys keyStore, opts ...Option) *Issuer {
	i := &Issuer{
		logger:   slog.Default(),
		keys:     keys,
		clock:    key.SystemClock,
		subject:  DefaultSubject,
		name:     DefaultName,
		validity: DefaultValidity,
		newKeyID: func() string {
			return ExpiredKeyIDPrefix + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TokenValidity is the lifetime of every token the issuer signs.
func (i *Issuer) TokenValidity() time.Duration {
	return i.validity
}

// Issue signs a token with the default key. With simulateExpiredKey a fresh
// key is generated and expired first, and the token is signed with it
// instead; the token's own claims are valid either way.
func (i *Issuer) Issue(ctx context.Context, simulateExpiredKey bool) (*Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signingKey, err := i.defaultKey()
	if err != nil {
		return nil, err
	}

	if simulateExpiredKey {
		signingKey, err = i.expiredKey()
		if err != nil {
			return nil, err
		}
	}

	now := i.clock.Now()
	claims := Claims{
		Name: i.name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   i.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.validity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKey.ID

	signed, err := token.SignedString(signingKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token with key %q: %w", signingKey.ID, err)
	}

	i.logger.Info("Issued token",
		slog.String("key-id", signingKey.ID),
		slog.Bool("expired-key", simulateExpiredKey),
		slog.Time("expires-at", claims.ExpiresAt.Time),
	)

	return &Issued{
		Token:     signed,
		KeyID:     signingKey.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignClaims signs already encoded claims with the earliest unexpired key,
// so the key id is always one FetchKeys publishes. The claims are used as is
// and not inspected.
func (i *Issuer) SignClaims(ctx context.Context, encodedClaims string) (*SignedToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signingKey, err := i.activeKey()
	if err != nil {
		return nil, err
	}

	header := map[string]string{
		"alg": jwt.SigningMethodRS256.Alg(),
		"typ": "JWT",
		"kid": signingKey.ID,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)

	signature, err := jwt.SigningMethodRS256.Sign(headerB64+"."+encodedClaims, signingKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claims with key %q: %w", signingKey.ID, err)
	}

	return &SignedToken{
		KeyID:     signingKey.ID,
		Header:    headerB64,
		Payload:   encodedClaims,
		Signature: base64.RawURLEncoding.EncodeToString(signature),
	}, nil
}

// defaultKey returns the store's default key, generating the primary key
// when the store is still empty.
func (i *Issuer) defaultKey() (key.SigningKey, error) {
	if i.keys.Len() == 0 {
		_, err := i.keys.Generate(PrimaryKeyID)
		// Losing a concurrent bootstrap race leaves the store non-empty.
		if err != nil && !errors.Is(err, key.ErrDuplicateKey) {
			return key.SigningKey{}, fmt.Errorf("failed to bootstrap signing key: %w", err)
		}
	}

	k, err := i.keys.First()
	if err != nil {
		return key.SigningKey{}, fmt.Errorf("failed to select signing key: %w", err)
	}
	return k, nil
}

// activeKey returns the earliest key valid now. When all keys have expired
// a new one is generated and becomes the active key.
func (i *Issuer) activeKey() (key.SigningKey, error) {
	if _, err := i.defaultKey(); err != nil {
		return key.SigningKey{}, err
	}

	k, err := i.keys.FirstNonExpired(i.clock.Now())
	if err == nil {
		return k, nil
	}
	if !errors.Is(err, key.ErrNoValidKey) {
		return key.SigningKey{}, fmt.Errorf("failed to select signing key: %w", err)
	}

	id := ActiveKeyIDPrefix + uuid.NewString()
	k, err = i.keys.Generate(id)
	if err != nil {
		return key.SigningKey{}, fmt.Errorf("failed to replace expired signing key: %w", err)
	}
	i.logger.Info("Replaced expired signing key", slog.String("key-id", id))
	return k, nil
}

func (i *Issuer) expiredKey() (key.SigningKey, error) {
	id := i.newKeyID()
	if _, err := i.keys.Generate(id); err != nil {
		return key.SigningKey{}, fmt.Errorf("failed to generate expired key: %w", err)
	}
	k, err := i.keys.ForceExpire(id)
	if err != nil {
		return key.SigningKey{}, fmt.Errorf("failed to expire key %q: %w", id, err)
	}
	return k, nil
}
