package discovery

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/zarvd/jwks-server/internal/key"
)

const (
	// JWKSPath is where the key set is served relative to the issuer.
	JWKSPath = "/.well-known/jwks.json"

	// ConfigurationPath is the OpenID provider metadata location.
	ConfigurationPath = "/.well-known/openid-configuration"

	KeyUse = "sig"
)

type keyLister interface {
	ListNonExpired(now time.Time) []key.SigningKey
}

// PublicKey is a DER (PKIX) encoded public key paired with its key id.
type PublicKey struct {
	KeyID string
	Key   []byte
}

// Configuration is the subset of OpenID Provider Metadata this server can
// honestly advertise.
type Configuration struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// Publisher renders the store's currently valid keys. Nothing is cached: every
// call reflects the store at the given instant.
type Publisher struct {
	logger *slog.Logger
	keys   keyLister
}

func NewPublisher(logger *slog.Logger, keys keyLister) *Publisher {
	return &Publisher{
		logger: logger,
		keys:   keys,
	}
}

// Publish returns the public JWKS of all keys valid at now.
func (p *Publisher) Publish(now time.Time) *jose.JSONWebKeySet {
	valid := p.keys.ListNonExpired(now)

	jwks := &jose.JSONWebKeySet{
		Keys: make([]jose.JSONWebKey, 0, len(valid)),
	}
	for _, k := range valid {
		jwks.Keys = append(jwks.Keys, jose.JSONWebKey{
			Key:       k.PublicKey(),
			KeyID:     k.ID,
			Algorithm: string(jose.RS256),
			Use:       KeyUse,
		})
	}

	p.logger.Debug("Published JWKS", slog.Int("num-keys", len(jwks.Keys)))
	return jwks
}

// PublicKeys returns the DER encoding of all keys valid at now.
func (p *Publisher) PublicKeys(now time.Time) ([]PublicKey, error) {
	valid := p.keys.ListNonExpired(now)

	rv := make([]PublicKey, 0, len(valid))
	for _, k := range valid {
		der, err := k.PublicKeyDER()
		if err != nil {
			return nil, fmt.Errorf("failed to encode key: %w", err)
		}
		rv = append(rv, PublicKey{KeyID: k.ID, Key: der})
	}
	return rv, nil
}

// Configuration builds the provider metadata for issuer.
func (p *Publisher) Configuration(issuer string) *Configuration {
	issuer = strings.TrimSuffix(issuer, "/")
	return &Configuration{
		Issuer:                           issuer,
		JWKSURI:                          issuer + JWKSPath,
		ResponseTypesSupported:           []string{"id_token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{string(jose.RS256)},
		ClaimsSupported:                  []string{"sub", "name", "iat", "exp", "iss"},
	}
}
