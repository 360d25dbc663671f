package token

import (
	"log/slog"
	"time"

	"github.com/zarvd/jwks-server/internal/key"
)

// Option specifies non-default overrides at
// creation time.
type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// WithClock sets the clock used for the iat and exp claims.
func WithClock(clock key.Clock) Option {
	return func(i *Issuer) {
		i.clock = clock
	}
}

// WithSubject sets the "sub" claim of issued tokens.
func WithSubject(subject string) Option {
	return func(i *Issuer) {
		i.subject = subject
	}
}

// WithName sets the "name" claim of issued tokens.
func WithName(name string) Option {
	return func(i *Issuer) {
		i.name = name
	}
}

// WithIssuer sets the "iss" claim. When empty, as by default, the claim is
// left out.
func WithIssuer(issuer string) Option {
	return func(i *Issuer) {
		i.issuer = issuer
	}
}

// WithTokenValidity sets the time between the issued-at and expiry claims.
// It is independent of the signing key's own expiry.
func WithTokenValidity(d time.Duration) Option {
	return func(i *Issuer) {
		i.validity = d
	}
}

// WithKeyIDGenerator replaces how ids for expired-key issuance are chosen.
// Generated ids must not repeat.
func WithKeyIDGenerator(fn func() string) Option {
	return func(i *Issuer) {
		i.newKeyID = fn
	}
}
