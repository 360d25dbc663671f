package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
	"google.golang.org/grpc"
	v1 "k8s.io/externaljwt/apis/v1"
	"k8s.io/externaljwt/apis/v1alpha1"

	"github.com/zarvd/jwks-server/internal/discovery"
	"github.com/zarvd/jwks-server/internal/key"
	"github.com/zarvd/jwks-server/internal/metrics"
	"github.com/zarvd/jwks-server/internal/token"
)

type Issuer interface {
	Issue(ctx context.Context, simulateExpiredKey bool) (*token.Issued, error)
	SignClaims(ctx context.Context, encodedClaims string) (*token.SignedToken, error)
	TokenValidity() time.Duration
}

type Publisher interface {
	Publish(now time.Time) *jose.JSONWebKeySet
	PublicKeys(now time.Time) ([]discovery.PublicKey, error)
	Configuration(issuer string) *discovery.Configuration
}

type KeyInfo interface {
	UpdatedAt() time.Time
}

// Backend is what the transports need from the issuance core.
type Backend struct {
	Issuer    Issuer
	Publisher Publisher
	Keys      KeyInfo
	Clock     key.Clock
	Metrics   *metrics.Metrics
}

func (b *Backend) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

// dataTimestamp is when the published key set last changed. An untouched
// store reports the current time.
func (b *Backend) dataTimestamp() time.Time {
	if ts := b.Keys.UpdatedAt(); !ts.IsZero() {
		return ts
	}
	return b.now()
}

func (b *Backend) refreshHintSeconds() int64 {
	return int64(b.Issuer.TokenValidity().Seconds() / 2)
}

// NewGRPCServer serves both versions of the ExternalJWTSigner API.
func NewGRPCServer(logger *slog.Logger, b *Backend, opts ...grpc.ServerOption) *grpc.Server {
	grpcServer := grpc.NewServer(opts...)
	v1.RegisterExternalJWTSignerServer(grpcServer, NewV1Server(logger, b))
	v1alpha1.RegisterExternalJWTSignerServer(grpcServer, NewV1Alpha1Server(logger, b))
	return grpcServer
}
