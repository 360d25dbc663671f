package server

import (
	"crypto/rsa"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/zarvd/jwks-server/internal/discovery"
	"github.com/zarvd/jwks-server/internal/key"
	"github.com/zarvd/jwks-server/internal/metrics"
	"github.com/zarvd/jwks-server/internal/token"
)

type testEnv struct {
	backend  *Backend
	store    *key.Store
	clock    *key.ManualClock
	registry *prometheus.Registry
	logger   *slog.Logger
}

func newTestEnv(t *testing.T, storeOpts ...key.Option) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := key.NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	storeOpts = append([]key.Option{key.WithLogger(logger), key.WithClock(clock)}, storeOpts...)
	store := key.NewStore(storeOpts...)

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry, store.Len)
	require.NoError(t, err)

	return &testEnv{
		backend: &Backend{
			Issuer:    token.NewIssuer(store, token.WithLogger(logger), token.WithClock(clock)),
			Publisher: discovery.NewPublisher(logger, store),
			Keys:      store,
			Clock:     clock,
			Metrics:   m,
		},
		store:    store,
		clock:    clock,
		registry: registry,
		logger:   logger,
	}
}

func failingGenerator() (*rsa.PrivateKey, error) {
	return nil, io.ErrUnexpectedEOF
}
