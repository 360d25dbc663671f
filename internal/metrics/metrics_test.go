package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	stored := 3
	m, err := New(reg, func() int { return stored })
	require.NoError(t, err)

	m.TokensIssued.WithLabelValues("http", "false").Inc()
	m.TokensIssued.WithLabelValues("http", "true").Add(2)
	m.PublishedKeys.Set(1)

	assert.InDelta(t, 1, testutil.ToFloat64(m.TokensIssued.WithLabelValues("http", "false")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.TokensIssued.WithLabelValues("http", "true")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.StoredKeys), 0)

	stored = 5
	assert.InDelta(t, 5, testutil.ToFloat64(m.StoredKeys), 0)

	// A second set of collectors cannot share the registry.
	_, err = New(reg, func() int { return 0 })
	require.Error(t, err)
}
