package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/txm/internal/domain/config"
	"github.com/trebuchet-org/txm/internal/domain/models"
)

func TestPrometheus(t *testing.T) {
	cfg := config.DefaultRuntimeConfig()
	cfg.ChainID = 1337
	m := NewPrometheus(cfg)

	m.ObserveRPC("eth_sendRawTransaction", 10*time.Millisecond, nil)
	m.ObserveRPC("eth_sendRawTransaction", 10*time.Millisecond, errors.New("boom"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rpcCalls.WithLabelValues("eth_sendRawTransaction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcErrors.WithLabelValues("eth_sendRawTransaction")))

	m.SetRPCAlive(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcAlive))
	m.SetRPCAlive(false)
	assert.Zero(t, testutil.ToFloat64(m.rpcAlive))

	m.SetNextNonce(12)
	m.AddCollected(3)
	m.IncStatusChange(models.TransactionStatusSuccess)
	m.IncStatusChange(models.TransactionStatusSuccess)
	assert.Equal(t, 12.0, testutil.ToFloat64(m.nextNonce))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.collected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusChanges.WithLabelValues(string(models.TransactionStatusSuccess))))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `txm_next_nonce{chain_id="1337"} 12`)
}
