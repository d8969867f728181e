package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	before := testutil.ToFloat64(signals.WithLabelValues("BTC_USDT", "BUY"))
	IncSignal("BTC_USDT", "BUY")
	assert.Equal(t, before+1, testutil.ToFloat64(signals.WithLabelValues("BTC_USDT", "BUY")))

	SetDrift(0.02)
	assert.Equal(t, 0.02, testutil.ToFloat64(drift))

	SetOpenOrders("BTC_USDT", 2)
	ObserveCycle("reconcile", time.Now().Add(-time.Second))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "executor_portfolio_drift_ratio 0.02")
	assert.Contains(t, rec.Body.String(), `executor_open_orders{symbol="BTC_USDT"} 2`)
}
