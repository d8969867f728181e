package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedAlert struct {
	key      string
	severity string
	message  string
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (r *recordingAlerter) Alert(_ context.Context, key, severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, recordedAlert{key: key, severity: severity, message: message})
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type rpcBody struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	APIKey string                 `json:"api_key"`
	Params map[string]interface{} `json:"params"`
	Nonce  int64                  `json:"nonce"`
	Sig    string                 `json:"sig"`
}

func writeResult(t *testing.T, w http.ResponseWriter, status, code int, result interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"id": 1, "code": code, "result": result}
	if code != 0 {
		body["message"] = GetErrorMsg(code)
	}
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func decodeRPC(t *testing.T, r *http.Request) rpcBody {
	t.Helper()
	var b rpcBody
	require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
	return b
}

func instrumentsHandler(t *testing.T, calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"data": []map[string]interface{}{{
				"symbol":            "BTC_USDT",
				"base_ccy":          "BTC",
				"quote_ccy":         "USDT",
				"quote_decimals":    2,
				"quantity_decimals": 5,
				"price_tick_size":   "0.01",
				"qty_tick_size":     "0.00001",
				"tradable":          true,
			}},
		})
	}
}

func newTestClient(t *testing.T, mux *http.ServeMux) (*Client, *recordingAlerter) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	alerter := &recordingAlerter{}
	c := NewClient("test-key", "test-secret", Config{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		RateLimit:      1000,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		InstrumentTTL:  time.Hour,
	}, alerter)
	return c, alerter
}

func TestIsRetryableResp(t *testing.T) {
	resp := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: errors.New("boom"), want: true},
		{name: "server error", resp: resp(503), want: true},
		{name: "too many requests", resp: resp(429), want: true},
		{name: "timeout", resp: resp(408), want: true},
		{name: "bad request", resp: resp(400), want: false},
		{name: "nil resp", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func TestSignRequest(t *testing.T) {
	params := map[string]interface{}{
		"side":            "BUY",
		"instrument_name": "BTC_USDT",
		"quantity":        "0.00100",
	}
	got := signRequest("private/create-order", 7, "key", params, 1700000000000, "secret")

	payload := "private/create-order" + "7" + "key" +
		"instrument_nameBTC_USDTquantity0.00100sideBUY" + "1700000000000"
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
}

func TestParamStringFlattensNestedValues(t *testing.T) {
	params := map[string]interface{}{
		"contingency_type": "LIST",
		"order_list": []interface{}{
			map[string]interface{}{"side": "SELL", "instrument_name": "ETH_USDT"},
		},
		"empty": nil,
		"limit": 100,
	}
	assert.Equal(t,
		"contingency_typeLISTemptynulllimit100order_listinstrument_nameETH_USDTsideSELL",
		paramString(params, 0))
}

func TestCreateOrderRetriesPriceFormatWithAnotherPrecision(t *testing.T) {
	var sentPrices []string
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	mux.HandleFunc("/private/create-order", func(w http.ResponseWriter, r *http.Request) {
		body := decodeRPC(t, r)
		sentPrices = append(sentPrices, body.Params["ref_price"].(string))
		if len(sentPrices) == 1 {
			writeResult(t, w, http.StatusBadRequest, CodeInvalidPriceFormat, nil)
			return
		}
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{"order_id": "111", "client_oid": "sl-1"})
	})
	c, _ := newTestClient(t, mux)

	ack, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol:        "BTC_USDT",
		Side:          "SELL",
		Type:          "STOP_LOSS",
		TriggerPrice:  decimal.RequireFromString("97000.129"),
		Quantity:      decimal.RequireFromString("0.0012345"),
		ClientOrderID: "sl-1",
		PriceRounding: RoundDown,
	})
	require.NoError(t, err)
	assert.Equal(t, "111", ack.OrderID.String())
	assert.Equal(t, []string{"97000.12", "97000.1"}, sentPrices)
	assert.Equal(t, "0.00123", ack.Quantity)
	assert.Equal(t, "97000.1", ack.TriggerPrice)
}

func TestCreateOrderPriceFormatExhaustedIsRetryable(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	mux.HandleFunc("/private/create-order", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeResult(t, w, http.StatusBadRequest, CodeInvalidPriceFormat, nil)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC_USDT", Side: "BUY", Type: "LIMIT",
		Price:    decimal.RequireFromString("100500.55"),
		Quantity: decimal.RequireFromString("0.001"),
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(len(PrecisionCandidates(&Instrument{PriceTick: decimal.RequireFromString("0.01"), QuoteDecimals: 2}))), atomic.LoadInt32(&calls))
}

func TestCreateOrderConditionalDisabledFallsBackOnce(t *testing.T) {
	var listCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	mux.HandleFunc("/private/create-order", func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, http.StatusBadRequest, CodeConditionalDisabled, nil)
	})
	mux.HandleFunc("/private/create-order-list", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		body := decodeRPC(t, r)
		assert.Equal(t, "LIST", body.Params["contingency_type"])
		assert.Len(t, body.Params["order_list"], 1)
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"result_list": []map[string]interface{}{{"index": 0, "code": 0, "order_id": "222", "client_oid": "tp-1"}},
		})
	})
	c, alerter := newTestClient(t, mux)

	ack, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC_USDT", Side: "SELL", Type: "TAKE_PROFIT",
		TriggerPrice:  decimal.RequireFromString("103000.001"),
		Quantity:      decimal.RequireFromString("0.001"),
		ClientOrderID: "tp-1",
		PriceRounding: RoundUp,
	})
	require.NoError(t, err)
	assert.True(t, ack.ViaFallback)
	assert.Equal(t, "222", ack.OrderID.String())
	assert.Equal(t, "103000.01", ack.TriggerPrice)
	assert.Equal(t, int32(1), atomic.LoadInt32(&listCalls))
	assert.Zero(t, alerter.count())
}

func TestCreateOrderFallbackFailureIsFatalAndAlerts(t *testing.T) {
	var listCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	mux.HandleFunc("/private/create-order", func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, http.StatusBadRequest, CodeConditionalDisabled, nil)
	})
	mux.HandleFunc("/private/create-order-list", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		writeResult(t, w, http.StatusBadRequest, CodeConditionalDisabled, nil)
	})
	c, alerter := newTestClient(t, mux)

	_, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC_USDT", Side: "SELL", Type: "STOP_LOSS",
		TriggerPrice: decimal.RequireFromString("97000"),
		Quantity:     decimal.RequireFromString("0.001"),
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, CodeConditionalDisabled, ErrorCodeOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&listCalls))
	require.Equal(t, 1, alerter.count())
	assert.Equal(t, "high", alerter.alerts[0].severity)
}

func TestCreateOrderAuthFailureIsFatalWithoutRetry(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	mux.HandleFunc("/private/create-order", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeResult(t, w, http.StatusUnauthorized, CodeAuthFailure, nil)
	})
	c, alerter := newTestClient(t, mux)

	_, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC_USDT", Side: "BUY", Type: "MARKET",
		Quantity: decimal.RequireFromString("0.001"),
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, IsAuthError(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, alerter.count())
}

func TestCreateOrderQuantityRoundingToZero(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, nil))
	c, _ := newTestClient(t, mux)

	_, err := c.CreateOrder(context.Background(), OrderRequest{
		Symbol: "BTC_USDT", Side: "BUY", Type: "MARKET",
		Quantity: decimal.RequireFromString("0.000001"),
	})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestGetOpenOrdersRetriesServerErrors(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/private/get-open-orders", func(w http.ResponseWriter, r *http.Request) {
		body := decodeRPC(t, r)
		assert.Equal(t, "test-key", body.APIKey)
		assert.NotEmpty(t, body.Sig)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"data": []map[string]interface{}{{
				"order_id":            "555",
				"client_oid":          "abc",
				"instrument_name":     "BTC_USDT",
				"side":                "BUY",
				"order_type":          "LIMIT",
				"status":              "ACTIVE",
				"limit_price":         "100000.00",
				"quantity":            "0.001",
				"cumulative_quantity": 0,
				"create_time":         1700000000000,
			}},
		})
	})
	c, _ := newTestClient(t, mux)

	orders, err := c.GetOpenOrders(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "555", orders[0].OrderID.String())
	assert.Equal(t, "0", orders[0].CumulativeQuantity.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOpenOrdersRetriesClientTimeout(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/private/get-open-orders", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(300 * time.Millisecond)
			return
		}
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{"data": []map[string]interface{}{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", "test-secret", Config{
		BaseURL:        srv.URL,
		Timeout:        50 * time.Millisecond,
		RateLimit:      1000,
		RetryAttempts:  4,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
		InstrumentTTL:  time.Hour,
	}, &recordingAlerter{})

	orders, err := c.GetOpenOrders(context.Background(), "BTC_USDT")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetInstrumentUsesCache(t *testing.T) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-instruments", instrumentsHandler(t, &calls))
	c, _ := newTestClient(t, mux)

	for i := 0; i < 3; i++ {
		inst, err := c.GetInstrument(context.Background(), "BTC_USDT")
		require.NoError(t, err)
		assert.True(t, inst.PriceTick.Equal(decimal.RequireFromString("0.01")))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err := c.GetInstrument(context.Background(), "DOGE_USDT")
	require.Error(t, err)
}

func TestGetCandles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/public/get-candlestick", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC_USDT", r.URL.Query().Get("instrument_name"))
		assert.Equal(t, "1h", r.URL.Query().Get("timeframe"))
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"data": []map[string]interface{}{
				{"o": "1", "h": "2", "l": "0.5", "c": "1.5", "v": "10", "t": 1704067200000},
			},
		})
	})
	c, _ := newTestClient(t, mux)

	candles, err := c.GetCandles(context.Background(), "BTC_USDT", "1h", 10)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.True(t, candles[0].Close.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), candles[0].Time)
}

func TestGetBalances(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/private/user-balance", func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"data": []map[string]interface{}{{
				"total_cash_balance": "1500.5",
				"position_balances": []map[string]interface{}{
					{"instrument_name": "BTC", "quantity": "0.01", "market_value": "1000", "reserved_qty": "0"},
				},
			}},
		})
	})
	c, _ := newTestClient(t, mux)

	summary, err := c.GetBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1500.5", summary.TotalCashBalance.String())
	require.Len(t, summary.PositionBalances, 1)
	assert.Equal(t, "BTC", summary.PositionBalances[0].Currency)
}

func TestGetOrderDetail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/private/get-order-detail", func(w http.ResponseWriter, r *http.Request) {
		body := decodeRPC(t, r)
		assert.Equal(t, "777", body.Params["order_id"])
		writeResult(t, w, http.StatusOK, 0, map[string]interface{}{
			"order_id": "777", "status": "FILLED", "instrument_name": "BTC_USDT", "avg_price": "100000",
		})
	})
	c, _ := newTestClient(t, mux)

	info, err := c.GetOrderDetail(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, "FILLED", info.Status)
	assert.Equal(t, "100000", info.AvgPrice.String())
}
