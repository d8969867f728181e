package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cryptoexecutor/src/retry"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	methodCreateOrder     = "private/create-order"
	methodCreateOrderList = "private/create-order-list"
	methodCancelOrder     = "private/cancel-order"
	methodOpenOrders      = "private/get-open-orders"
	methodOrderHistory    = "private/get-order-history"
	methodOrderDetail     = "private/get-order-detail"
	methodUserBalance     = "private/user-balance"
	methodInstruments     = "public/get-instruments"
	methodTickers         = "public/get-tickers"
	methodCandlestick     = "public/get-candlestick"
)

// maxParamDepth matches the exchange's signature flattening depth.
const maxParamDepth = 3

// APIResponse is the envelope of every exchange response.
type APIResponse struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Client is a signed REST client for the exchange.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client
	limiter   *rate.Limiter
	policy    retry.Policy
	alerter   FatalAlerter
	now       func() time.Time
	seq       int64

	instrumentTTL time.Duration
	mu            sync.RWMutex
	instruments   map[string]Instrument
	instrumentsAt time.Time
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == 429 || code == 408
}

// NewClient builds a client from credentials and connector configuration.
// alerter may be nil.
func NewClient(apiKey, apiSecret string, cfg Config, alerter FatalAlerter) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.crypto.com/exchange/v1"
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		policy: retry.Policy{
			Name:            "exchange",
			MaxAttempts:     cfg.RetryAttempts,
			InitialInterval: cfg.RetryBaseDelay,
			MaxInterval:     cfg.RetryMaxDelay,
			Denylist:        NonRetryableCodes,
		},
		alerter:       alerter,
		now:           time.Now,
		instrumentTTL: cfg.InstrumentTTL,
		instruments:   map[string]Instrument{},
	}
}

// paramString flattens params the way the exchange does for signing:
// keys sorted, key followed by value, nested values expanded in place.
func paramString(v interface{}, depth int) string {
	if depth > maxParamDepth {
		return fmt.Sprint(v)
	}
	switch t := v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString(paramString(t[k], depth+1))
		}
		return b.String()
	case []interface{}:
		var b strings.Builder
		for _, item := range t {
			b.WriteString(paramString(item, depth+1))
		}
		return b.String()
	case []map[string]interface{}:
		var b strings.Builder
		for _, item := range t {
			b.WriteString(paramString(item, depth+1))
		}
		return b.String()
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func signRequest(method string, id int64, apiKey string, params map[string]interface{}, nonce int64, secret string) string {
	var p string
	if len(params) > 0 {
		p = paramString(params, 0)
	}
	payload := method + strconv.FormatInt(id, 10) + apiKey + p + strconv.FormatInt(nonce, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) nextID() int64 {
	return atomic.AddInt64(&c.seq, 1)
}

// privateCall signs and posts one request under the given retry policy.
func (c *Client) privateCall(ctx context.Context, method string, params map[string]interface{}, out interface{}, policy retry.Policy) error {
	return retry.Do(ctx, policy, func(ctx context.Context) error {
		id := c.nextID()
		nonce := c.now().UnixMilli()
		if params == nil {
			params = map[string]interface{}{}
		}
		body := map[string]interface{}{
			"id":      id,
			"method":  method,
			"api_key": c.apiKey,
			"params":  params,
			"nonce":   nonce,
			"sig":     signRequest(method, id, c.apiKey, params, nonce, c.apiSecret),
		}
		return c.execute(ctx, method, func(req *resty.Request) (*resty.Response, error) {
			return req.SetBody(body).Post("/" + method)
		}, out)
	})
}

// publicCall issues an unsigned GET.
func (c *Client) publicCall(ctx context.Context, method string, query map[string]string, out interface{}) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		return c.execute(ctx, method, func(req *resty.Request) (*resty.Response, error) {
			return req.SetQueryParams(query).Get("/" + method)
		}, out)
	})
}

func (c *Client) execute(
	ctx context.Context,
	method string,
	send func(req *resty.Request) (*resty.Response, error),
	out interface{},
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &ExchangeError{Method: method, Message: "rate limiter wait aborted", Class: ClassRetryable, Err: err}
	}

	logger.WithFields(map[string]interface{}{
		"client": "exchange",
		"method": method,
	}).Debug("exchange request")

	resp, err := send(c.http.R().SetContext(ctx))
	if err != nil {
		return &ExchangeError{Method: method, Message: err.Error(), Class: ClassRetryable, Err: err}
	}

	raw := resp.Body()
	var apiResp APIResponse
	decodeErr := json.Unmarshal(raw, &apiResp)

	// The exchange reports business errors with a non-2xx status and a code body.
	if decodeErr == nil && apiResp.Code != CodeSuccess {
		xe := newCodeError(method, apiResp.Code, apiResp.Message)
		xe.HTTPStatus = resp.StatusCode()
		logger.WithFields(map[string]interface{}{
			"client": "exchange",
			"method": method,
			"code":   apiResp.Code,
			"class":  xe.Class.String(),
		}).Warn("exchange returned error code")
		return xe
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		class := ClassFatal
		if isRetryableResp(resp, nil) {
			class = ClassRetryable
		}
		return &ExchangeError{Method: method, HTTPStatus: resp.StatusCode(), Message: truncate(string(raw), 300), Class: class}
	}

	if decodeErr != nil {
		return &ExchangeError{Method: method, Message: "invalid response body", Class: ClassRetryable, Err: decodeErr}
	}

	logger.WithFields(map[string]interface{}{
		"client": "exchange",
		"method": method,
		"status": resp.StatusCode(),
	}).Debug("exchange response")

	if out == nil || len(apiResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Result, out); err != nil {
		return &ExchangeError{Method: method, Message: "invalid result payload", Class: ClassFatal, Err: err}
	}
	return nil
}

func (c *Client) alertFatal(ctx context.Context, err error) {
	if c.alerter == nil {
		return
	}
	key := fmt.Sprintf("exchange:%d", ErrorCodeOf(err))
	c.alerter.Alert(ctx, key, "high", err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
