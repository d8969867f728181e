package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// wsFrame is the envelope of every user stream frame.
type wsFrame struct {
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Result  *wsResult   `json:"result,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	APIKey  string      `json:"api_key,omitempty"`
	Sig     string      `json:"sig,omitempty"`
	Nonce   int64       `json:"nonce,omitempty"`
}

type wsResult struct {
	Channel        string `json:"channel"`
	Subscription   string `json:"subscription"`
	InstrumentName string `json:"instrument_name"`
}

// OrderStream listens to the authenticated user.order channels and signals
// when any order changes. It only wakes the reconcile worker, which stays
// the single writer of order state.
type OrderStream struct {
	url       string
	apiKey    string
	apiSecret string
	symbols   []string
	authWait  time.Duration
	dialer    *websocket.Dialer
	seq       int64
	now       func() time.Time
}

func NewOrderStream(apiKey, apiSecret string, cfg Config, symbols []string) *OrderStream {
	return &OrderStream{
		url:       cfg.StreamURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		symbols:   symbols,
		authWait:  cfg.StreamAuthWait,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  15 * time.Second,
			EnableCompression: true,
			Proxy:             http.ProxyFromEnvironment,
		},
		now: time.Now,
	}
}

func (s *OrderStream) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"connector": "cryptocom",
		"stream":    "user.order",
	})
}

// Listen keeps the stream connected until ctx is done, reconnecting with
// exponential backoff. Updates are coalesced: wake holds at most one
// pending signal.
func (s *OrderStream) Listen(ctx context.Context, wake chan<- struct{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		err := s.session(ctx, wake, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}
		delay := bo.NextBackOff()
		s.log().WithError(err).WithField("retry_in", delay.String()).Warn("Order stream disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *OrderStream) nextID() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

// session runs one connection: auth, subscribe, then read until the
// connection drops. ready fires once the subscription is confirmed.
func (s *OrderStream) session(ctx context.Context, wake chan<- struct{}, ready func()) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// The exchange drops auth frames sent right after the handshake.
	if s.authWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.authWait):
		}
	}

	authID := s.nextID()
	nonce := s.now().UnixMilli()
	if err := conn.WriteJSON(wsFrame{
		ID:     authID,
		Method: "public/auth",
		APIKey: s.apiKey,
		Sig:    signRequest("public/auth", authID, s.apiKey, nil, nonce, s.apiSecret),
		Nonce:  nonce,
	}); err != nil {
		return fmt.Errorf("ws auth: %w", err)
	}

	subID := int64(-1)
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("ws read: %w", err)
		}

		switch {
		case f.Method == "public/heartbeat":
			if err := conn.WriteJSON(wsFrame{ID: f.ID, Method: "public/respond-heartbeat"}); err != nil {
				return fmt.Errorf("ws heartbeat: %w", err)
			}
		case f.ID == authID && f.Method == "public/auth":
			if f.Code != 0 {
				return newCodeError("public/auth", f.Code, f.Message)
			}
			subID = s.nextID()
			channels := make([]string, 0, len(s.symbols))
			for _, sym := range s.symbols {
				channels = append(channels, "user.order."+sym)
			}
			if err := conn.WriteJSON(wsFrame{
				ID:     subID,
				Method: "subscribe",
				Params: map[string]interface{}{"channels": channels},
				Nonce:  s.now().UnixMilli(),
			}); err != nil {
				return fmt.Errorf("ws subscribe: %w", err)
			}
		case f.ID == subID && f.Result == nil:
			if f.Code != 0 {
				return newCodeError("subscribe", f.Code, f.Message)
			}
			ready()
			s.log().WithField("symbols", s.symbols).Info("Order stream subscribed")
		case f.Result != nil && strings.HasPrefix(f.Result.Channel, "user.order"):
			if f.ID == subID {
				ready()
			}
			s.log().WithField("symbol", f.Result.InstrumentName).Debug("Order update received")
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}
