package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/alerts"
	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/connectors/connectorstest"
	"cryptoexecutor/src/database/dbtest"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/security"
)

func fakeFactory(ex *connectorstest.Exchange) ExchangeFactory {
	return func(Settings, connectors.FatalAlerter) (connectors.Exchange, error) {
		return ex, nil
	}
}

func TestWireSelectsWorkers(t *testing.T) {
	db := dbtest.NewSQLite(t)
	app, err := Wire(db, LoadSettings(), alerts.LogNotifier{}, fakeFactory(connectorstest.New()))
	require.NoError(t, err)

	assert.Len(t, app.Workers(nil), 3)
	assert.Len(t, app.Workers([]string{}), 0)

	only := app.Workers([]string{WorkerAudit})
	require.Len(t, only, 1)
	assert.Equal(t, WorkerAudit, only[0].Name)
	assert.Equal(t, app.Settings.Loops.AuditPeriod, only[0].Period)
}

func TestWireRejectsUnknownCandleSource(t *testing.T) {
	db := dbtest.NewSQLite(t)
	s := LoadSettings()
	s.MarketData.Source = "nowhere"

	_, err := Wire(db, s, alerts.LogNotifier{}, fakeFactory(connectorstest.New()))
	require.Error(t, err)
}

func TestRouterServesAudit(t *testing.T) {
	db := dbtest.NewSQLite(t)
	s := LoadSettings()
	s.Server.AdminToken = "secret"
	app, err := Wire(db, s, alerts.LogNotifier{}, fakeFactory(connectorstest.New()))
	require.NoError(t, err)
	router := app.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"PASS"`)
}

func TestCaptureCycleErrorPersists(t *testing.T) {
	db := dbtest.NewSQLite(t)
	app, err := Wire(db, LoadSettings(), alerts.LogNotifier{}, fakeFactory(connectorstest.New()))
	require.NoError(t, err)

	app.CaptureCycleError(context.Background(), WorkerReconcile, errors.New("exchange down"))

	var count int64
	require.NoError(t, db.Model(&model.Exception{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNewCryptoComExchangeRevealsSealedCredentials(t *testing.T) {
	key, err := security.NewKey()
	require.NoError(t, err)
	parsed, err := security.ParseKey(key)
	require.NoError(t, err)
	sealedKey, err := security.Seal(parsed, "api-key")
	require.NoError(t, err)

	s := LoadSettings()
	s.Security.ExchangeCRKey = key
	s.Exchange.APIKey = sealedKey
	s.Exchange.APISecret = "plain-secret"

	ex, err := NewCryptoComExchange(s, nil)
	require.NoError(t, err)
	assert.NotNil(t, ex)

	s.Exchange.APISecret = ""
	_, err = NewCryptoComExchange(s, nil)
	assert.Error(t, err)

	s.Security.ExchangeCRKey = ""
	s.Exchange.APISecret = "plain-secret"
	_, err = NewCryptoComExchange(s, nil)
	assert.ErrorIs(t, err, security.ErrMissingKey)
}

type fakeStream struct {
	started chan struct{}
}

func (f *fakeStream) Listen(ctx context.Context, wake chan<- struct{}) error {
	close(f.started)
	wake <- struct{}{}
	<-ctx.Done()
	return nil
}

func TestAttachStreamWakesReconcileOnly(t *testing.T) {
	db := dbtest.NewSQLite(t)
	app, err := Wire(db, LoadSettings(), alerts.LogNotifier{}, fakeFactory(connectorstest.New()))
	require.NoError(t, err)
	stream := &fakeStream{started: make(chan struct{})}
	app.Stream = stream

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workers := app.Workers(nil)
	app.attachStream(ctx, workers)
	<-stream.started

	for _, w := range workers {
		if w.Name == WorkerReconcile {
			require.NotNil(t, w.Wake)
			select {
			case <-w.Wake:
			case <-time.After(time.Second):
				t.Fatal("reconcile worker was not woken")
			}
			continue
		}
		assert.Nil(t, w.Wake, w.Name)
	}
}

func TestDefaultIntentTTLExpiresBeforeReconcileGrace(t *testing.T) {
	s := LoadSettings()
	assert.Less(t, s.Intents.TTL, s.Reconcile.IntentGrace)
	assert.False(t, intentWindowsOverlap(s))

	s.Intents.TTL = s.Reconcile.IntentGrace
	assert.True(t, intentWindowsOverlap(s))
}
