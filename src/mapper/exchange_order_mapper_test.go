package mapper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/model"
)

func TestMapOrderInfoToModel(t *testing.T) {
	info := &connectors.OrderInfo{
		OrderID:            "9001",
		ClientOrderID:      "abc",
		InstrumentName:     "BTC_USDT",
		Side:               "sell",
		OrderType:          "STOP_LIMIT",
		Status:             "FILLED",
		Price:              "97000.00",
		RefPrice:           "97000.00",
		Quantity:           "0.001",
		CumulativeQuantity: "0.001",
		AvgPrice:           "96990.5",
		CreateTime:         1704067200000,
		UpdateTime:         1704070800000,
	}

	o := MapOrderInfoToModel(info)
	require.NotNil(t, o)
	assert.Equal(t, "9001", o.OrderID)
	assert.Equal(t, model.SideSell, o.Side)
	assert.Equal(t, model.OrderTypeStopLoss, o.Type)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgPrice.Equal(decimal.RequireFromString("96990.5")))
	require.NotNil(t, o.FilledAt)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), *o.FilledAt)
	assert.True(t, FillPrice(o).Equal(decimal.RequireFromString("96990.5")))
}

func TestMapOrderInfoToModelBadNumbersDefaultToZero(t *testing.T) {
	o := MapOrderInfoToModel(&connectors.OrderInfo{OrderID: "1", Status: "ACTIVE", Price: "n/a", Quantity: "0.5"})
	require.NotNil(t, o)
	assert.True(t, o.Price.IsZero())
	assert.True(t, o.Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.Nil(t, o.FilledAt)
	assert.Nil(t, MapOrderInfoToModel(nil))
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"CANCELED":         model.OrderStatusCancelled,
		"REJECTED":         model.OrderStatusCancelled,
		"EXPIRED":          model.OrderStatusCancelled,
		"ACTIVE":           model.OrderStatusActive,
		"PENDING":          model.OrderStatusNew,
		"NEW":              model.OrderStatusNew,
		"PARTIALLY_FILLED": model.OrderStatusPartiallyFilled,
		"filled":           model.OrderStatusFilled,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStatus(in), in)
	}
}

func TestFilledQuantity(t *testing.T) {
	o := &model.ExchangeOrder{Status: model.OrderStatusFilled, Quantity: decimal.RequireFromString("2")}
	assert.True(t, FilledQuantity(o).Equal(decimal.RequireFromString("2")))

	o.CumulativeQuantity = decimal.RequireFromString("1.5")
	assert.True(t, FilledQuantity(o).Equal(decimal.RequireFromString("1.5")))

	o = &model.ExchangeOrder{Status: model.OrderStatusActive, Quantity: decimal.RequireFromString("2")}
	assert.True(t, FilledQuantity(o).IsZero())
}
