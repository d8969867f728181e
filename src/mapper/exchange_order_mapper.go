package mapper

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"cryptoexecutor/src/connectors"
	"cryptoexecutor/src/model"
	"cryptoexecutor/src/utils"
)

// NormalizeStatus folds exchange order statuses into the local status set.
func NormalizeStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELED", "CANCELLED", "REJECTED", "EXPIRED":
		return model.OrderStatusCancelled
	case "ACTIVE":
		return model.OrderStatusActive
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	default:
		return model.OrderStatusNew
	}
}

// NormalizeType folds exchange order types into the local type set.
func NormalizeType(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STOP_LOSS", "STOP_LIMIT":
		return model.OrderTypeStopLoss
	case "TAKE_PROFIT", "TAKE_PROFIT_LIMIT":
		return model.OrderTypeTakeProfit
	case "LIMIT":
		return model.OrderTypeLimit
	default:
		return model.OrderTypeMarket
	}
}

// MapOrderInfoToModel converts an exchange order into a database model
// in a "safe" way: parsing errors on numeric fields are logged and
// defaulted to 0 instead of aborting the whole mapping.
func MapOrderInfoToModel(info *connectors.OrderInfo) *model.ExchangeOrder {
	if info == nil {
		logger.WithField("mapper", "MapOrderInfoToModel").
			Error("Nil OrderInfo received")
		return nil
	}

	orderID := info.OrderID.String()
	parse := func(field string, v connectors.FlexString) decimal.Decimal {
		out, err := v.Decimal()
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"mapper":   "MapOrderInfoToModel",
				"field":    field,
				"value":    v.String(),
				"order_id": orderID,
			}).WithError(err).Error("Failed to parse decimal from exchange order field; defaulting to 0")
			return decimal.Zero
		}
		return out
	}
	ts := func(ms int64) *time.Time {
		if ms <= 0 {
			return nil
		}
		t := utils.UnixMillis(ms)
		return &t
	}

	o := &model.ExchangeOrder{
		OrderID:            orderID,
		ClientOrderID:      info.ClientOrderID,
		Symbol:             info.InstrumentName,
		Side:               strings.ToUpper(info.Side),
		Type:               NormalizeType(info.OrderType),
		Status:             NormalizeStatus(info.Status),
		Price:              parse("limit_price", info.Price),
		TriggerPrice:       parse("ref_price", info.RefPrice),
		Quantity:           parse("quantity", info.Quantity),
		CumulativeQuantity: parse("cumulative_quantity", info.CumulativeQuantity),
		AvgPrice:           parse("avg_price", info.AvgPrice),
		ExchangeCreatedAt:  ts(info.CreateTime),
		ExchangeUpdatedAt:  ts(info.UpdateTime),
	}
	if o.Status == model.OrderStatusFilled {
		o.FilledAt = o.ExchangeUpdatedAt
		if o.FilledAt == nil {
			o.FilledAt = o.ExchangeCreatedAt
		}
	}
	return o
}

// FillPrice is the best known execution price of an order.
func FillPrice(o *model.ExchangeOrder) decimal.Decimal {
	if o.AvgPrice.IsPositive() {
		return o.AvgPrice
	}
	if o.Price.IsPositive() {
		return o.Price
	}
	return o.TriggerPrice
}

// FilledQuantity is the executed quantity, falling back to the order
// quantity for filled orders that do not report it.
func FilledQuantity(o *model.ExchangeOrder) decimal.Decimal {
	if o.CumulativeQuantity.IsPositive() {
		return o.CumulativeQuantity
	}
	if o.Status == model.OrderStatusFilled {
		return o.Quantity
	}
	return decimal.Zero
}
