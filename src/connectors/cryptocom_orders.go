package connectors

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// CreateOrder formats and submits one order. A price format rejection
// is retried with the next precision candidate; a disabled conditional
// order type gets exactly one fallback through the order-list endpoint.
// Creation is never retried on transport errors because the outcome is
// unknown; the caller reconciles by client order id instead.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	inst, err := c.GetInstrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	qty := FormatQuantity(req.Quantity, inst)
	if q, _ := FlexString(qty).Decimal(); !q.IsPositive() {
		return nil, &ExchangeError{Method: methodCreateOrder, Message: "quantity rounds to zero", Class: ClassFatal}
	}

	var lastErr error
	for _, decimals := range PrecisionCandidates(inst) {
		params := orderParams(req, inst, qty, decimals)

		ack, err := c.submitOrder(ctx, req, params)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		xe, ok := AsExchangeError(err)
		if !ok || xe.Class != ClassFormat {
			break
		}
		logger.WithFields(map[string]interface{}{
			"client":    "exchange",
			"op":        "CreateOrder",
			"symbol":    req.Symbol,
			"type":      req.Type,
			"decimals":  decimals,
			"client_id": req.ClientOrderID,
		}).Warn("price format rejected, retrying with another precision")
	}

	if xe, ok := AsExchangeError(lastErr); ok && xe.Class == ClassFormat {
		// Candidates exhausted: surface as a plain retryable failure.
		xe.Class = ClassRetryable
	}
	return nil, lastErr
}

// orderParams renders the request. At the tick precision prices snap to
// the tick itself; coarser candidates snap to whole decimal places.
func orderParams(req OrderRequest, inst *Instrument, qty string, decimals int32) map[string]interface{} {
	step := decimal.New(1, -decimals)
	if decimals == TickDecimals(inst.PriceTick) && inst.PriceTick.IsPositive() {
		step = inst.PriceTick
	}

	params := map[string]interface{}{
		"instrument_name": req.Symbol,
		"side":            req.Side,
		"type":            req.Type,
		"quantity":        qty,
	}
	if req.ClientOrderID != "" {
		params["client_oid"] = req.ClientOrderID
	}
	if req.Price.IsPositive() {
		params["price"] = FormatDecimal(Quantize(req.Price, step, req.PriceRounding), decimals)
	}
	if req.TriggerPrice.IsPositive() {
		params["ref_price"] = FormatDecimal(Quantize(req.TriggerPrice, step, req.PriceRounding), decimals)
	}
	return params
}

func (c *Client) submitOrder(ctx context.Context, req OrderRequest, params map[string]interface{}) (*OrderAck, error) {
	var ack OrderAck
	err := c.privateCall(ctx, methodCreateOrder, params, &ack, c.policy.WithMaxAttempts(1))
	if err == nil {
		fillSent(&ack, params)
		return &ack, nil
	}

	xe, ok := AsExchangeError(err)
	if ok && xe.Class == ClassFallback {
		if !req.IsConditional() {
			xe.Class = ClassFatal
			c.alertFatal(ctx, xe)
			return nil, xe
		}
		fallbackAck, ferr := c.createOrderList(ctx, params)
		if ferr == nil {
			return fallbackAck, nil
		}
		fatal := &ExchangeError{
			Method:  methodCreateOrderList,
			Code:    CodeConditionalDisabled,
			Message: "conditional order fallback failed: " + ferr.Error(),
			Class:   ClassFatal,
			Err:     ferr,
		}
		logger.WithFields(map[string]interface{}{
			"client": "exchange",
			"op":     "submitOrder",
			"symbol": req.Symbol,
			"type":   req.Type,
		}).WithError(ferr).Error("conditional order fallback failed")
		c.alertFatal(ctx, fatal)
		return nil, fatal
	}

	if IsAuthError(err) {
		c.alertFatal(ctx, err)
	}
	return nil, err
}

type orderListResult struct {
	ResultList []struct {
		Index         int        `json:"index"`
		Code          int        `json:"code"`
		Message       string     `json:"message"`
		OrderID       FlexString `json:"order_id"`
		ClientOrderID string     `json:"client_oid"`
	} `json:"result_list"`
}

// createOrderList submits a single order as a batch of one.
func (c *Client) createOrderList(ctx context.Context, order map[string]interface{}) (*OrderAck, error) {
	params := map[string]interface{}{
		"contingency_type": "LIST",
		"order_list":       []interface{}{order},
	}
	var res orderListResult
	if err := c.privateCall(ctx, methodCreateOrderList, params, &res, c.policy.WithMaxAttempts(1)); err != nil {
		return nil, err
	}
	if len(res.ResultList) == 0 {
		return nil, &ExchangeError{Method: methodCreateOrderList, Message: "empty result list", Class: ClassFatal}
	}
	item := res.ResultList[0]
	if item.Code != CodeSuccess {
		return nil, newCodeError(methodCreateOrderList, item.Code, item.Message)
	}
	ack := &OrderAck{OrderID: item.OrderID, ClientOrderID: item.ClientOrderID, ViaFallback: true}
	fillSent(ack, order)
	return ack, nil
}

func fillSent(ack *OrderAck, params map[string]interface{}) {
	if v, ok := params["price"].(string); ok {
		ack.Price = v
	}
	if v, ok := params["ref_price"].(string); ok {
		ack.TriggerPrice = v
	}
	if v, ok := params["quantity"].(string); ok {
		ack.Quantity = v
	}
}

// CancelOrder cancels an order. Cancellation is idempotent on the
// exchange, so it runs under the full retry policy.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"instrument_name": symbol,
		"order_id":        orderID,
	}
	return c.privateCall(ctx, methodCancelOrder, params, nil, c.policy)
}

type orderListPayload struct {
	Data []OrderInfo `json:"data"`
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderInfo, error) {
	params := map[string]interface{}{}
	if symbol != "" {
		params["instrument_name"] = symbol
	}
	var res orderListPayload
	if err := c.privateCall(ctx, methodOpenOrders, params, &res, c.policy); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// GetOrderHistory returns one page of order history between q.Start and q.End.
func (c *Client) GetOrderHistory(ctx context.Context, q HistoryQuery) ([]OrderInfo, error) {
	params := map[string]interface{}{}
	if q.Symbol != "" {
		params["instrument_name"] = q.Symbol
	}
	if !q.Start.IsZero() {
		params["start_time"] = strconv.FormatInt(q.Start.UnixMilli(), 10)
	}
	if !q.End.IsZero() {
		params["end_time"] = strconv.FormatInt(q.End.UnixMilli(), 10)
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	var res orderListPayload
	if err := c.privateCall(ctx, methodOrderHistory, params, &res, c.policy); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// GetOrderDetail fetches one order by exchange id, including terminal ones.
func (c *Client) GetOrderDetail(ctx context.Context, orderID string) (*OrderInfo, error) {
	var res OrderInfo
	params := map[string]interface{}{"order_id": orderID}
	if err := c.privateCall(ctx, methodOrderDetail, params, &res, c.policy); err != nil {
		return nil, err
	}
	return &res, nil
}

type balancePayload struct {
	Data []AccountSummary `json:"data"`
}

func (c *Client) GetBalances(ctx context.Context) (*AccountSummary, error) {
	var res balancePayload
	if err := c.privateCall(ctx, methodUserBalance, nil, &res, c.policy); err != nil {
		if IsAuthError(err) {
			c.alertFatal(ctx, err)
		}
		return nil, err
	}
	if len(res.Data) == 0 {
		return &AccountSummary{}, nil
	}
	return &res.Data[0], nil
}
