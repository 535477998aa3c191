package model

// OrderState is the lifecycle state of a brokerage order as reported by the
// connectivity layer.
type OrderState string

const (
	OrderStateSubmitted       OrderState = "submitted"
	OrderStateAccepted        OrderState = "accepted"
	OrderStateWorking         OrderState = "working"
	OrderStateChangeSubmitted OrderState = "change_submitted"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateRejected        OrderState = "rejected"
)

// IsTerminalState reports whether no further transition can happen from state.
func IsTerminalState(state OrderState) bool {
	switch state {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// OrderAction is the side of an order.
type OrderAction string

const (
	ActionBuy        OrderAction = "buy"
	ActionBuyToCover OrderAction = "buy_to_cover"
	ActionSell       OrderAction = "sell"
	ActionSellShort  OrderAction = "sell_short"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
)
