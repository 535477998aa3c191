// Package broker defines the capability interfaces the replication core
// needs from the brokerage-connectivity layer. Implementations live behind
// these interfaces so the engine can be exercised without a live connection.
package broker

import (
	"github.com/shopspring/decimal"

	"grouptrade/src/model"
)

// AccountItem names a queryable account metric.
type AccountItem string

const (
	ItemNetLiquidation AccountItem = "net_liquidation"
	ItemBuyingPower    AccountItem = "buying_power"
)

// Order is a read-only view of a live brokerage order.
type Order interface {
	ID() string
	Name() string
	Instrument() string
	Action() model.OrderAction
	Type() model.OrderType
	Quantity() int
	LimitPrice() decimal.Decimal
	StopPrice() decimal.Decimal
	TimeInForce() model.TimeInForce
	State() model.OrderState
	IsTerminal() bool
}

// OrderSpec describes an order to be created and submitted.
type OrderSpec struct {
	Instrument  string
	Action      model.OrderAction
	Type        model.OrderType
	Quantity    int
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce model.TimeInForce
	// Name is the client-assigned order name, used for the copy tag.
	Name string
}

// OrderChange carries the mutable fields of a working order.
type OrderChange struct {
	Quantity   int
	LimitPrice decimal.Decimal
	StopPrice  decimal.Decimal
}

// OrderEvent is one order lifecycle notification from an account's stream.
type OrderEvent struct {
	Order        Order
	State        model.OrderState
	FillQuantity int
	AvgFillPrice decimal.Decimal
}

// OrderListener consumes order events. Listeners run on the connectivity
// layer's dispatch goroutine and must not block.
type OrderListener func(OrderEvent)

// Unsubscribe detaches a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// AccountMetrics is the read-only slice of Account the quantity calculator
// needs.
type AccountMetrics interface {
	Item(item AccountItem) (decimal.Decimal, error)
}

// Account is the brokerage account capability consumed by the engine and the
// follower guard.
type Account interface {
	AccountMetrics

	Name() string

	// Position returns the signed net position for an instrument.
	Position(instrument string) int

	// Submit creates the order described by spec and sends it. The returned
	// Order reflects the submitted state.
	Submit(spec OrderSpec) (Order, error)
	Cancel(order Order) error
	Change(order Order, change OrderChange) error
	// Flatten closes all open positions and working orders on the account.
	Flatten() error

	// Orders returns a snapshot of the account's known orders.
	Orders() []Order
	// OrderByName resolves a live order by its client-assigned name, or nil.
	OrderByName(name string) Order

	// SubscribeOrderUpdates registers a listener for the account's order
	// event stream and returns its cancellation handle.
	SubscribeOrderUpdates(listener OrderListener) Unsubscribe
}

// AccountProvider resolves configured account names to live accounts.
type AccountProvider interface {
	AccountByName(name string) (Account, error)
}
