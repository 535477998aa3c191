package sim

import (
	"sync"

	"github.com/shopspring/decimal"

	"grouptrade/src/broker"
	"grouptrade/src/model"
)

// Order is a simulated brokerage order. Fields mutate under their own lock
// so readers holding only an Order reference never race with the account's
// scripted transitions.
type Order struct {
	id   string
	name string

	mu          sync.RWMutex
	instrument  string
	action      model.OrderAction
	orderType   model.OrderType
	quantity    int
	limitPrice  decimal.Decimal
	stopPrice   decimal.Decimal
	timeInForce model.TimeInForce
	state       model.OrderState
}

var _ broker.Order = (*Order)(nil)

func (o *Order) ID() string   { return o.id }
func (o *Order) Name() string { return o.name }

func (o *Order) Instrument() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.instrument
}

func (o *Order) Action() model.OrderAction {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.action
}

func (o *Order) Type() model.OrderType {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.orderType
}

func (o *Order) Quantity() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.quantity
}

func (o *Order) LimitPrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.limitPrice
}

func (o *Order) StopPrice() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopPrice
}

func (o *Order) TimeInForce() model.TimeInForce {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.timeInForce
}

func (o *Order) State() model.OrderState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Order) IsTerminal() bool {
	return model.IsTerminalState(o.State())
}

func (o *Order) setState(state model.OrderState) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

func (o *Order) applyChange(change broker.OrderChange) {
	o.mu.Lock()
	if change.Quantity > 0 {
		o.quantity = change.Quantity
	}
	o.limitPrice = change.LimitPrice
	o.stopPrice = change.StopPrice
	o.state = model.OrderStateChangeSubmitted
	o.mu.Unlock()
}
