// Package sim is an in-memory brokerage used by the tests and the simulate
// command. It implements the broker capability interfaces with scripted
// state transitions, so replication can be exercised deterministically
// without a live connection.
package sim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"grouptrade/src/broker"
	"grouptrade/src/model"
)

// Broker holds a set of simulated accounts and resolves them by name.
type Broker struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewBroker creates an empty simulated brokerage.
func NewBroker() *Broker {
	return &Broker{accounts: make(map[string]*Account)}
}

// AddAccount creates an account with the given equity and buying power.
func (b *Broker) AddAccount(name string, equity, buyingPower float64) *Account {
	account := &Account{
		name: name,
		items: map[broker.AccountItem]decimal.Decimal{
			broker.ItemNetLiquidation: decimal.NewFromFloat(equity),
			broker.ItemBuyingPower:    decimal.NewFromFloat(buyingPower),
		},
		orders:    make(map[string]*Order),
		positions: make(map[string]int),
		listeners: make(map[int]broker.OrderListener),
	}

	b.mu.Lock()
	b.accounts[name] = account
	b.mu.Unlock()
	return account
}

// AccountByName implements broker.AccountProvider.
func (b *Broker) AccountByName(name string) (broker.Account, error) {
	b.mu.RLock()
	account, ok := b.accounts[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("account %q not found", name)
	}
	return account, nil
}

// Account is one simulated brokerage account.
type Account struct {
	name string

	mu         sync.Mutex
	items      map[broker.AccountItem]decimal.Decimal
	itemErr    error
	orders     map[string]*Order
	positions  map[string]int
	submitErr  error
	changeErr  error
	flattened  bool
	listeners  map[int]broker.OrderListener
	listenerID int
}

var _ broker.Account = (*Account)(nil)

// Name implements broker.Account.
func (a *Account) Name() string { return a.name }

// Item implements broker.AccountMetrics.
func (a *Account) Item(item broker.AccountItem) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.itemErr != nil {
		return decimal.Zero, a.itemErr
	}
	value, ok := a.items[item]
	if !ok {
		return decimal.Zero, fmt.Errorf("item %q not available", item)
	}
	return value, nil
}

// Position implements broker.Account.
func (a *Account) Position(instrument string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[instrument]
}

// Submit creates the order and reports it submitted to subscribers.
func (a *Account) Submit(spec broker.OrderSpec) (broker.Order, error) {
	a.mu.Lock()
	if a.submitErr != nil {
		err := a.submitErr
		a.mu.Unlock()
		return nil, err
	}

	order := &Order{
		id:          uuid.NewString(),
		name:        spec.Name,
		instrument:  spec.Instrument,
		action:      spec.Action,
		orderType:   spec.Type,
		quantity:    spec.Quantity,
		limitPrice:  spec.LimitPrice,
		stopPrice:   spec.StopPrice,
		timeInForce: spec.TimeInForce,
		state:       model.OrderStateSubmitted,
	}
	a.orders[order.id] = order
	a.mu.Unlock()

	a.emit(order, model.OrderStateSubmitted, 0, decimal.Zero)
	return order, nil
}

// Cancel implements broker.Account.
func (a *Account) Cancel(order broker.Order) error {
	a.mu.Lock()
	o, ok := a.orders[order.ID()]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("order %s not found", order.ID())
	}
	if o.IsTerminal() {
		return fmt.Errorf("order %s already in state %s", o.id, o.State())
	}

	o.setState(model.OrderStateCancelled)
	a.emit(o, model.OrderStateCancelled, 0, decimal.Zero)
	return nil
}

// Change applies a modification and reports it to subscribers.
func (a *Account) Change(order broker.Order, change broker.OrderChange) error {
	a.mu.Lock()
	changeErr := a.changeErr
	o, ok := a.orders[order.ID()]
	a.mu.Unlock()

	if changeErr != nil {
		return changeErr
	}
	if !ok {
		return fmt.Errorf("order %s not found", order.ID())
	}
	if o.IsTerminal() {
		return fmt.Errorf("order %s already in state %s", o.id, o.State())
	}

	o.applyChange(change)
	a.emit(o, model.OrderStateChangeSubmitted, 0, decimal.Zero)
	return nil
}

// Flatten cancels working orders and zeroes positions.
func (a *Account) Flatten() error {
	a.mu.Lock()
	var working []*Order
	for _, o := range a.orders {
		if !o.IsTerminal() {
			working = append(working, o)
		}
	}
	a.positions = make(map[string]int)
	a.flattened = true
	a.mu.Unlock()

	for _, o := range working {
		o.setState(model.OrderStateCancelled)
		a.emit(o, model.OrderStateCancelled, 0, decimal.Zero)
	}
	return nil
}

// Orders implements broker.Account.
func (a *Account) Orders() []broker.Order {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]broker.Order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	return out
}

// OrderByName returns a live order carrying the given client-assigned name,
// preferring non-terminal orders.
func (a *Account) OrderByName(name string) broker.Order {
	if name == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var fallback *Order
	for _, o := range a.orders {
		if o.name != name {
			continue
		}
		if !o.IsTerminal() {
			return o
		}
		fallback = o
	}
	if fallback == nil {
		return nil
	}
	return fallback
}

// SubscribeOrderUpdates implements broker.Account.
func (a *Account) SubscribeOrderUpdates(listener broker.OrderListener) broker.Unsubscribe {
	a.mu.Lock()
	a.listenerID++
	id := a.listenerID
	a.listeners[id] = listener
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// ---------------------------------------------------
// Scripting hooks for tests and the simulate command
// ---------------------------------------------------

// SetItem overrides an account metric.
func (a *Account) SetItem(item broker.AccountItem, value decimal.Decimal) {
	a.mu.Lock()
	a.items[item] = value
	a.mu.Unlock()
}

// FailItemLookups makes every metric lookup return err (nil restores).
func (a *Account) FailItemLookups(err error) {
	a.mu.Lock()
	a.itemErr = err
	a.mu.Unlock()
}

// FailSubmits makes every Submit return err (nil restores).
func (a *Account) FailSubmits(err error) {
	a.mu.Lock()
	a.submitErr = err
	a.mu.Unlock()
}

// FailChanges makes every Change return err (nil restores).
func (a *Account) FailChanges(err error) {
	a.mu.Lock()
	a.changeErr = err
	a.mu.Unlock()
}

// SetPosition fixes the net position for an instrument.
func (a *Account) SetPosition(instrument string, quantity int) {
	a.mu.Lock()
	a.positions[instrument] = quantity
	a.mu.Unlock()
}

// WasFlattened reports whether Flatten was called.
func (a *Account) WasFlattened() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flattened
}

// SetState scripts a state transition and delivers it to subscribers.
func (a *Account) SetState(order broker.Order, state model.OrderState) {
	a.mu.Lock()
	o, ok := a.orders[order.ID()]
	a.mu.Unlock()
	if !ok {
		return
	}

	o.setState(state)
	a.emit(o, state, 0, decimal.Zero)
}

// Fill scripts a complete fill, applying it to the account's position.
func (a *Account) Fill(order broker.Order, price decimal.Decimal) {
	a.mu.Lock()
	o, ok := a.orders[order.ID()]
	a.mu.Unlock()
	if !ok {
		return
	}

	o.setState(model.OrderStateFilled)

	quantity := o.Quantity()
	delta := quantity
	action := o.Action()
	if action == model.ActionSell || action == model.ActionSellShort {
		delta = -delta
	}
	a.mu.Lock()
	a.positions[o.Instrument()] += delta
	a.mu.Unlock()

	a.emit(o, model.OrderStateFilled, quantity, price)
}

// emit delivers an event to all listeners. Dispatch is sequential on the
// caller's goroutine, matching the single-producer model of the real
// connectivity layer. Never called with a.mu held.
func (a *Account) emit(order *Order, state model.OrderState, fillQty int, avgPrice decimal.Decimal) {
	a.mu.Lock()
	listeners := make([]broker.OrderListener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()

	event := broker.OrderEvent{
		Order:        order,
		State:        state,
		FillQuantity: fillQty,
		AvgFillPrice: avgPrice,
	}
	for _, listener := range listeners {
		listener(event)
	}
}
