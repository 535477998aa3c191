// Package guard watches per-follower risk statistics and trips a sticky
// protection switch when a threshold rule is breached.
package guard

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"grouptrade/src/broker"
	"grouptrade/src/model"
)

// State is the rolling risk picture of one follower account.
type State struct {
	AccountName string

	TotalTrades           int
	ConsecutiveLosses     int
	ConsecutiveRejections int
	DailyLoss             decimal.Decimal
	StartingEquity        decimal.Decimal
	DailyStartEquity      decimal.Decimal
	LastResetDate         time.Time

	PositionEntryTime *time.Time

	Protected        bool
	ProtectionReason model.GuardReason
	ProtectionTime   *time.Time
}

// TriggerHandler receives protection trigger events. Handlers run inline on
// the goroutine that tripped the rule and must not call back into the guard.
type TriggerHandler func(model.GuardTriggerEvent)

// Guard evaluates protection rules over registered followers. All state is
// behind one mutex since trade results, rejection callbacks and the periodic
// timer arrive on different goroutines.
type Guard struct {
	mu       sync.Mutex
	config   model.GuardConfig
	states   map[string]*State
	accounts map[string]broker.Account
	enabled  bool

	handlers []TriggerHandler

	now func() time.Time
}

// New creates a disabled guard with default thresholds.
func New() *Guard {
	return &Guard{
		config:   model.DefaultGuardConfig(),
		states:   make(map[string]*State),
		accounts: make(map[string]broker.Account),
		now:      time.Now,
	}
}

// Enable arms the guard with the given thresholds.
func (g *Guard) Enable(config model.GuardConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.config = config
	g.enabled = true
	logger.WithField("component", "guard").Info("follower guard enabled")
}

// Disable disarms rule evaluation. Registered state is kept.
func (g *Guard) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enabled = false
	logger.WithField("component", "guard").Info("follower guard disabled")
}

// IsEnabled reports whether rules are being evaluated.
func (g *Guard) IsEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// OnTrigger registers a handler for protection trigger events.
func (g *Guard) OnTrigger(handler TriggerHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, handler)
}

// RegisterFollower starts tracking an account, seeding equity baselines from
// its current value. Registering an already-known account is a no-op.
func (g *Guard) RegisterFollower(account broker.Account) {
	if account == nil || account.Name() == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	name := account.Name()
	if _, exists := g.states[name]; exists {
		return
	}

	equity := g.equityOf(account)
	g.states[name] = &State{
		AccountName:      name,
		StartingEquity:   equity,
		DailyStartEquity: equity,
		LastResetDate:    dateOf(g.now()),
	}
	g.accounts[name] = account
}

// UnregisterFollower stops tracking an account.
func (g *Guard) UnregisterFollower(accountName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.states, accountName)
	delete(g.accounts, accountName)
}

// RecordTradeResult feeds a realized trade PnL into the follower's rolling
// statistics. A losing trade extends the consecutive-loss streak and the
// daily loss; any other result resets the streak.
func (g *Guard) RecordTradeResult(accountName string, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	state, ok := g.states[accountName]
	if !ok {
		return
	}

	state.TotalTrades++
	if pnl.IsNegative() {
		state.ConsecutiveLosses++
		state.DailyLoss = state.DailyLoss.Add(pnl.Abs())
		logger.WithFields(map[string]interface{}{
			"account":            accountName,
			"pnl":                pnl.String(),
			"consecutive_losses": state.ConsecutiveLosses,
		}).Warn("follower trade loss recorded")
	} else {
		state.ConsecutiveLosses = 0
	}

	g.checkRules(state)
}

// RecordOrderRejected extends the follower's consecutive-rejection streak.
func (g *Guard) RecordOrderRejected(accountName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	state, ok := g.states[accountName]
	if !ok {
		return
	}

	state.ConsecutiveRejections++
	logger.WithFields(map[string]interface{}{
		"account":                accountName,
		"consecutive_rejections": state.ConsecutiveRejections,
	}).Warn("follower order rejected")

	g.checkRules(state)
}

// RecordOrderSuccess resets the follower's consecutive-rejection streak.
func (g *Guard) RecordOrderSuccess(accountName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	if state, ok := g.states[accountName]; ok {
		state.ConsecutiveRejections = 0
	}
}

// UpdatePositionTime records when the follower entered its current position,
// feeding the position-timeout rule. Scaling into an existing position keeps
// the original entry time.
func (g *Guard) UpdatePositionTime(accountName string, entryTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}
	if state, ok := g.states[accountName]; ok && state.PositionEntryTime == nil {
		state.PositionEntryTime = &entryTime
	}
}

// ClearPositionTime marks the follower flat.
func (g *Guard) ClearPositionTime(accountName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state, ok := g.states[accountName]; ok {
		state.PositionEntryTime = nil
	}
}

// PeriodicCheck is driven by an external ticker. It rolls daily statistics
// over on date change and re-evaluates every unprotected follower.
func (g *Guard) PeriodicCheck() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return
	}

	today := dateOf(g.now())
	for _, state := range g.states {
		if today.After(state.LastResetDate) {
			state.DailyLoss = decimal.Zero
			state.DailyStartEquity = g.equityOf(g.accounts[state.AccountName])
			state.LastResetDate = today
		}
	}

	for _, state := range g.states {
		if !state.Protected {
			g.checkRules(state)
		}
	}
}

// IsProtected reports whether the follower tripped a rule and has not been
// reset.
func (g *Guard) IsProtected(accountName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state, ok := g.states[accountName]; ok {
		return state.Protected
	}
	return false
}

// ResetProtection clears the sticky protection and all rolling counters for
// a follower.
func (g *Guard) ResetProtection(accountName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[accountName]
	if !ok {
		return
	}
	state.Protected = false
	state.ProtectionReason = ""
	state.ProtectionTime = nil
	state.ConsecutiveLosses = 0
	state.ConsecutiveRejections = 0
	state.DailyLoss = decimal.Zero
	logger.WithField("account", accountName).Info("follower protection reset")
}

// GetState returns a snapshot of a follower's guard state.
func (g *Guard) GetState(accountName string) (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.states[accountName]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Clear drops all follower state.
func (g *Guard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.states = make(map[string]*State)
	g.accounts = make(map[string]broker.Account)
}

// checkRules evaluates the protection rules in fixed priority order, first
// match wins. Caller holds g.mu.
func (g *Guard) checkRules(state *State) {
	if state.Protected {
		return
	}

	var reason model.GuardReason
	var details string

	switch {
	case g.config.EnableConsecutiveLossGuard &&
		state.ConsecutiveLosses >= g.config.ConsecutiveLossCount:
		reason = model.GuardReasonConsecutiveLoss
		details = fmt.Sprintf("%d consecutive losses, threshold %d",
			state.ConsecutiveLosses, g.config.ConsecutiveLossCount)

	case g.config.EnableDailyLossGuard &&
		state.DailyLoss.GreaterThanOrEqual(g.config.DailyLossLimit):
		reason = model.GuardReasonDailyLossLimit
		details = fmt.Sprintf("daily loss $%s over limit $%s",
			state.DailyLoss.StringFixed(2), g.config.DailyLossLimit.StringFixed(2))

	case g.config.EnableEquityDrawdownGuard && g.drawdownBreached(state, &details):
		reason = model.GuardReasonEquityDrawdown

	case g.config.EnablePositionTimeoutGuard && state.PositionEntryTime != nil &&
		g.now().Sub(*state.PositionEntryTime) >= g.config.PositionTimeout:
		reason = model.GuardReasonPositionTimeout
		details = fmt.Sprintf("position held %s, timeout %s",
			g.now().Sub(*state.PositionEntryTime).Truncate(time.Second), g.config.PositionTimeout)

	case g.config.EnableOrderRejectedGuard &&
		state.ConsecutiveRejections >= g.config.OrderRejectedCount:
		reason = model.GuardReasonOrderRejected
		details = fmt.Sprintf("%d consecutive rejections, threshold %d",
			state.ConsecutiveRejections, g.config.OrderRejectedCount)

	default:
		return
	}

	g.triggerProtection(state, reason, details)
}

// drawdownBreached computes equity drawdown since registration. Caller holds
// g.mu.
func (g *Guard) drawdownBreached(state *State, details *string) bool {
	if state.StartingEquity.LessThanOrEqual(decimal.Zero) {
		return false
	}
	current := g.equityOf(g.accounts[state.AccountName])
	if current.LessThanOrEqual(decimal.Zero) {
		// Unreadable equity must not read as a total drawdown.
		return false
	}
	drawdown, _ := state.StartingEquity.Sub(current).
		Div(state.StartingEquity).
		Mul(decimal.NewFromInt(100)).Float64()
	if drawdown < g.config.EquityDrawdownPercent {
		return false
	}
	*details = fmt.Sprintf("equity drawdown %.1f%%, threshold %.1f%%",
		drawdown, g.config.EquityDrawdownPercent)
	return true
}

// triggerProtection flips the sticky protection flag, notifies handlers and
// optionally flattens the account. Caller holds g.mu.
func (g *Guard) triggerProtection(state *State, reason model.GuardReason, details string) {
	now := g.now()
	state.Protected = true
	state.ProtectionReason = reason
	state.ProtectionTime = &now

	logger.WithFields(map[string]interface{}{
		"account": state.AccountName,
		"reason":  reason,
		"details": details,
	}).Warn("follower protection triggered")

	event := model.GuardTriggerEvent{
		AccountName:     state.AccountName,
		Reason:          reason,
		Details:         details,
		FlattenPosition: g.config.FlattenOnTrigger,
		DisableFollower: g.config.DisableOnTrigger,
		Notify:          g.config.NotifyOnTrigger,
		TriggeredAt:     now,
	}
	for _, handler := range g.handlers {
		handler(event)
	}

	if g.config.FlattenOnTrigger {
		if account := g.accounts[state.AccountName]; account != nil {
			if err := account.Flatten(); err != nil {
				logger.WithError(err).WithField("account", state.AccountName).
					Error("failed to flatten protected follower")
			}
		}
	}
}

// equityOf reads the account's net liquidation value, zero when unavailable.
// Caller holds g.mu.
func (g *Guard) equityOf(account broker.Account) decimal.Decimal {
	if account == nil {
		return decimal.Zero
	}
	equity, err := account.Item(broker.ItemNetLiquidation)
	if err != nil {
		return decimal.Zero
	}
	return equity
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
