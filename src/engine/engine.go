// Package engine replicates order activity from a leader account onto a set
// of follower accounts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"grouptrade/src/broker"
	"grouptrade/src/crossorder"
	"grouptrade/src/guard"
	"grouptrade/src/model"
	"grouptrade/src/sizing"
	"grouptrade/src/tracker"
)

// CopyTag prefixes the name of every copy order so the engine can recognize
// its own orders in the leader's event stream and never replicate them again.
const CopyTag = "[GT]"

// ErrAlreadyRunning is returned by Start when the engine is running.
var ErrAlreadyRunning = errors.New("engine already running")

// ConfigError reports an invalid configuration. Start performs no side
// effect when it returns one.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid copy configuration: " + e.Reason
}

// Alerter delivers out-of-band alerts. Implementations must be
// fire-and-forget; a failing alert never affects replication.
type Alerter interface {
	CopyFailure(followerAccount, leaderOrderID, message string)
	GuardTrigger(event model.GuardTriggerEvent)
}

// Journal persists replication decisions for later inspection. A nil journal
// is valid and recording errors are swallowed.
type Journal interface {
	Record(ctx context.Context, event *model.CopyEvent) error
}

// LogSubscriber consumes engine log events.
type LogSubscriber func(model.LogEntry)

// StatusSubscriber consumes status snapshots after every change.
type StatusSubscriber func(model.CopyStatus)

type followerSlot struct {
	config   model.FollowerAccountConfig
	account  broker.Account
	disabled bool
}

// Engine consumes the leader account's order event stream and fans each
// actionable event out to the followers. One mutex serializes event
// handling, Start/Stop and the dedup/mapping state they share.
type Engine struct {
	provider broker.AccountProvider
	mapper   *crossorder.Mapper
	orders   *tracker.Tracker
	guard    *guard.Guard
	alerter  Alerter
	journal  Journal

	mu          sync.Mutex
	running     bool
	config      model.CopyConfiguration
	leader      broker.Account
	followers   []*followerSlot
	processed   map[string]struct{}
	status      model.CopyStatus
	unsubscribe broker.Unsubscribe

	subMu      sync.Mutex
	logSubs    map[int]LogSubscriber
	statusSubs map[int]StatusSubscriber
	nextSubID  int

	now func() time.Time
}

// New creates a stopped engine resolving accounts through provider, with the
// default cross-instrument table.
func New(provider broker.AccountProvider) *Engine {
	e := &Engine{
		provider:   provider,
		mapper:     crossorder.NewDefaultMapper(),
		orders:     tracker.New(),
		guard:      guard.New(),
		processed:  make(map[string]struct{}),
		logSubs:    make(map[int]LogSubscriber),
		statusSubs: make(map[int]StatusSubscriber),
		now:        time.Now,
	}
	e.guard.OnTrigger(e.onGuardTrigger)
	return e
}

// WithMapper substitutes the cross-instrument registry, mainly for tests.
func (e *Engine) WithMapper(m *crossorder.Mapper) *Engine {
	e.mapper = m
	return e
}

// WithAlerter attaches an alert sink.
func (e *Engine) WithAlerter(a Alerter) *Engine {
	e.alerter = a
	return e
}

// WithJournal attaches a replication journal.
func (e *Engine) WithJournal(j Journal) *Engine {
	e.journal = j
	return e
}

// Guard exposes the follower guard sub-interface.
func (e *Engine) Guard() *guard.Guard {
	return e.guard
}

// IsRunning reports whether the engine is consuming leader events.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a snapshot of the aggregate counters.
func (e *Engine) Status() model.CopyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ActiveMappings returns copies of all live order mappings.
func (e *Engine) ActiveMappings() []model.OrderMapping {
	return e.orders.AllActive()
}

// Start validates the configuration, and only then resets state and
// subscribes to the leader's order stream. On any validation failure nothing
// is subscribed and no prior state is touched.
func (e *Engine) Start(config model.CopyConfiguration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	if config.LeaderAccountName == "" {
		return &ConfigError{Reason: "no leader account configured"}
	}
	if config.EnabledFollowerCount() == 0 {
		return &ConfigError{Reason: "no enabled follower accounts configured"}
	}

	leader, err := e.provider.AccountByName(config.LeaderAccountName)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("leader account %q not found", config.LeaderAccountName)}
	}

	var followers []*followerSlot
	for _, followerConfig := range config.FollowerAccounts {
		if !followerConfig.Enabled {
			continue
		}
		account, err := e.provider.AccountByName(followerConfig.AccountName)
		if err != nil {
			logger.WithField("account", followerConfig.AccountName).
				Warn("follower account not found, skipping")
			continue
		}
		followers = append(followers, &followerSlot{config: followerConfig, account: account})
	}
	if len(followers) == 0 {
		return &ConfigError{Reason: "no follower account resolved to a live account"}
	}

	// Validation passed; side effects start here.
	e.config = config
	e.leader = leader
	e.followers = followers
	e.processed = make(map[string]struct{})
	e.orders.Clear()
	e.status.Reset()
	e.status.IsRunning = true
	e.status.StartTime = e.now()

	e.guard.Clear()
	if config.EnableFollowerGuard {
		e.guard.Enable(config.Guard)
		for _, slot := range followers {
			e.guard.RegisterFollower(slot.account)
		}
	} else {
		e.guard.Disable()
	}

	e.unsubscribe = leader.SubscribeOrderUpdates(e.handleLeaderEvent)
	e.running = true

	e.emitLog(model.LogInfo, "ENGINE", fmt.Sprintf("engine started, leader %s, %d followers",
		config.LeaderAccountName, len(followers)))
	e.emitStatusLocked()
	return nil
}

// Stop unsubscribes from the leader stream first, so no new event can begin
// processing once teardown starts, then optionally cancels still-working
// follower orders and clears all state. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	e.running = false
	e.status.IsRunning = false

	if e.config.CancelOpenOnStop {
		e.cancelOpenFollowerOrders()
	}

	e.orders.Clear()
	e.processed = make(map[string]struct{})
	e.guard.Clear()
	e.followers = nil
	e.leader = nil

	e.emitLog(model.LogInfo, "ENGINE", "engine stopped")
	e.emitStatusLocked()
	e.mu.Unlock()
}

// cancelOpenFollowerOrders cancels every follower order whose mapping is
// still live. Caller holds e.mu.
func (e *Engine) cancelOpenFollowerOrders() {
	for _, mapping := range e.orders.AllActive() {
		slot := e.slotFor(mapping.FollowerAccountName)
		if slot == nil {
			continue
		}
		order := e.resolveFollowerOrder(slot.account, mapping)
		if order == nil || order.IsTerminal() {
			continue
		}
		if err := slot.account.Cancel(order); err != nil {
			e.emitLog(model.LogError, "ENGINE", fmt.Sprintf("cancel on stop failed for %s: %v",
				mapping.FollowerAccountName, err))
		}
	}
}

// handleLeaderEvent is the single entry point for the leader's order stream.
// It runs on the connectivity layer's goroutine; every failure is contained
// here and never propagates back into the broker callback.
func (e *Engine) handleLeaderEvent(event broker.OrderEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprintf("%v", r)).
				Error("panic while handling leader order event")
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || event.Order == nil {
		return
	}

	order := event.Order

	// Loop prevention: never replicate an order the engine itself created.
	if e.isCopiedOrder(order) {
		return
	}

	// Deduplicate per (order, state). Change-submitted is exempt because an
	// order may legitimately be modified any number of times.
	if event.State != model.OrderStateChangeSubmitted {
		stateKey := order.ID() + "|" + string(event.State)
		if _, seen := e.processed[stateKey]; seen {
			return
		}
		e.processed[stateKey] = struct{}{}
	}

	switch event.State {
	case model.OrderStateSubmitted, model.OrderStateAccepted, model.OrderStateWorking:
		e.handleOpen(order)
	case model.OrderStateCancelled:
		e.handleCancelled(order)
	case model.OrderStateChangeSubmitted:
		e.handleModified(order)
	case model.OrderStateFilled:
		e.handleFilled(order, event)
	case model.OrderStateRejected:
		e.emitLog(model.LogWarning, "LEADER", fmt.Sprintf("leader order rejected: %s", order.Name()))
	}
}

// isCopiedOrder reports whether the order is one of the engine's own copies,
// by tag or by reverse lookup. Caller holds e.mu.
func (e *Engine) isCopiedOrder(order broker.Order) bool {
	if strings.HasPrefix(order.Name(), CopyTag) {
		return true
	}
	return e.orders.IsFollowerOrder(order.ID())
}

// handleOpen fans a new leader order out to every eligible follower. Caller
// holds e.mu.
func (e *Engine) handleOpen(leaderOrder broker.Order) {
	if e.config.CopyMode == model.CopyModeMarketOnly && leaderOrder.Type() != model.OrderTypeMarket {
		e.emitLog(model.LogDebug, "SKIP", fmt.Sprintf("market-only mode, skipping %s order", leaderOrder.Type()))
		return
	}

	// A market order can surface submitted, accepted and working in quick
	// succession; one fan-out round per leader order.
	if e.orders.HasMapping(leaderOrder.ID()) {
		return
	}

	e.emitLog(model.LogInfo, "COPY", fmt.Sprintf("leader order: %s %d %s",
		leaderOrder.Action(), leaderOrder.Quantity(), leaderOrder.Instrument()))

	enabledCount := e.config.EnabledFollowerCount()

	for _, slot := range e.followers {
		if slot.disabled {
			continue
		}
		if e.guard.IsEnabled() && e.guard.IsProtected(slot.config.AccountName) {
			e.emitLog(model.LogWarning, "GUARD", fmt.Sprintf("%s protected, skipping copy", slot.config.AccountName))
			continue
		}
		e.copyToFollower(leaderOrder, slot, enabledCount)
	}

	e.status.ActiveMappings = e.orders.ActiveCount()
	e.status.LastCopyTime = e.now()
	e.emitStatusLocked()
}

// copyToFollower submits one mirrored order. A failure here is isolated: it
// is counted and logged but never halts the remaining followers. Caller
// holds e.mu.
func (e *Engine) copyToFollower(leaderOrder broker.Order, slot *followerSlot, enabledCount int) {
	account := slot.account
	instrument := leaderOrder.Instrument()

	quantity := sizing.Calculate(
		leaderOrder.Quantity(),
		slot.config,
		e.leader,
		account,
		enabledCount,
		account.Position(instrument),
	)

	isCross := false
	if target := slot.config.CrossOrderTarget; target != "" && e.mapper.CanConvert(instrument, target) {
		quantity = e.mapper.ConvertQuantity(quantity, instrument, target)
		instrument = e.mapper.TargetInstrument(instrument, target)
		isCross = true
	}

	orderName := ""
	if !e.config.StealthMode {
		orderName = CopyTag + leaderOrder.ID()
	}

	copyOrder, err := account.Submit(broker.OrderSpec{
		Instrument:  instrument,
		Action:      leaderOrder.Action(),
		Type:        leaderOrder.Type(),
		Quantity:    quantity,
		LimitPrice:  leaderOrder.LimitPrice(),
		StopPrice:   leaderOrder.StopPrice(),
		TimeInForce: leaderOrder.TimeInForce(),
		Name:        orderName,
	})
	if err != nil {
		e.status.FailedOrders++
		e.guard.RecordOrderRejected(account.Name())
		e.emitLog(model.LogError, "COPY", fmt.Sprintf("copy to %s failed: %v", account.Name(), err))
		if e.alerter != nil {
			e.alerter.CopyFailure(account.Name(), leaderOrder.ID(), err.Error())
		}
		e.record(&model.CopyEvent{
			EventType:       model.CopyEventCopyFailed,
			LeaderOrderID:   leaderOrder.ID(),
			FollowerAccount: account.Name(),
			Instrument:      instrument,
			Action:          string(leaderOrder.Action()),
			LeaderQuantity:  leaderOrder.Quantity(),
			ErrorMessage:    strPtr(err.Error()),
		})
		return
	}

	e.guard.RecordOrderSuccess(account.Name())

	mapping := model.OrderMapping{
		LeaderOrderID:       leaderOrder.ID(),
		LeaderOrderName:     leaderOrder.Name(),
		FollowerOrderID:     copyOrder.ID(),
		FollowerAccountName: account.Name(),
		FollowerOrderName:   orderName,
		LastKnownState:      model.OrderStateSubmitted,
		LeaderQuantity:      leaderOrder.Quantity(),
		FollowerQuantity:    quantity,
		InstrumentName:      instrument,
		Action:              leaderOrder.Action(),
		IsCrossOrder:        isCross,
		CrossOrderTarget:    slot.config.CrossOrderTarget,
	}
	e.orders.Register(mapping)

	e.status.TotalCopied++
	e.status.SuccessfulOrders++

	crossInfo := ""
	if isCross {
		crossInfo = " -> " + slot.config.CrossOrderTarget
	}
	e.emitLog(model.LogInfo, "COPY", fmt.Sprintf("%s: %s %d %s%s",
		account.Name(), leaderOrder.Action(), quantity, instrument, crossInfo))

	e.record(&model.CopyEvent{
		EventType:        model.CopyEventCopied,
		LeaderOrderID:    leaderOrder.ID(),
		FollowerOrderID:  copyOrder.ID(),
		FollowerAccount:  account.Name(),
		Instrument:       instrument,
		Action:           string(leaderOrder.Action()),
		LeaderQuantity:   leaderOrder.Quantity(),
		FollowerQuantity: quantity,
	})
}

// handleCancelled propagates a leader cancel to all mapped follower orders
// and removes the mappings. Caller holds e.mu.
func (e *Engine) handleCancelled(leaderOrder broker.Order) {
	if !e.config.SyncOrderCancel {
		return
	}

	mappings := e.orders.FollowerMappings(leaderOrder.ID())
	if len(mappings) == 0 {
		return
	}

	e.emitLog(model.LogInfo, "SYNC", fmt.Sprintf("leader cancel, cancelling %d follower orders", len(mappings)))

	for _, mapping := range mappings {
		if mapping.IsCompleted() {
			continue
		}
		slot := e.slotFor(mapping.FollowerAccountName)
		if slot == nil {
			continue
		}
		order := e.resolveFollowerOrder(slot.account, mapping)
		if order == nil || order.IsTerminal() {
			continue
		}
		if err := slot.account.Cancel(order); err != nil {
			e.emitLog(model.LogError, "SYNC", fmt.Sprintf("cancel for %s failed: %v",
				mapping.FollowerAccountName, err))
			continue
		}
		e.record(&model.CopyEvent{
			EventType:       model.CopyEventCancelSync,
			LeaderOrderID:   leaderOrder.ID(),
			FollowerOrderID: mapping.FollowerOrderID,
			FollowerAccount: mapping.FollowerAccountName,
			Instrument:      mapping.InstrumentName,
			Action:          string(mapping.Action),
		})
	}

	e.orders.RemoveAll(leaderOrder.ID())
	e.status.ActiveMappings = e.orders.ActiveCount()
	e.emitStatusLocked()
}

// handleModified re-applies leader price and quantity changes to each mapped
// follower order. The live order is resolved by its stable name since broker
// ids can change across resubmission. Caller holds e.mu.
func (e *Engine) handleModified(leaderOrder broker.Order) {
	if !e.config.SyncOrderModify {
		return
	}

	mappings := e.orders.FollowerMappings(leaderOrder.ID())
	if len(mappings) == 0 {
		return
	}

	e.emitLog(model.LogInfo, "SYNC", fmt.Sprintf("leader modify, updating %d follower orders", len(mappings)))

	enabledCount := e.config.EnabledFollowerCount()

	for _, mapping := range mappings {
		slot := e.slotFor(mapping.FollowerAccountName)
		if slot == nil {
			continue
		}
		order := e.resolveFollowerOrder(slot.account, mapping)
		if order == nil || order.IsTerminal() {
			continue
		}

		// Ratio policies react to the updated leader quantity.
		quantity := sizing.Calculate(
			leaderOrder.Quantity(),
			slot.config,
			e.leader,
			slot.account,
			enabledCount,
			slot.account.Position(mapping.InstrumentName),
		)
		if mapping.IsCrossOrder {
			quantity = e.mapper.ConvertQuantity(quantity, leaderOrder.Instrument(), mapping.CrossOrderTarget)
		}

		err := slot.account.Change(order, broker.OrderChange{
			Quantity:   quantity,
			LimitPrice: leaderOrder.LimitPrice(),
			StopPrice:  leaderOrder.StopPrice(),
		})
		if err != nil {
			e.emitLog(model.LogError, "SYNC", fmt.Sprintf("modify for %s failed: %v",
				mapping.FollowerAccountName, err))
			continue
		}

		mapping.FollowerOrderID = order.ID()
		mapping.LeaderQuantity = leaderOrder.Quantity()
		mapping.FollowerQuantity = quantity
		mapping.LastKnownState = order.State()
		e.orders.Register(mapping)

		e.record(&model.CopyEvent{
			EventType:        model.CopyEventModifySync,
			LeaderOrderID:    leaderOrder.ID(),
			FollowerOrderID:  order.ID(),
			FollowerAccount:  mapping.FollowerAccountName,
			Instrument:       mapping.InstrumentName,
			Action:           string(mapping.Action),
			LeaderQuantity:   leaderOrder.Quantity(),
			FollowerQuantity: quantity,
		})
	}
}

// handleFilled refreshes follower order states, sweeps terminal mappings and
// publishes the updated status. Caller holds e.mu.
func (e *Engine) handleFilled(leaderOrder broker.Order, event broker.OrderEvent) {
	e.emitLog(model.LogInfo, "FILL", fmt.Sprintf("leader fill: %s %d @ %s",
		leaderOrder.Action(), event.FillQuantity, event.AvgFillPrice.StringFixed(2)))

	for _, mapping := range e.orders.FollowerMappings(leaderOrder.ID()) {
		slot := e.slotFor(mapping.FollowerAccountName)
		if slot == nil {
			continue
		}
		if order := e.resolveFollowerOrder(slot.account, mapping); order != nil {
			e.orders.UpdateFollowerState(mapping.FollowerOrderID, order.State())
		}
		// Track how long the follower has been holding, for the timeout rule.
		if slot.account.Position(mapping.InstrumentName) != 0 {
			e.guard.UpdatePositionTime(mapping.FollowerAccountName, e.now())
		} else {
			e.guard.ClearPositionTime(mapping.FollowerAccountName)
		}
	}

	e.orders.CleanupCompleted()
	e.status.ActiveMappings = e.orders.ActiveCount()
	e.emitStatusLocked()
}

// onGuardTrigger reacts to a follower tripping a protection rule. It runs on
// whatever goroutine fed the guard, so the status update and follower
// disable are deferred to their own goroutine rather than taking e.mu inline.
func (e *Engine) onGuardTrigger(event model.GuardTriggerEvent) {
	if e.alerter != nil && event.Notify {
		e.alerter.GuardTrigger(event)
	}
	e.record(&model.CopyEvent{
		EventType:       model.CopyEventGuardTrigger,
		FollowerAccount: event.AccountName,
		Reason:          string(event.Reason),
	})

	go e.applyGuardTrigger(event)
}

// applyGuardTrigger counts the trip and, when the rule asks for it, removes
// the follower from fan-out until the engine is restarted. Protection is
// sticky, so each trip reaches here exactly once.
func (e *Engine) applyGuardTrigger(event model.GuardTriggerEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.status.GuardTriggers++
	if event.DisableFollower {
		if slot := e.slotFor(event.AccountName); slot != nil && !slot.disabled {
			slot.disabled = true
			e.emitLog(model.LogWarning, "GUARD", fmt.Sprintf("follower %s disabled", event.AccountName))
		}
	}
	e.emitStatusLocked()
}

// SubscribeLogs registers a consumer for engine log events.
func (e *Engine) SubscribeLogs(subscriber LogSubscriber) broker.Unsubscribe {
	e.subMu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.logSubs[id] = subscriber
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.logSubs, id)
		e.subMu.Unlock()
	}
}

// SubscribeStatus registers a consumer for status snapshots.
func (e *Engine) SubscribeStatus(subscriber StatusSubscriber) broker.Unsubscribe {
	e.subMu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.statusSubs[id] = subscriber
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.statusSubs, id)
		e.subMu.Unlock()
	}
}

// resolveFollowerOrder finds the live follower order for a mapping. Named
// orders resolve by name since broker ids can change across resubmission;
// stealth orders carry no name and fall back to an id scan.
func (e *Engine) resolveFollowerOrder(account broker.Account, mapping model.OrderMapping) broker.Order {
	if mapping.FollowerOrderName != "" {
		return account.OrderByName(mapping.FollowerOrderName)
	}
	for _, order := range account.Orders() {
		if order.ID() == mapping.FollowerOrderID {
			return order
		}
	}
	return nil
}

// slotFor finds the follower slot by account name. Caller holds e.mu.
func (e *Engine) slotFor(accountName string) *followerSlot {
	for _, slot := range e.followers {
		if slot.config.AccountName == accountName {
			return slot
		}
	}
	return nil
}

// record writes a journal row, swallowing failures.
func (e *Engine) record(event *model.CopyEvent) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(context.Background(), event); err != nil {
		logger.WithError(err).Debug("journal record failed")
	}
}

// emitLog logs through logrus and fans the entry out to log subscribers.
// Subscribers must not call back into the engine.
func (e *Engine) emitLog(level model.LogLevel, category, message string) {
	entry := model.LogEntry{
		Timestamp: e.now(),
		Level:     level,
		Category:  category,
		Message:   message,
	}

	log := logger.WithField("category", category)
	switch level {
	case model.LogDebug:
		log.Debug(message)
	case model.LogWarning:
		log.Warn(message)
	case model.LogError:
		log.Error(message)
	default:
		log.Info(message)
	}

	e.subMu.Lock()
	subs := make([]LogSubscriber, 0, len(e.logSubs))
	for _, s := range e.logSubs {
		subs = append(subs, s)
	}
	e.subMu.Unlock()
	for _, s := range subs {
		s(entry)
	}
}

// emitStatusLocked publishes the current status snapshot. Caller holds e.mu.
func (e *Engine) emitStatusLocked() {
	snapshot := e.status

	e.subMu.Lock()
	subs := make([]StatusSubscriber, 0, len(e.statusSubs))
	for _, s := range e.statusSubs {
		subs = append(subs, s)
	}
	e.subMu.Unlock()
	for _, s := range subs {
		s(snapshot)
	}
}

func strPtr(s string) *string {
	return &s
}
