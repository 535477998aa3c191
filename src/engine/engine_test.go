package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouptrade/src/broker"
	"grouptrade/src/broker/sim"
	"grouptrade/src/model"
)

type recordingAlerter struct {
	mu            sync.Mutex
	copyFailures  []string
	guardTriggers []model.GuardTriggerEvent
}

func (a *recordingAlerter) CopyFailure(followerAccount, leaderOrderID, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.copyFailures = append(a.copyFailures, followerAccount)
}

func (a *recordingAlerter) GuardTrigger(event model.GuardTriggerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guardTriggers = append(a.guardTriggers, event)
}

type recordingJournal struct {
	mu     sync.Mutex
	events []model.CopyEvent
}

func (j *recordingJournal) Record(ctx context.Context, event *model.CopyEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, *event)
	return nil
}

func (j *recordingJournal) byType(eventType string) []model.CopyEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []model.CopyEvent
	for _, e := range j.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestBroker() (*sim.Broker, *sim.Account, *sim.Account, *sim.Account) {
	b := sim.NewBroker()
	leader := b.AddAccount("Leader", 100000, 50000)
	follower1 := b.AddAccount("Follower1", 25000, 12500)
	follower2 := b.AddAccount("Follower2", 50000, 25000)
	return b, leader, follower1, follower2
}

func twoFollowerConfig() model.CopyConfiguration {
	config := model.DefaultCopyConfiguration()
	config.LeaderAccountName = "Leader"
	config.FollowerAccounts = []model.FollowerAccountConfig{
		{AccountName: "Follower1", Enabled: true, RatioMode: model.RatioModeExact},
		{AccountName: "Follower2", Enabled: true, RatioMode: model.RatioModeFixed, FixedRatio: 0.5},
	}
	return config
}

func marketBuy(t *testing.T, leader *sim.Account, instrument string, quantity int) broker.Order {
	t.Helper()
	order, err := leader.Submit(broker.OrderSpec{
		Instrument: instrument,
		Action:     model.ActionBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   quantity,
		Name:       "leader-entry",
	})
	require.NoError(t, err)
	return order
}

func TestStartValidation(t *testing.T) {
	b, _, _, _ := newTestBroker()
	e := New(b)

	var configErr *ConfigError

	err := e.Start(model.CopyConfiguration{})
	require.ErrorAs(t, err, &configErr)

	config := model.DefaultCopyConfiguration()
	config.LeaderAccountName = "Leader"
	err = e.Start(config)
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, err.Error(), "no enabled follower")

	config = twoFollowerConfig()
	config.LeaderAccountName = "NoSuchAccount"
	err = e.Start(config)
	require.ErrorAs(t, err, &configErr)

	assert.False(t, e.IsRunning())
	assert.False(t, e.Status().IsRunning)

	require.NoError(t, e.Start(twoFollowerConfig()))
	assert.True(t, e.IsRunning())
	assert.Equal(t, ErrAlreadyRunning, e.Start(twoFollowerConfig()))

	e.Stop()
	assert.False(t, e.IsRunning())
	e.Stop()
}

func TestCopyFanOut(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	journal := &recordingJournal{}
	e := New(b).WithJournal(journal)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	marketBuy(t, leader, "ES 12-26", 2)

	orders1 := follower1.Orders()
	require.Len(t, orders1, 1)
	assert.Equal(t, 2, orders1[0].Quantity())
	assert.Equal(t, model.ActionBuy, orders1[0].Action())
	assert.Equal(t, "ES 12-26", orders1[0].Instrument())

	orders2 := follower2.Orders()
	require.Len(t, orders2, 1)
	assert.Equal(t, 1, orders2[0].Quantity())

	status := e.Status()
	assert.Equal(t, 2, status.TotalCopied)
	assert.Equal(t, 2, status.SuccessfulOrders)
	assert.Equal(t, 0, status.FailedOrders)
	assert.Equal(t, 2, status.ActiveMappings)
	assert.InDelta(t, 100.0, status.SuccessRate(), 0.001)

	assert.Len(t, journal.byType(model.CopyEventCopied), 2)
}

func TestCopyIdempotentPerLeaderOrder(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	e := New(b)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	order := marketBuy(t, leader, "NQ 12-26", 1)

	// Same order walking through its early lifecycle must not fan out again.
	leader.SetState(order, model.OrderStateAccepted)
	leader.SetState(order, model.OrderStateWorking)

	assert.Len(t, follower1.Orders(), 1)
	assert.Equal(t, 2, e.Status().TotalCopied)
}

func TestCopyOrdersNeverReplicated(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	e := New(b)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	// An order carrying the copy tag in the leader stream is the engine's
	// own and must be ignored.
	_, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   1,
		Name:       CopyTag + "abc",
	})
	require.NoError(t, err)

	assert.Empty(t, follower1.Orders())
	assert.Equal(t, 0, e.Status().TotalCopied)
}

func TestFollowerFailureIsolated(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	follower1.FailSubmits(errors.New("insufficient margin"))

	alerter := &recordingAlerter{}
	journal := &recordingJournal{}
	e := New(b).WithAlerter(alerter).WithJournal(journal)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	marketBuy(t, leader, "ES 12-26", 2)

	assert.Empty(t, follower1.Orders())
	require.Len(t, follower2.Orders(), 1)

	status := e.Status()
	assert.Equal(t, 1, status.TotalCopied)
	assert.Equal(t, 1, status.SuccessfulOrders)
	assert.Equal(t, 1, status.FailedOrders)

	assert.Equal(t, []string{"Follower1"}, alerter.copyFailures)
	failed := journal.byType(model.CopyEventCopyFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].ErrorMessage)
	assert.Contains(t, *failed[0].ErrorMessage, "insufficient margin")
}

func TestCancelSync(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	journal := &recordingJournal{}
	e := New(b).WithJournal(journal)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	order, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   2,
		Name:       "leader-limit",
	})
	require.NoError(t, err)
	require.Equal(t, 2, e.Status().ActiveMappings)

	require.NoError(t, leader.Cancel(order))

	assert.Equal(t, model.OrderStateCancelled, follower1.Orders()[0].State())
	assert.Equal(t, model.OrderStateCancelled, follower2.Orders()[0].State())
	assert.Equal(t, 0, e.Status().ActiveMappings)
	assert.Len(t, journal.byType(model.CopyEventCancelSync), 2)
}

func TestCancelSyncDisabled(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	config := twoFollowerConfig()
	config.SyncOrderCancel = false

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	order, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   1,
		Name:       "leader-limit",
	})
	require.NoError(t, err)
	require.NoError(t, leader.Cancel(order))

	assert.NotEqual(t, model.OrderStateCancelled, follower1.Orders()[0].State())
}

func TestModifySync(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	e := New(b)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	order, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   2,
		Name:       "leader-limit",
	})
	require.NoError(t, err)

	require.NoError(t, leader.Change(order, broker.OrderChange{
		Quantity:   4,
		LimitPrice: decimal.NewFromInt(4990),
	}))

	f1 := follower1.Orders()[0]
	assert.Equal(t, 4, f1.Quantity())
	assert.True(t, f1.LimitPrice().Equal(decimal.NewFromInt(4990)))

	// FixedRatio 0.5 tracks the new leader quantity.
	f2 := follower2.Orders()[0]
	assert.Equal(t, 2, f2.Quantity())
}

func TestFillCleansUpMappings(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	e := New(b)
	require.NoError(t, e.Start(twoFollowerConfig()))
	defer e.Stop()

	order := marketBuy(t, leader, "ES 12-26", 2)
	require.Equal(t, 2, e.Status().ActiveMappings)

	price := decimal.NewFromFloat(5001.25)
	follower1.Fill(follower1.Orders()[0], price)
	follower2.Fill(follower2.Orders()[0], price)
	leader.Fill(order, price)

	assert.Equal(t, 0, e.Status().ActiveMappings)
	assert.Empty(t, e.ActiveMappings())
	assert.Equal(t, 2, follower1.Position("ES 12-26"))
}

func TestCrossInstrumentCopy(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	config := twoFollowerConfig()
	config.FollowerAccounts[0].CrossOrderTarget = "MES"

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	marketBuy(t, leader, "ES 12-26", 1)

	orders := follower1.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "MES 12-26", orders[0].Instrument())
	assert.Equal(t, 10, orders[0].Quantity())

	mappings := e.ActiveMappings()
	var crossMapping *model.OrderMapping
	for i := range mappings {
		if mappings[i].FollowerAccountName == "Follower1" {
			crossMapping = &mappings[i]
		}
	}
	require.NotNil(t, crossMapping)
	assert.True(t, crossMapping.IsCrossOrder)
	assert.Equal(t, "MES", crossMapping.CrossOrderTarget)
}

func TestMarketOnlyMode(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	config := twoFollowerConfig()
	config.CopyMode = model.CopyModeMarketOnly

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	_, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   1,
		Name:       "leader-limit",
	})
	require.NoError(t, err)
	assert.Empty(t, follower1.Orders())

	marketBuy(t, leader, "ES 12-26", 1)
	assert.Len(t, follower1.Orders(), 1)
}

func TestStealthModeOmitsOrderName(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	config := twoFollowerConfig()
	config.StealthMode = true

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	order, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   1,
		Name:       "leader-limit",
	})
	require.NoError(t, err)

	require.Len(t, follower1.Orders(), 1)
	assert.Empty(t, follower1.Orders()[0].Name())

	// Sync still works through the id fallback.
	require.NoError(t, leader.Cancel(order))
	assert.Equal(t, model.OrderStateCancelled, follower1.Orders()[0].State())
}

func TestFollowerOrderEchoIgnored(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	config := twoFollowerConfig()
	config.StealthMode = true

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	marketBuy(t, leader, "ES 12-26", 2)
	require.Len(t, follower1.Orders(), 1)
	require.Len(t, follower2.Orders(), 1)

	// A stealth copy carries no tag, so an echo of it on the event stream
	// can only be recognized by its registered order id.
	echo := follower1.Orders()[0]
	require.Empty(t, echo.Name())
	e.handleLeaderEvent(broker.OrderEvent{Order: echo, State: model.OrderStateSubmitted})

	assert.Len(t, follower1.Orders(), 1)
	assert.Len(t, follower2.Orders(), 1)
	assert.Equal(t, 2, e.Status().TotalCopied)
}

func TestGuardProtectedFollowerSkipped(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	e := New(b)

	config := twoFollowerConfig()
	config.Guard.DisableOnTrigger = false
	config.Guard.FlattenOnTrigger = false
	require.NoError(t, e.Start(config))
	defer e.Stop()

	// Three consecutive losses trip consecutive-loss protection.
	for i := 0; i < 3; i++ {
		e.Guard().RecordTradeResult("Follower1", decimal.NewFromInt(-100))
	}
	require.True(t, e.Guard().IsProtected("Follower1"))

	marketBuy(t, leader, "ES 12-26", 1)

	assert.Empty(t, follower1.Orders())
	assert.Len(t, follower2.Orders(), 1)
}

func TestGuardTriggerCountedWithoutDisable(t *testing.T) {
	b, _, _, _ := newTestBroker()
	e := New(b)

	config := twoFollowerConfig()
	config.Guard.DisableOnTrigger = false
	config.Guard.FlattenOnTrigger = false
	require.NoError(t, e.Start(config))
	defer e.Stop()

	for i := 0; i < 3; i++ {
		e.Guard().RecordTradeResult("Follower1", decimal.NewFromInt(-100))
	}

	// The counter update runs on its own goroutine.
	require.Eventually(t, func() bool {
		return e.Status().GuardTriggers == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGuardTriggerDisablesFollower(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	alerter := &recordingAlerter{}
	e := New(b).WithAlerter(alerter)

	config := twoFollowerConfig()
	config.Guard.FlattenOnTrigger = false
	config.Guard.NotifyOnTrigger = true
	require.NoError(t, e.Start(config))
	defer e.Stop()

	for i := 0; i < 3; i++ {
		e.Guard().RecordTradeResult("Follower1", decimal.NewFromInt(-100))
	}

	// The disable runs on its own goroutine.
	require.Eventually(t, func() bool {
		return e.Status().GuardTriggers == 1
	}, time.Second, 5*time.Millisecond)

	marketBuy(t, leader, "ES 12-26", 1)
	assert.Empty(t, follower1.Orders())
	assert.Len(t, follower2.Orders(), 1)

	alerter.mu.Lock()
	defer alerter.mu.Unlock()
	require.Len(t, alerter.guardTriggers, 1)
	assert.Equal(t, model.GuardReasonConsecutiveLoss, alerter.guardTriggers[0].Reason)
}

func TestCancelOpenOnStop(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	config := twoFollowerConfig()
	config.CancelOpenOnStop = true

	e := New(b)
	require.NoError(t, e.Start(config))

	_, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   1,
		Name:       "leader-limit",
	})
	require.NoError(t, err)
	require.Len(t, follower1.Orders(), 1)

	e.Stop()

	assert.Equal(t, model.OrderStateCancelled, follower1.Orders()[0].State())
	assert.Empty(t, e.ActiveMappings())
}

func TestEventsIgnoredAfterStop(t *testing.T) {
	b, leader, follower1, _ := newTestBroker()
	e := New(b)
	require.NoError(t, e.Start(twoFollowerConfig()))
	e.Stop()

	marketBuy(t, leader, "ES 12-26", 1)
	assert.Empty(t, follower1.Orders())
}

func TestStatusAndLogSubscriptions(t *testing.T) {
	b, leader, _, _ := newTestBroker()
	e := New(b)

	var mu sync.Mutex
	var statuses []model.CopyStatus
	var entries []model.LogEntry

	unsubStatus := e.SubscribeStatus(func(s model.CopyStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	unsubLogs := e.SubscribeLogs(func(entry model.LogEntry) {
		mu.Lock()
		entries = append(entries, entry)
		mu.Unlock()
	})

	require.NoError(t, e.Start(twoFollowerConfig()))
	marketBuy(t, leader, "ES 12-26", 1)
	e.Stop()

	mu.Lock()
	assert.NotEmpty(t, statuses)
	assert.True(t, statuses[len(statuses)-1].IsRunning == false)
	assert.NotEmpty(t, entries)
	mu.Unlock()

	unsubStatus()
	unsubLogs()

	before := len(statuses)
	require.NoError(t, e.Start(twoFollowerConfig()))
	e.Stop()

	mu.Lock()
	assert.Equal(t, before, len(statuses))
	mu.Unlock()
}

func TestEndToEndExactAndEqualSplit(t *testing.T) {
	b, leader, follower1, follower2 := newTestBroker()
	config := model.DefaultCopyConfiguration()
	config.LeaderAccountName = "Leader"
	config.FollowerAccounts = []model.FollowerAccountConfig{
		{AccountName: "Follower1", Enabled: true, RatioMode: model.RatioModeExact},
		{AccountName: "Follower2", Enabled: true, RatioMode: model.RatioModeEqualSplit},
	}

	e := New(b)
	require.NoError(t, e.Start(config))
	defer e.Stop()

	order, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5000),
		Quantity:   2,
		Name:       "leader-entry",
	})
	require.NoError(t, err)

	require.Len(t, follower1.Orders(), 1)
	assert.Equal(t, 2, follower1.Orders()[0].Quantity())
	require.Len(t, follower2.Orders(), 1)
	assert.Equal(t, 1, follower2.Orders()[0].Quantity())
	assert.Equal(t, 2, e.Status().TotalCopied)
	assert.Equal(t, 2, e.Status().ActiveMappings)

	require.NoError(t, leader.Cancel(order))
	assert.Equal(t, model.OrderStateCancelled, follower1.Orders()[0].State())
	assert.Equal(t, model.OrderStateCancelled, follower2.Orders()[0].State())
	assert.Equal(t, 0, e.Status().ActiveMappings)

	// A late fill event for the cancelled order finds nothing to sweep.
	leader.SetState(order, model.OrderStateFilled)
	assert.Equal(t, 0, e.Status().ActiveMappings)
	assert.Equal(t, 2, e.Status().TotalCopied)
}
