// Package simulate runs a scripted leader session against the in-memory
// brokerage and prints what the engine did with it. It exists to exercise
// the whole replication path without any live broker connection.
package simulate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grouptrade/src/broker"
	"grouptrade/src/broker/sim"
	"grouptrade/src/engine"
	"grouptrade/src/model"
)

type Session struct{}

// Start plays a short scripted session: a market entry that fills, a limit
// order that gets modified and cancelled, and a losing streak that trips the
// follower guard.
func (s *Session) Start() error {
	config := GetConfig()

	b := sim.NewBroker()
	leader := b.AddAccount(config.LeaderAccount, config.LeaderEquity, config.LeaderEquity/2)

	copyConfig := model.DefaultCopyConfiguration()
	copyConfig.LeaderAccountName = config.LeaderAccount
	for i := 0; i < config.FollowerCount; i++ {
		name := fmt.Sprintf("Follower%d", i+1)
		b.AddAccount(name, config.FollowerEquity, config.FollowerEquity/2)
		copyConfig.FollowerAccounts = append(copyConfig.FollowerAccounts, model.FollowerAccountConfig{
			AccountName: name,
			Enabled:     true,
			RatioMode:   model.RatioModeExact,
		})
	}

	e := engine.New(b)
	unsubscribe := e.SubscribeLogs(func(entry model.LogEntry) {
		fmt.Printf("%s [%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Category, entry.Message)
	})
	defer unsubscribe()

	if err := e.Start(copyConfig); err != nil {
		return err
	}
	defer e.Stop()

	// Market entry, filled on every account.
	entry, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionBuy,
		Type:       model.OrderTypeMarket,
		Quantity:   2,
		Name:       "sim-entry",
	})
	if err != nil {
		return err
	}
	fillPrice := decimal.NewFromFloat(5010.50)
	for i := 0; i < config.FollowerCount; i++ {
		follower, _ := b.AccountByName(fmt.Sprintf("Follower%d", i+1))
		for _, order := range follower.Orders() {
			follower.(*sim.Account).Fill(order, fillPrice)
		}
	}
	leader.Fill(entry, fillPrice)

	// Working limit order, modified then cancelled.
	limit, err := leader.Submit(broker.OrderSpec{
		Instrument: "ES 12-26",
		Action:     model.ActionSell,
		Type:       model.OrderTypeLimit,
		LimitPrice: decimal.NewFromInt(5050),
		Quantity:   2,
		Name:       "sim-target",
	})
	if err != nil {
		return err
	}
	if err := leader.Change(limit, broker.OrderChange{
		Quantity:   2,
		LimitPrice: decimal.NewFromInt(5040),
	}); err != nil {
		return err
	}
	if err := leader.Cancel(limit); err != nil {
		return err
	}

	// A losing streak trips consecutive-loss protection on Follower1.
	for i := 0; i < 3; i++ {
		e.Guard().RecordTradeResult("Follower1", decimal.NewFromInt(-180))
	}
	// The follower disable runs on its own goroutine.
	time.Sleep(100 * time.Millisecond)

	status := e.Status()
	fmt.Println()
	fmt.Printf("copied: %d  successful: %d  failed: %d  success rate: %.0f%%\n",
		status.TotalCopied, status.SuccessfulOrders, status.FailedOrders, status.SuccessRate())
	fmt.Printf("active mappings: %d  guard triggers: %d\n",
		status.ActiveMappings, status.GuardTriggers)
	if state, ok := e.Guard().GetState("Follower1"); ok && state.Protected {
		fmt.Printf("Follower1 protected: %s\n", state.ProtectionReason)
	}

	logrus.Info("simulation finished")
	return nil
}
