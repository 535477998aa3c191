package model

import (
	"fmt"
	"time"
)

// OrderMapping links one leader order to the follower order created on its
// behalf. There is at most one live mapping per (leader order, follower
// account) pair.
type OrderMapping struct {
	LeaderOrderID   string
	LeaderOrderName string

	FollowerOrderID     string
	FollowerAccountName string
	// FollowerOrderName is the stable name assigned to the copy order. Broker
	// order ids can change when an order is resubmitted, the name does not,
	// so modify-sync resolves the live order through it.
	FollowerOrderName string

	LastKnownState   OrderState
	LeaderQuantity   int
	FollowerQuantity int
	InstrumentName   string
	Action           OrderAction

	IsCrossOrder     bool
	CrossOrderTarget string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCompleted reports whether the follower order reached a terminal state.
func (m *OrderMapping) IsCompleted() bool {
	return IsTerminalState(m.LastKnownState)
}

func (m *OrderMapping) String() string {
	cross := ""
	if m.IsCrossOrder {
		cross = " -> " + m.CrossOrderTarget
	}
	return fmt.Sprintf("%s: %s %d %s%s [%s]",
		m.FollowerAccountName, m.Action, m.FollowerQuantity, m.InstrumentName, cross, m.LastKnownState)
}
