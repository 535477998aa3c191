package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouptrade/src/model"
)

func newMapping(leaderID, followerID, account string, state model.OrderState) model.OrderMapping {
	return model.OrderMapping{
		LeaderOrderID:       leaderID,
		FollowerOrderID:     followerID,
		FollowerAccountName: account,
		LastKnownState:      state,
		InstrumentName:      "NQ 03-26",
		Action:              model.ActionBuy,
		LeaderQuantity:      2,
		FollowerQuantity:    2,
	}
}

func TestRegisterAndLookup(t *testing.T) {
	tr := New()

	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateSubmitted))
	tr.Register(newMapping("L1", "F2", "Sim102", model.OrderStateSubmitted))

	assert.True(t, tr.HasMapping("L1"))
	assert.False(t, tr.HasMapping("L2"))

	mappings := tr.FollowerMappings("L1")
	require.Len(t, mappings, 2)

	leaderID, ok := tr.LeaderID("F2")
	require.True(t, ok)
	assert.Equal(t, "L1", leaderID)

	assert.True(t, tr.IsFollowerOrder("F1"))
	assert.False(t, tr.IsFollowerOrder("L1"))
}

func TestRegisterUpsertsPerFollowerAccount(t *testing.T) {
	tr := New()

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Minute)
	times := []time.Time{first, second}
	tr.now = func() time.Time {
		next := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return next
	}

	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateSubmitted))
	// Same (leader, account) pair registered again, e.g. after a resubmit
	// assigned a fresh follower order id.
	tr.Register(newMapping("L1", "F1b", "Sim101", model.OrderStateWorking))

	mappings := tr.FollowerMappings("L1")
	require.Len(t, mappings, 1)
	assert.Equal(t, "F1b", mappings[0].FollowerOrderID)
	assert.Equal(t, model.OrderStateWorking, mappings[0].LastKnownState)
	assert.Equal(t, first, mappings[0].CreatedAt)
	assert.Equal(t, second, mappings[0].UpdatedAt)

	// Stale follower id dropped from the reverse index, new one present.
	assert.False(t, tr.IsFollowerOrder("F1"))
	assert.True(t, tr.IsFollowerOrder("F1b"))
}

func TestUpdateFollowerState(t *testing.T) {
	tr := New()
	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateSubmitted))

	tr.UpdateFollowerState("F1", model.OrderStateFilled)

	mappings := tr.FollowerMappings("L1")
	require.Len(t, mappings, 1)
	assert.Equal(t, model.OrderStateFilled, mappings[0].LastKnownState)
	assert.True(t, mappings[0].IsCompleted())

	// Unknown follower id is a no-op.
	tr.UpdateFollowerState("F9", model.OrderStateFilled)
}

func TestRemoveAllCascades(t *testing.T) {
	tr := New()
	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateSubmitted))
	tr.Register(newMapping("L1", "F2", "Sim102", model.OrderStateSubmitted))

	tr.RemoveAll("L1")

	assert.False(t, tr.HasMapping("L1"))
	assert.False(t, tr.IsFollowerOrder("F1"))
	assert.False(t, tr.IsFollowerOrder("F2"))
	assert.Zero(t, tr.ActiveCount())
}

func TestCleanupCompleted(t *testing.T) {
	tr := New()
	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateFilled))
	tr.Register(newMapping("L1", "F2", "Sim102", model.OrderStateCancelled))
	tr.Register(newMapping("L2", "F3", "Sim101", model.OrderStateWorking))

	assert.Equal(t, 1, tr.ActiveCount())

	removed := tr.CleanupCompleted()

	assert.Equal(t, 2, removed)
	assert.False(t, tr.HasMapping("L1"), "empty leader bucket should be pruned")
	assert.True(t, tr.HasMapping("L2"))
	assert.False(t, tr.IsFollowerOrder("F1"))
	assert.Equal(t, 1, tr.ActiveCount())

	// Second sweep finds nothing.
	assert.Zero(t, tr.CleanupCompleted())
}

func TestAllActive(t *testing.T) {
	tr := New()
	tr.Register(newMapping("L1", "F1", "Sim101", model.OrderStateWorking))
	tr.Register(newMapping("L1", "F2", "Sim102", model.OrderStateFilled))

	active := tr.AllActive()
	require.Len(t, active, 1)
	assert.Equal(t, "F1", active[0].FollowerOrderID)

	// Mutating the returned copy must not touch the store.
	active[0].LastKnownState = model.OrderStateRejected
	assert.Equal(t, model.OrderStateWorking, tr.FollowerMappings("L1")[0].LastKnownState)
}

func TestConcurrentRegisterAndCleanup(t *testing.T) {
	tr := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				leaderID := fmt.Sprintf("L%d-%d", worker, j)
				followerID := fmt.Sprintf("F%d-%d", worker, j)
				tr.Register(newMapping(leaderID, followerID, "Sim101", model.OrderStateWorking))
				tr.UpdateFollowerState(followerID, model.OrderStateFilled)
				tr.CleanupCompleted()
				tr.ActiveCount()
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, tr.ActiveCount())
	assert.Zero(t, tr.CleanupCompleted())
}
