// Package tracker maintains the bidirectional index between leader orders
// and the follower orders created on their behalf.
package tracker

import (
	"sync"
	"time"

	"grouptrade/src/model"
)

// Tracker is a concurrency-safe store of order mappings. Mutations on a
// leader bucket are serialized; lookups return copies so callers never
// observe concurrent mutation.
type Tracker struct {
	mu sync.RWMutex

	// leader order id -> mappings, one per follower account
	leaderToFollowers map[string][]*model.OrderMapping
	// follower order id -> leader order id
	followerToLeader map[string]string

	now func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		leaderToFollowers: make(map[string][]*model.OrderMapping),
		followerToLeader:  make(map[string]string),
		now:               time.Now,
	}
}

// Register upserts a mapping keyed by (leader order id, follower account).
// Re-registering the same pair updates the existing record in place and
// preserves its creation time.
func (t *Tracker) Register(mapping model.OrderMapping) {
	if mapping.LeaderOrderID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	bucket := t.leaderToFollowers[mapping.LeaderOrderID]

	for _, existing := range bucket {
		if existing.FollowerAccountName != mapping.FollowerAccountName {
			continue
		}
		if existing.FollowerOrderID != "" && existing.FollowerOrderID != mapping.FollowerOrderID {
			delete(t.followerToLeader, existing.FollowerOrderID)
		}
		existing.FollowerOrderID = mapping.FollowerOrderID
		existing.FollowerOrderName = mapping.FollowerOrderName
		existing.LastKnownState = mapping.LastKnownState
		existing.FollowerQuantity = mapping.FollowerQuantity
		existing.LeaderQuantity = mapping.LeaderQuantity
		existing.UpdatedAt = now
		if mapping.FollowerOrderID != "" {
			t.followerToLeader[mapping.FollowerOrderID] = mapping.LeaderOrderID
		}
		return
	}

	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	t.leaderToFollowers[mapping.LeaderOrderID] = append(bucket, &mapping)
	if mapping.FollowerOrderID != "" {
		t.followerToLeader[mapping.FollowerOrderID] = mapping.LeaderOrderID
	}
}

// FollowerMappings returns copies of all mappings for a leader order.
func (t *Tracker) FollowerMappings(leaderOrderID string) []model.OrderMapping {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bucket := t.leaderToFollowers[leaderOrderID]
	out := make([]model.OrderMapping, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, *m)
	}
	return out
}

// LeaderID resolves a follower order id back to its leader order id.
func (t *Tracker) LeaderID(followerOrderID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	leaderID, ok := t.followerToLeader[followerOrderID]
	return leaderID, ok
}

// UpdateFollowerState records a new state for the mapping holding the given
// follower order id.
func (t *Tracker) UpdateFollowerState(followerOrderID string, state model.OrderState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	leaderID, ok := t.followerToLeader[followerOrderID]
	if !ok {
		return
	}
	for _, m := range t.leaderToFollowers[leaderID] {
		if m.FollowerOrderID == followerOrderID {
			m.LastKnownState = state
			m.UpdatedAt = t.now()
			return
		}
	}
}

// RemoveAll drops every mapping for a leader order, cascading to the reverse
// index.
func (t *Tracker) RemoveAll(leaderOrderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range t.leaderToFollowers[leaderOrderID] {
		if m.FollowerOrderID != "" {
			delete(t.followerToLeader, m.FollowerOrderID)
		}
	}
	delete(t.leaderToFollowers, leaderOrderID)
}

// CleanupCompleted removes every mapping whose follower order reached a
// terminal state, prunes leader buckets left empty and returns the number of
// mappings removed.
func (t *Tracker) CleanupCompleted() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for leaderID, bucket := range t.leaderToFollowers {
		kept := bucket[:0]
		for _, m := range bucket {
			if m.IsCompleted() {
				if m.FollowerOrderID != "" {
					delete(t.followerToLeader, m.FollowerOrderID)
				}
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(t.leaderToFollowers, leaderID)
		} else {
			t.leaderToFollowers[leaderID] = kept
		}
	}
	return removed
}

// Clear drops all state.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaderToFollowers = make(map[string][]*model.OrderMapping)
	t.followerToLeader = make(map[string]string)
}

// ActiveCount returns the number of mappings not yet in a terminal state.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, bucket := range t.leaderToFollowers {
		for _, m := range bucket {
			if !m.IsCompleted() {
				count++
			}
		}
	}
	return count
}

// AllActive returns copies of every non-terminal mapping.
func (t *Tracker) AllActive() []model.OrderMapping {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []model.OrderMapping
	for _, bucket := range t.leaderToFollowers {
		for _, m := range bucket {
			if !m.IsCompleted() {
				out = append(out, *m)
			}
		}
	}
	return out
}

// HasMapping reports whether the leader order already has any mapping.
func (t *Tracker) HasMapping(leaderOrderID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.leaderToFollowers[leaderOrderID]
	return ok
}

// IsFollowerOrder reports whether the order id is a registered copy order.
func (t *Tracker) IsFollowerOrder(orderID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.followerToLeader[orderID]
	return ok
}
