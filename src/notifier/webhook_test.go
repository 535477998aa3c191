package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouptrade/src/model"
)

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(Config{
		WebhookURL:     server.URL,
		TimeoutSeconds: 5,
		QueueSize:      8,
	})

	n.CopyFailure("Follower1", "order-123", "insufficient margin")
	n.GuardTrigger(model.GuardTriggerEvent{
		AccountName: "Follower2",
		Reason:      model.GuardReasonDailyLossLimit,
		Details:     "daily loss $510.00 over limit $500.00",
		TriggeredAt: time.Now(),
	})
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)

	assert.Equal(t, "copy_failure", received[0].Event)
	assert.Equal(t, "Follower1", received[0].Account)
	assert.Equal(t, "order-123", received[0].OrderID)
	assert.Equal(t, "insufficient margin", received[0].Message)

	assert.Equal(t, "guard_trigger", received[1].Event)
	assert.Equal(t, "Follower2", received[1].Account)
	assert.Equal(t, "daily_loss_limit", received[1].Reason)
}

func TestEmptyURLIsNoOp(t *testing.T) {
	n := NewWebhookNotifier(Config{QueueSize: 8, TimeoutSeconds: 1})
	n.CopyFailure("Follower1", "order-1", "boom")
	n.Close()
}

func TestAlertsAfterCloseAreDropped(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(Config{WebhookURL: server.URL, TimeoutSeconds: 1, QueueSize: 8})
	n.Close()

	n.CopyFailure("Follower1", "order-1", "boom")
	n.GuardTrigger(model.GuardTriggerEvent{
		AccountName: "Follower1",
		Reason:      model.GuardReasonDailyLossLimit,
		TriggeredAt: time.Now(),
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestCloseIsIdempotent(t *testing.T) {
	n := NewWebhookNotifier(Config{QueueSize: 8, TimeoutSeconds: 1})
	n.Close()
	n.Close()
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()

	n := NewWebhookNotifier(Config{
		WebhookURL:     server.URL,
		TimeoutSeconds: 5,
		QueueSize:      1,
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.CopyFailure("Follower1", "order-1", "boom")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a slow endpoint")
	}
	close(blocked)
	n.Close()
}
