// Package notifier delivers replication alerts to an external webhook.
// Delivery is asynchronous and best effort: a slow or dead endpoint never
// blocks order replication.
package notifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"grouptrade/src/model"
)

type payload struct {
	Event     string    `json:"event"`
	Account   string    `json:"account,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookNotifier posts alert payloads as JSON. A notifier built with an
// empty URL is a valid no-op sink.
type WebhookNotifier struct {
	url    string
	http   *resty.Client
	queue  chan payload
	stop   chan struct{}
	done   chan struct{}
	closed sync.Once
}

// NewWebhookNotifier builds a notifier from config and starts its delivery
// worker.
func NewWebhookNotifier(config Config) *WebhookNotifier {
	n := &WebhookNotifier{
		url: config.WebhookURL,
		http: resty.New().
			SetTimeout(time.Duration(config.TimeoutSeconds) * time.Second).
			SetRetryCount(config.RetryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(4 * time.Second),
		queue: make(chan payload, config.QueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go n.deliver()
	return n
}

// CopyFailure reports a failed order copy.
func (n *WebhookNotifier) CopyFailure(followerAccount, leaderOrderID, message string) {
	n.enqueue(payload{
		Event:     "copy_failure",
		Account:   followerAccount,
		OrderID:   leaderOrderID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// GuardTrigger reports a follower tripping a protection rule.
func (n *WebhookNotifier) GuardTrigger(event model.GuardTriggerEvent) {
	n.enqueue(payload{
		Event:     "guard_trigger",
		Account:   event.AccountName,
		Reason:    string(event.Reason),
		Message:   event.Details,
		Timestamp: event.TriggeredAt.UTC(),
	})
}

// enqueue drops the payload when the queue is full or the notifier is
// closed rather than blocking or panicking the caller.
func (n *WebhookNotifier) enqueue(p payload) {
	if n.url == "" {
		return
	}
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.queue <- p:
	default:
		logger.WithField("event", p.Event).Warn("notifier queue full, alert dropped")
	}
}

// Close stops accepting alerts and drains whatever is already queued.
func (n *WebhookNotifier) Close() {
	n.closed.Do(func() {
		close(n.stop)
		<-n.done
	})
}

func (n *WebhookNotifier) deliver() {
	defer close(n.done)
	for {
		select {
		case p := <-n.queue:
			n.post(p)
		case <-n.stop:
			for {
				select {
				case p := <-n.queue:
					n.post(p)
				default:
					return
				}
			}
		}
	}
}

func (n *WebhookNotifier) post(p payload) {
	resp, err := n.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(p).
		Post(n.url)
	if err != nil {
		logger.WithError(err).WithField("event", p.Event).Warn("webhook delivery failed")
		return
	}
	if resp.IsError() {
		logger.WithFields(map[string]interface{}{
			"event":  p.Event,
			"status": resp.StatusCode(),
		}).Warn(fmt.Sprintf("webhook returned %s", resp.Status()))
	}
}
