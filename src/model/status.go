package model

import "time"

// CopyStatus is the engine's aggregate view, safe to hand out as a snapshot.
type CopyStatus struct {
	IsRunning bool `json:"is_running"`

	TotalCopied      int `json:"total_copied"`
	SuccessfulOrders int `json:"successful_orders"`
	FailedOrders     int `json:"failed_orders"`
	ActiveMappings   int `json:"active_mappings"`
	GuardTriggers    int `json:"guard_triggers"`

	LastCopyTime time.Time `json:"last_copy_time"`
	StartTime    time.Time `json:"start_time"`
}

// SuccessRate returns the percentage of fan-out submissions that succeeded.
func (s CopyStatus) SuccessRate() float64 {
	if s.TotalCopied == 0 {
		return 0
	}
	return float64(s.SuccessfulOrders) / float64(s.TotalCopied) * 100
}

// Reset clears all counters, keeping the struct reusable across Start cycles.
func (s *CopyStatus) Reset() {
	*s = CopyStatus{}
}

// LogLevel classifies engine log events.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is a single engine log event as delivered to log subscribers.
// It is plain data, deliberately decoupled from any presentation type.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
}

// GuardReason identifies which protection rule fired.
type GuardReason string

const (
	GuardReasonConsecutiveLoss GuardReason = "consecutive_loss"
	GuardReasonDailyLossLimit  GuardReason = "daily_loss_limit"
	GuardReasonEquityDrawdown  GuardReason = "equity_drawdown"
	GuardReasonPositionTimeout GuardReason = "position_timeout"
	GuardReasonOrderRejected   GuardReason = "order_rejected"
)

// GuardTriggerEvent is emitted when a follower trips a protection rule.
type GuardTriggerEvent struct {
	AccountName string      `json:"account_name"`
	Reason      GuardReason `json:"reason"`
	Details     string      `json:"details"`

	FlattenPosition bool `json:"flatten_position"`
	DisableFollower bool `json:"disable_follower"`
	Notify          bool `json:"notify"`

	TriggeredAt time.Time `json:"triggered_at"`
}
