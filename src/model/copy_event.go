package model

import "time"

// CopyEventType constants classify journal rows.
const (
	CopyEventCopied       = "copied"
	CopyEventCopyFailed   = "copy_failed"
	CopyEventCancelSync   = "cancel_sync"
	CopyEventModifySync   = "modify_sync"
	CopyEventGuardTrigger = "guard_trigger"
)

// CopyEvent is the persisted record of one replication decision. The journal
// is write-behind bookkeeping only; replication never depends on it.
type CopyEvent struct {
	ID uint `gorm:"primaryKey" json:"id"`

	EventType string `gorm:"size:50;index;not null" json:"event_type"`

	LeaderOrderID   string `gorm:"size:255;index" json:"leader_order_id"`
	FollowerOrderID string `gorm:"size:255" json:"follower_order_id"`
	FollowerAccount string `gorm:"size:100;index" json:"follower_account"`

	// Snapshot of the order at the moment of this entry
	Instrument       string `gorm:"size:100" json:"instrument"`
	Action           string `gorm:"size:20" json:"action"`
	LeaderQuantity   int    `json:"leader_quantity"`
	FollowerQuantity int    `json:"follower_quantity"`

	Reason       string  `gorm:"size:255" json:"reason"`
	ErrorMessage *string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName controls the exact table name for copy events.
func (CopyEvent) TableName() string {
	return "copy_events"
}
