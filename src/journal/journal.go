// Package journal persists copy events through the main database. All
// methods are safe on a nil database so the engine runs unchanged with
// persistence disabled.
package journal

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"grouptrade/src/database"
	"grouptrade/src/model"
)

// Repository handles persistence for CopyEvent entities.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a repository backed by the main database connection.
func NewRepository() *Repository {
	return &Repository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance. Useful for
// tests or when using a specific session/transaction.
func (r *Repository) WithDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one copy event. A nil database turns this into a no-op.
func (r *Repository) Record(ctx context.Context, event *model.CopyEvent) error {
	if r.db == nil {
		return nil
	}

	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "Journal",
			"op":         "Record",
			"event_type": event.EventType,
			"account":    event.FollowerAccount,
		}).WithError(err).Error("Failed to record copy event")
		return err
	}
	return nil
}

// RecentEvents returns the newest events, most recent first.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]model.CopyEvent, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var events []model.CopyEvent
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "Journal",
			"op":   "RecentEvents",
		}).WithError(err).Error("Failed to load copy events")
		return nil, err
	}
	return events, nil
}

// EventsForAccount returns the newest events of one follower account.
func (r *Repository) EventsForAccount(ctx context.Context, accountName string, limit int) ([]model.CopyEvent, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	var events []model.CopyEvent
	err := r.db.WithContext(ctx).
		Where("follower_account = ?", accountName).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
