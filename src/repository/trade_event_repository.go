package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalbridge/src/database"
	"signalbridge/src/model"
)

// TradeEventRepository reads the append-only trade event log.
// Writes go through SignalRepository.RecordEvent so that event append and
// status recompute stay in one transaction.
type TradeEventRepository struct {
	db *gorm.DB
}

// NewTradeEventRepository creates a new repository instance bound to MainDB.
func NewTradeEventRepository() *TradeEventRepository {
	return &TradeEventRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeEventRepository) WithDB(db *gorm.DB) *TradeEventRepository {
	return &TradeEventRepository{db: db}
}

// ListBySignal fetches all events for a signal in replay order:
// timestamp ascending, then id as the tiebreaker.
func (r *TradeEventRepository) ListBySignal(ctx context.Context, signalID string) ([]model.TradeEvent, error) {
	var events []model.TradeEvent

	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("timestamp ASC, id ASC").
		Find(&events).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "TradeEventRepository",
			"op":        "ListBySignal",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to fetch trade events")
		return nil, err
	}

	return events, nil
}

// Count returns the total number of recorded trade events.
func (r *TradeEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.TradeEvent{}).Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeEventRepository",
			"op":   "Count",
		}).WithError(err).Error("Failed to count trade events")
		return 0, err
	}
	return count, nil
}
