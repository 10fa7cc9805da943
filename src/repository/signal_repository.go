package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"signalbridge/src/database"
	"signalbridge/src/model"
)

var (
	// ErrDuplicateSignal is returned when a signal with the same message_id
	// already exists. Duplicate submissions are rejected, never overwritten.
	ErrDuplicateSignal = errors.New("signal already exists")

	// ErrSignalNotFound is returned when neither correlation key resolves
	// to a stored signal.
	ErrSignalNotFound = errors.New("signal not found")
)

// SignalRepository handles persistence of signals and their lifecycle status.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new repository instance bound to MainDB.
func NewSignalRepository() *SignalRepository {
	return &SignalRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or custom sessions/transactions.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Create inserts a new signal with status=pending. A duplicate message_id is
// reported as ErrDuplicateSignal.
func (r *SignalRepository) Create(ctx context.Context, signal *model.Signal) error {
	if signal.Status == "" {
		signal.Status = model.SignalStatusPending
	}

	err := r.db.WithContext(ctx).Create(signal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.WithFields(map[string]interface{}{
				"repo":       "SignalRepository",
				"op":         "Create",
				"message_id": signal.MessageID,
			}).Warn("Duplicate signal submission rejected")
			return ErrDuplicateSignal
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "SignalRepository",
			"op":         "Create",
			"message_id": signal.MessageID,
		}).WithError(err).Error("Failed to insert signal")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "SignalRepository",
		"op":         "Create",
		"signal_id":  signal.ID,
		"message_id": signal.MessageID,
		"symbol":     signal.Symbol,
		"action":     signal.Action,
	}).Info("New signal stored")

	return nil
}

// FindByID fetches a single signal by its primary ID.
// Returns (nil, nil) if not found.
func (r *SignalRepository) FindByID(ctx context.Context, id string) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch signal by ID")
		return nil, err
	}

	return &signal, nil
}

// FindByMessageID fetches a single signal by its source message id.
// Returns (nil, nil) if not found.
func (r *SignalRepository) FindByMessageID(ctx context.Context, messageID int64) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":       "SignalRepository",
			"op":         "FindByMessageID",
			"message_id": messageID,
		}).WithError(err).Error("Failed to fetch signal by message ID")
		return nil, err
	}

	return &signal, nil
}

// ListPending fetches signals that still need tracking, oldest first.
// "Pending" here includes active signals: anything not yet completed or
// failed is handed back to the polling client so it can resume monitoring.
func (r *SignalRepository) ListPending(ctx context.Context, limit int) ([]model.Signal, error) {
	if limit <= 0 {
		limit = 10 // default safety limit
	}

	var signals []model.Signal

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.SignalStatusPending, model.SignalStatusActive}).
		Order("created_at ASC").
		Limit(limit).
		Find(&signals).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "SignalRepository",
			"op":    "ListPending",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch pending signals")
		return nil, err
	}

	if len(signals) > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":        "SignalRepository",
			"op":          "ListPending",
			"rows_return": len(signals),
		}).Info("Pending signals fetched")
	}

	return signals, nil
}

// RecordEvent appends a trade event and recomputes the signal status in one
// transaction. The signal is resolved by signal id first, falling back to
// message id when the caller's notion of signal id is stale or unknown
// (typical after a client restart). Returns the resolved signal.
func (r *SignalRepository) RecordEvent(
	ctx context.Context,
	signalID string,
	messageID int64,
	eventType string,
	eventData string,
) (*model.Signal, error) {

	var resolved model.Signal

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := resolveSignal(tx, signalID, messageID, &resolved); err != nil {
			return err
		}

		event := model.TradeEvent{
			SignalID:  resolved.ID,
			EventType: eventType,
			EventData: eventData,
			Timestamp: time.Now().UTC(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		newStatus, ok := model.NextStatus(&resolved, eventType)
		if !ok || newStatus == resolved.Status {
			return nil
		}

		resolved.Status = newStatus
		return tx.Model(&model.Signal{}).
			Where("id = ?", resolved.ID).
			Updates(map[string]interface{}{
				"status":     newStatus,
				"updated_at": time.Now().UTC(),
			}).Error
	})

	if err != nil {
		if errors.Is(err, ErrSignalNotFound) {
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"repo":       "SignalRepository",
			"op":         "RecordEvent",
			"signal_id":  signalID,
			"message_id": messageID,
			"event_type": eventType,
		}).WithError(err).Error("Failed to record trade event")
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "SignalRepository",
		"op":         "RecordEvent",
		"signal_id":  resolved.ID,
		"event_type": eventType,
		"status":     resolved.Status,
	}).Info("Trade event recorded")

	return &resolved, nil
}

func resolveSignal(tx *gorm.DB, signalID string, messageID int64, out *model.Signal) error {
	if signalID != "" {
		err := tx.Where("id = ?", signalID).First(out).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		// Stale signal id, fall through to the message id lookup.
	}

	if messageID == 0 {
		return ErrSignalNotFound
	}

	err := tx.Where("message_id = ?", messageID).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSignalNotFound
	}
	return err
}

// CountByStatus returns the number of signals per lifecycle status.
func (r *SignalRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.Signal{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "CountByStatus",
		}).WithError(err).Error("Failed to count signals by status")
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
