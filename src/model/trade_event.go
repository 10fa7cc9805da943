package model

import "time"

// Event types reported by the execution side. The set is closed: the store
// accepts only these, and recovery folds over the type tag alone.
const (
	EventEAStarted      = "ea_started"
	EventOrderPlaced    = "order_placed"
	EventPositionOpened = "position_opened"
	EventTP1Hit         = "tp1_hit"
	EventTP2Hit         = "tp2_hit"
	EventTP3Hit         = "tp3_hit"
	EventSLHit          = "sl_hit"
	EventManualClose    = "manual_close"
	EventError          = "error"
)

var knownEventTypes = map[string]struct{}{
	EventEAStarted:      {},
	EventOrderPlaced:    {},
	EventPositionOpened: {},
	EventTP1Hit:         {},
	EventTP2Hit:         {},
	EventTP3Hit:         {},
	EventSLHit:          {},
	EventManualClose:    {},
	EventError:          {},
}

// KnownEventType reports whether t belongs to the closed event enum.
func KnownEventType(t string) bool {
	_, ok := knownEventTypes[t]
	return ok
}

// TradeEvent is one append-only audit record. Events are never mutated or
// deleted, recovery is a pure fold over the sequence ordered by timestamp
// then id.
type TradeEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SignalID  string    `gorm:"size:36;index;not null" json:"signal_id"`
	EventType string    `gorm:"size:30;not null" json:"event_type"`
	EventData string    `gorm:"type:text" json:"event_data"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

// TableName controls the exact table name for trade events.
func (TradeEvent) TableName() string {
	return "trade_events"
}

// NextStatus maps a reported event onto the signal's coarse lifecycle status.
// Returns ok=false when the event does not change the status. Terminal
// detection for a single-TP signal needs the signal's TP ladder, not the
// event payload.
func NextStatus(sig *Signal, eventType string) (string, bool) {
	switch eventType {
	case EventOrderPlaced, EventPositionOpened:
		return SignalStatusActive, true
	case EventTP3Hit, EventSLHit, EventManualClose:
		return SignalStatusCompleted, true
	case EventTP1Hit:
		if !sig.MultiTP() {
			return SignalStatusCompleted, true
		}
		return "", false
	case EventError:
		return SignalStatusFailed, true
	default:
		return "", false
	}
}
