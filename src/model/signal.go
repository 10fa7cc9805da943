package model

import "time"

const (
	SignalStatusPending   = "pending"
	SignalStatusActive    = "active"
	SignalStatusCompleted = "completed"
	SignalStatusFailed    = "failed"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Signal is one trade plan derived from one inbound channel message.
// MessageID is unique and doubles as the broker-side magic number, so the
// execution side can tie orders and positions back to the originating signal
// with a single integer.
type Signal struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID  int64     `gorm:"uniqueIndex;not null" json:"message_id"`
	ChannelID  int64     `gorm:"not null" json:"channel_id"`
	Symbol     string    `gorm:"size:20;not null" json:"symbol"`
	Action     string    `gorm:"size:4;not null" json:"action"`
	EntryPrice float64   `gorm:"not null" json:"entry_price"`
	StopLoss   float64   `gorm:"not null" json:"stop_loss"`
	TP1        float64   `gorm:"not null" json:"tp1"`
	TP2        float64   `json:"tp2"`
	TP3        float64   `json:"tp3"`
	RawMessage string    `gorm:"type:text" json:"raw_message"`
	Status     string    `gorm:"size:20;not null;default:pending;index" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName controls the exact table name for signals.
func (Signal) TableName() string {
	return "signals"
}

// IsBuy reports the trade direction. Anything that is not BUY is treated as
// SELL by the callers, validation happens at submission time.
func (s *Signal) IsBuy() bool {
	return s.Action == ActionBuy
}

// MultiTP reports whether the signal carries more than one take-profit level.
// A zero TP2/TP3 means the level is absent, not a price.
func (s *Signal) MultiTP() bool {
	return s.TP2 > 0 || s.TP3 > 0
}
