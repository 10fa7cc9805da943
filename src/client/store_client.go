// Package client is the HTTP client for the signal store, used by the
// executor daemon. Every call carries a context and a short timeout; the
// executor loop must never stall on a slow store.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 3
	defaultRetryWait     = 500 * time.Millisecond
	defaultRetryMaxWait  = 3 * time.Second
)

// PendingSignal is a signal the store still wants tracked. TP2 and TP3 are
// pointers so an absent level survives the round trip as null, not zero.
type PendingSignal struct {
	ID         string   `json:"id"`
	MessageID  int64    `json:"message_id"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	TP1        float64  `json:"tp1"`
	TP2        *float64 `json:"tp2"`
	TP3        *float64 `json:"tp3"`
	Status     string   `json:"status"`
}

// RecoveryState mirrors the store's fold of the event log for one signal.
type RecoveryState struct {
	TP1Hit         bool    `json:"tp1_hit"`
	TP2Hit         bool    `json:"tp2_hit"`
	TP3Hit         bool    `json:"tp3_hit"`
	TP1PartialDone bool    `json:"tp1_partial_done"`
	TP2PartialDone bool    `json:"tp2_partial_done"`
	PositionOpened bool    `json:"position_opened"`
	Terminal       bool    `json:"terminal"`
	CurrentSL      float64 `json:"current_sl"`
	OriginalSL     float64 `json:"original_sl"`
	OriginalTP1    float64 `json:"original_tp1"`
	OriginalTP2    float64 `json:"original_tp2"`
	OriginalTP3    float64 `json:"original_tp3"`
}

// SignalState is the full get_signal_state response: the signal with hit TP
// levels masked to zero, plus the derived recovery state.
type SignalState struct {
	Signal        PendingSignal `json:"signal"`
	RecoveryState RecoveryState `json:"recovery_state"`
}

// StoreClient talks to the signal store REST API.
type StoreClient struct {
	baseURL string
	http    *resty.Client
}

// NewStoreClient builds a client for the store at baseURL. Transient
// failures (5xx, connection errors) are retried with backoff; 4xx responses
// are returned to the caller immediately.
func NewStoreClient(baseURL string) *StoreClient {
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryWait).
		SetRetryMaxWaitTime(defaultRetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})

	return &StoreClient{
		baseURL: baseURL,
		http:    httpClient,
	}
}

// Health pings the store. A non-healthy status is an error even on HTTP 200.
func (c *StoreClient) Health(ctx context.Context) error {
	var out struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/health")
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("health returned status %d", resp.StatusCode())
	}
	if out.Status != "healthy" {
		return fmt.Errorf("store unhealthy: status=%s database=%s", out.Status, out.Database)
	}
	return nil
}

// GetPendingSignals fetches the signals the store still wants tracked,
// oldest first.
func (c *StoreClient) GetPendingSignals(ctx context.Context) ([]PendingSignal, error) {
	var out struct {
		Signals []PendingSignal `json:"signals"`
		Count   int             `json:"count"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/get_pending_signals")
	if err != nil {
		return nil, fmt.Errorf("get_pending_signals request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get_pending_signals returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Signals, nil
}

// ReportEvent delivers one lifecycle event. signalID may be empty when only
// the message id is known; the store resolves either key.
func (c *StoreClient) ReportEvent(ctx context.Context, signalID string, messageID int64, eventType string, data map[string]interface{}) error {
	payload := map[string]interface{}{
		"event_type": eventType,
	}
	if signalID != "" {
		payload["signal_id"] = signalID
	}
	if messageID != 0 {
		payload["message_id"] = messageID
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		payload["event_data"] = json.RawMessage(raw)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/report_event")
	if err != nil {
		return fmt.Errorf("report_event request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("report_event returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.WithFields(logger.Fields{
		"signal_id":  signalID,
		"message_id": messageID,
		"event_type": eventType,
	}).Debug("event reported to store")
	return nil
}

// GetSignalState fetches the recovery state for a signal by its message id.
// Returns (nil, nil) when the store has no such signal.
func (c *StoreClient) GetSignalState(ctx context.Context, messageID int64) (*SignalState, error) {
	var out SignalState

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Get(fmt.Sprintf("/get_signal_state/%d", messageID))
	if err != nil {
		return nil, fmt.Errorf("get_signal_state request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get_signal_state returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}
