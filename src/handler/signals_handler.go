package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"signalbridge/src/model"
	"signalbridge/src/repository"
)

type signalCreator interface {
	Create(ctx context.Context, signal *model.Signal) error
}

type pendingLister interface {
	ListPending(ctx context.Context, limit int) ([]model.Signal, error)
}

// addSignalRequest is the submission payload produced by the signal listener.
// tp2/tp3 omitted means the level is absent, not zero.
type addSignalRequest struct {
	MessageID  *int64   `json:"message_id"`
	ChannelID  *int64   `json:"channel_id"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	EntryPrice *float64 `json:"entry_price"`
	StopLoss   *float64 `json:"stop_loss"`
	TP1        *float64 `json:"tp1"`
	TP2        *float64 `json:"tp2"`
	TP3        *float64 `json:"tp3"`
	RawMessage string   `json:"raw_message"`
}

func (req *addSignalRequest) validate() string {
	switch {
	case req.MessageID == nil:
		return "Missing required field: message_id"
	case req.ChannelID == nil:
		return "Missing required field: channel_id"
	case req.Symbol == "":
		return "Missing required field: symbol"
	case req.Action == "":
		return "Missing required field: action"
	case req.EntryPrice == nil:
		return "Missing required field: entry_price"
	case req.StopLoss == nil:
		return "Missing required field: stop_loss"
	case req.TP1 == nil:
		return "Missing required field: tp1"
	case req.RawMessage == "":
		return "Missing required field: raw_message"
	}

	if req.Action != model.ActionBuy && req.Action != model.ActionSell {
		return "Invalid action: must be BUY or SELL"
	}
	if *req.TP1 <= 0 {
		return "tp1 must be greater than zero"
	}
	return ""
}

// AddSignalHandler accepts a new signal submission. Duplicate message ids are
// rejected with 409 so the producer can tell a replay from a real failure.
func AddSignalHandler(repo signalCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addSignalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON format")
			return
		}

		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		signal := &model.Signal{
			ID:         uuid.NewString(),
			MessageID:  *req.MessageID,
			ChannelID:  *req.ChannelID,
			Symbol:     req.Symbol,
			Action:     req.Action,
			EntryPrice: *req.EntryPrice,
			StopLoss:   *req.StopLoss,
			TP1:        *req.TP1,
			RawMessage: req.RawMessage,
			Status:     model.SignalStatusPending,
		}
		if req.TP2 != nil {
			signal.TP2 = *req.TP2
		}
		if req.TP3 != nil {
			signal.TP3 = *req.TP3
		}

		if err := repo.Create(r.Context(), signal); err != nil {
			if errors.Is(err, repository.ErrDuplicateSignal) {
				writeError(w, http.StatusConflict, "Signal already exists")
				return
			}
			logger.WithError(err).Error("failed to store signal")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"id": signal.ID})
	}
}

// pendingSignal is the polling hand-off shape. tp2/tp3 are null when absent
// so the execution side never mistakes an absent level for a price.
type pendingSignal struct {
	ID         string   `json:"id"`
	MessageID  int64    `json:"message_id"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   float64  `json:"stop_loss"`
	TP1        float64  `json:"tp1"`
	TP2        *float64 `json:"tp2"`
	TP3        *float64 `json:"tp3"`
}

// GetPendingSignalsHandler returns signals that still need tracking.
func GetPendingSignalsHandler(repo pendingLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signals, err := repo.ListPending(r.Context(), 10)
		if err != nil {
			logger.WithError(err).Error("failed to list pending signals")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		out := make([]pendingSignal, 0, len(signals))
		for i := range signals {
			s := signals[i]
			p := pendingSignal{
				ID:         s.ID,
				MessageID:  s.MessageID,
				Symbol:     s.Symbol,
				Action:     s.Action,
				EntryPrice: s.EntryPrice,
				StopLoss:   s.StopLoss,
				TP1:        s.TP1,
			}
			if s.TP2 > 0 {
				tp2 := s.TP2
				p.TP2 = &tp2
			}
			if s.TP3 > 0 {
				tp3 := s.TP3
				p.TP3 = &tp3
			}
			out = append(out, p)
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"signals": out})
	}
}

// DefaultAddSignalHandler wires the handler to the production repository.
func DefaultAddSignalHandler() http.HandlerFunc {
	return AddSignalHandler(repository.NewSignalRepository())
}

// DefaultGetPendingSignalsHandler wires the handler to the production repository.
func DefaultGetPendingSignalsHandler() http.HandlerFunc {
	return GetPendingSignalsHandler(repository.NewSignalRepository())
}
