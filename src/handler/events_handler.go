package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalbridge/src/model"
	"signalbridge/src/recovery"
	"signalbridge/src/repository"
)

type eventRecorder interface {
	RecordEvent(ctx context.Context, signalID string, messageID int64, eventType, eventData string) (*model.Signal, error)
}

type signalFinder interface {
	FindByMessageID(ctx context.Context, messageID int64) (*model.Signal, error)
}

type eventLister interface {
	ListBySignal(ctx context.Context, signalID string) ([]model.TradeEvent, error)
}

type reportEventRequest struct {
	SignalID  string          `json:"signal_id"`
	MessageID int64           `json:"message_id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
}

// ReportEventHandler appends a trade event reported by the execution side.
// Either signal_id or message_id must be present; message_id is the fallback
// correlation key when the client's signal id is stale after a restart.
func ReportEventHandler(repo eventRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON format")
			return
		}

		if req.EventType == "" {
			writeError(w, http.StatusBadRequest, "event_type is required")
			return
		}
		if !model.KnownEventType(req.EventType) {
			writeError(w, http.StatusBadRequest, "unknown event_type: "+req.EventType)
			return
		}
		if req.SignalID == "" && req.MessageID == 0 {
			writeError(w, http.StatusBadRequest, "signal_id or message_id is required")
			return
		}

		eventData := "{}"
		if len(req.EventData) > 0 {
			eventData = string(req.EventData)
		}

		signal, err := repo.RecordEvent(r.Context(), req.SignalID, req.MessageID, req.EventType, eventData)
		if err != nil {
			if errors.Is(err, repository.ErrSignalNotFound) {
				writeError(w, http.StatusNotFound, "Signal not found")
				return
			}
			logger.WithError(err).Error("failed to record trade event")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "success",
			"signal_id": signal.ID,
		})
	}
}

type eventPayload struct {
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data"`
	Timestamp string          `json:"timestamp"`
}

// GetSignalStateHandler answers the client recovery query: the original plan
// plus the state derived by folding the signal's event log. Hit TP levels are
// reported as zero so the client never re-arms a level it already took.
func GetSignalStateHandler(signals signalFinder, events eventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid message_id")
			return
		}

		signal, err := signals.FindByMessageID(r.Context(), messageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if signal == nil {
			writeError(w, http.StatusNotFound, "Signal not found")
			return
		}

		log, err := events.ListBySignal(r.Context(), signal.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		state := recovery.Fold(signal, log)

		currentTP1 := signal.TP1
		if state.TP1Hit {
			currentTP1 = 0
		}
		currentTP2 := signal.TP2
		if state.TP2Hit {
			currentTP2 = 0
		}
		currentTP3 := signal.TP3
		if state.TP3Hit {
			currentTP3 = 0
		}

		history := make([]eventPayload, 0, len(log))
		for i := range log {
			data := log[i].EventData
			if data == "" {
				data = "{}"
			}
			history = append(history, eventPayload{
				EventType: log[i].EventType,
				EventData: json.RawMessage(data),
				Timestamp: log[i].Timestamp.Format("2006-01-02 15:04:05"),
			})
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"signal": map[string]interface{}{
				"id":          signal.ID,
				"message_id":  signal.MessageID,
				"symbol":      signal.Symbol,
				"action":      signal.Action,
				"entry_price": signal.EntryPrice,
				"stop_loss":   state.CurrentStopLoss,
				"tp1":         currentTP1,
				"tp2":         currentTP2,
				"tp3":         currentTP3,
				"status":      signal.Status,
			},
			"recovery_state": map[string]interface{}{
				"tp1_hit":          state.TP1Hit,
				"tp2_hit":          state.TP2Hit,
				"tp3_hit":          state.TP3Hit,
				"tp1_partial_done": state.TP1PartialDone,
				"tp2_partial_done": state.TP2PartialDone,
				"position_opened":  state.PositionOpened,
				"terminal":         state.Terminal,
				"current_sl":       state.CurrentStopLoss,
				"original_sl":      signal.StopLoss,
				"original_tp1":     signal.TP1,
				"original_tp2":     signal.TP2,
				"original_tp3":     signal.TP3,
			},
			"events": history,
		})
	}
}

// DefaultReportEventHandler wires the handler to the production repository.
func DefaultReportEventHandler() http.HandlerFunc {
	return ReportEventHandler(repository.NewSignalRepository())
}

// DefaultGetSignalStateHandler wires the handler to the production repositories.
func DefaultGetSignalStateHandler() http.HandlerFunc {
	return GetSignalStateHandler(repository.NewSignalRepository(), repository.NewTradeEventRepository())
}
