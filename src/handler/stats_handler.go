package handler

import (
	"context"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"signalbridge/src/model"
	"signalbridge/src/repository"
)

type statusCounter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type eventCounter interface {
	Count(ctx context.Context) (int64, error)
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

// Version of the signal store API surface.
const Version = "1.0.0"

// HealthHandler reports process liveness. Always 200 while the process is
// alive; the database field tells the caller whether the store can persist.
func HealthHandler(pinger dbPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		database := "connected"
		if pinger != nil {
			if err := pinger.Ping(r.Context()); err != nil {
				database = "error"
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"database":  database,
			"version":   Version,
		})
	}
}

// StatsHandler returns signal counts per status plus the event total.
func StatsHandler(signals statusCounter, events eventCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := signals.CountByStatus(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to count signals")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		totalEvents, err := events.Count(r.Context())
		if err != nil {
			logger.WithError(err).Error("failed to count trade events")
			writeError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		var total int64
		for _, n := range counts {
			total += n
		}

		writeJSON(w, http.StatusOK, map[string]int64{
			"total_signals":     total,
			"pending_signals":   counts[model.SignalStatusPending],
			"active_signals":    counts[model.SignalStatusActive],
			"completed_signals": counts[model.SignalStatusCompleted],
			"failed_signals":    counts[model.SignalStatusFailed],
			"total_events":      totalEvents,
		})
	}
}

// DefaultStatsHandler wires the handler to the production repositories.
func DefaultStatsHandler() http.HandlerFunc {
	return StatsHandler(repository.NewSignalRepository(), repository.NewTradeEventRepository())
}
