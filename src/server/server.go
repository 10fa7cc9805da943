package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"signalbridge/src/database"
	"signalbridge/src/handler"
	"signalbridge/src/repository"
)

type mainDBPinger struct{}

func (mainDBPinger) Ping(ctx context.Context) error {
	if database.MainDB == nil {
		return errors.New("database not initialized")
	}
	sqlDB, err := database.MainDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// captureRecoverer turns handler panics into 500 responses and persists the
// failure through the exception repository so crashes leave a queryable trail.
func captureRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				var excRepo *repository.ExceptionRepository
				if database.MainDB != nil {
					excRepo = repository.NewExceptionRepository()
				}
				handler.Capture(r.Context(), excRepo, "signal_store", "server", r.URL.Path, "error",
					fmt.Errorf("panic: %v", rec), map[string]interface{}{
						"method": r.Method,
					})
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the signal store API surface.
func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(captureRecoverer)

	r.Get("/health", handler.HealthHandler(mainDBPinger{}))
	r.Post("/add_signal", handler.DefaultAddSignalHandler())
	r.Get("/get_pending_signals", handler.DefaultGetPendingSignalsHandler())
	r.Post("/report_event", handler.DefaultReportEventHandler())
	r.Get("/get_signal_state/{messageID}", handler.DefaultGetSignalStateHandler())
	r.Get("/stats", handler.DefaultStatsHandler())

	return r
}

// StartServer runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully.
func StartServer(port string) {
	r := NewRouter()

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
