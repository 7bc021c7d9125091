package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"modbus-formatter/internal/realtime"
	"modbus-formatter/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Check reports the health of one dependency
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options wires the optional pieces of the monitor
type Options struct {
	Checks []Check
	Stats  *service.ProcessStats
	Hub    *realtime.Hub
	Auth   *realtime.Authenticator
}

// NewRouter builds the monitor routes
func NewRouter(opts Options) *mux.Router {
	r := mux.NewRouter()

	// --- Liveness ---
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "alive",
			Message: "Service is running",
		})
	}).Methods(http.MethodGet)

	// --- Readiness ---
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		healthDetails := make(map[string]string)
		failing := 0
		for _, c := range opts.Checks {
			if err := c.Check(ctx); err != nil {
				healthDetails[c.Name] = "unhealthy: " + err.Error()
				failing++
			} else {
				healthDetails[c.Name] = "healthy"
			}
		}

		statusCode := http.StatusOK
		statusMsg := "ready"
		if failing > 0 {
			statusCode = http.StatusServiceUnavailable
			statusMsg = fmt.Sprintf("%d component(s) failing", failing)
		}
		writeJSON(w, statusCode, HealthResponse{
			Status:  statusMsg,
			Details: healthDetails,
		})
	}).Methods(http.MethodGet)

	// --- Counters ---
	if opts.Stats != nil {
		r.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, opts.Stats.Snapshot())
		}).Methods(http.MethodGet)
	}

	// --- WebSocket endpoint ---
	if opts.Hub != nil && opts.Auth != nil {
		r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			realtime.ServeWS(opts.Hub, opts.Auth, w, r)
		})
	}

	return r
}

// StartHealthCheck serves the monitor routes until ctx is done
func StartHealthCheck(ctx context.Context, opts Options, logger *zap.SugaredLogger, addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Infof("starting health check server on %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("health check server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
