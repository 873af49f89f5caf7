package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/migration-orchestrator/internal/migration"
)

// StatusProvider reports where the store stands relative to the known units.
// *migration.Engine satisfies it.
type StatusProvider interface {
	Status(ctx context.Context) (migration.Status, error)
}

type RouterConfig struct {
	Metrics    http.Handler
	Status     StatusProvider
	Logger     *slog.Logger
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	responder := newResponder(cfg.Logger)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		responder.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Metrics != nil {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			cfg.Metrics.ServeHTTP(w, r)
		})
	}

	if cfg.Status != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w, http.MethodGet)
				return
			}
			status, err := cfg.Status.Status(r.Context())
			if err != nil {
				responder.writeError(r.Context(), w, http.StatusServiceUnavailable, err)
				return
			}
			responder.writeJSON(r.Context(), w, http.StatusOK, toStatusDTO(status))
		})
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

type statusDTO struct {
	Current  string   `json:"current"`
	Executed []string `json:"executed"`
	Pending  []string `json:"pending"`
	Unknown  []string `json:"unknown,omitempty"`
}

func toStatusDTO(status migration.Status) statusDTO {
	return statusDTO{
		Current:  status.Current(),
		Executed: nonNil(status.Executed),
		Pending:  nonNil(status.Pending),
		Unknown:  status.Unknown,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
