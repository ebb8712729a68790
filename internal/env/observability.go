package environment

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"

	"paykit/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

func initObservability(
	_ context.Context,
	logger *slog.Logger,
	clients *Clients,
	cfg config.Config,
) *http.Server {
	mux := http.NewServeMux()

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	// prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := clients.SQLiteDB.PingContext(ctx); err != nil {
			logger.Warn("Readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "database unavailable")
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Ready")
	})

	return &http.Server{
		Handler:           mux,
		Addr:              cfg.Observability.ADDR(),
		ReadTimeout:       cfg.Observability.ReadTimeout,
		WriteTimeout:      cfg.Observability.WriteTimeout,
		IdleTimeout:       cfg.Observability.IdleTimeout,
		ReadHeaderTimeout: cfg.Observability.ReadTimeout,
	}
}
