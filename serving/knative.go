// Package serving exposes the treasury over HTTP as a Knative service.
package serving

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/midnightos/treasury/models"
	"github.com/midnightos/treasury/treasury"
	"github.com/midnightos/treasury/txstore"
	logger "github.com/ndau/go-logger"
)

const maxBodyBytes = 1 << 20

// Handler carries the collaborators of the HTTP endpoints.
type Handler struct {
	manager *treasury.Manager
	txs     *txstore.Store

	// Optional: logging
	Log logger.Logger
}

// NewHandler -
func NewHandler(manager *treasury.Manager, txs *txstore.Store, loggers ...logger.Logger) *Handler {
	// Attach an optional logger
	var log logger.Logger
	if len(loggers) > 0 {
		log = loggers[0]
	} else {
		log = &logger.NoopLogger{}
	}
	return &Handler{manager: manager, txs: txs, Log: log}
}

// NewRouter mounts the treasury endpoints under /treasury. gatherer may be
// nil, in which case /metrics is not served.
func NewRouter(h *Handler, limiter *RateLimiter, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(h.trackingMiddleware)
	r.Use(recoverMiddleware(h.Log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/treasury", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		r.Post("/create-proposal", h.createProposal)
		r.Get("/proposals", h.listProposals)
		r.Get("/proposals/{id}", h.getProposal)
		r.Get("/analytics", h.analytics)
		r.Get("/balance", h.balance)
		r.Post("/open-voting", h.openVoting)
		r.Post("/vote", h.castVote)
		r.Post("/tally", h.tally)
		r.Post("/payout", h.payout)
		r.Post("/release-claim", h.releaseClaim)
		r.Get("/transactions", h.listTransactions)
		r.Post("/voters", h.syncVoters)
	})
	return r
}

// Server is the HTTP listener.
type Server struct {
	srv *http.Server

	// Optional: logging
	Log logger.Logger
}

// NewServer builds the listener for cfg.HTTPPort.
func NewServer(cfg *models.Config, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			// Payouts wait on the ledger, bounded by LedgerTimeout per call.
			WriteTimeout: 3*cfg.LedgerTimeout + 10*time.Second,
		},
		Log: log,
	}
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.Log.Infof("Treasury is listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
