// Package api provides the HTTP server for SupportPipe.
//
// It exposes the customer support endpoints: login, chat, end-of-chat
// finalization, shipment tracking, direct shipment creation, report downloads
// and a health check. Handlers delegate to the agent, fulfillment, shipment,
// report and store modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/agent"
	"github.com/BTreeMap/SupportPipe/internal/fulfillment"
	"github.com/BTreeMap/SupportPipe/internal/report"
	"github.com/BTreeMap/SupportPipe/internal/shipment"
	"github.com/BTreeMap/SupportPipe/internal/store"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr       string
	Components map[string]string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithComponentStatus adds an entry to the health report, e.g. ("notifier", "twilio").
func WithComponentStatus(name, status string) Option {
	return func(o *Opts) {
		if o.Components == nil {
			o.Components = make(map[string]string)
		}
		o.Components[name] = status
	}
}

// Deps are the modules the server delegates to. All fields are required.
type Deps struct {
	Store        store.Store
	Shipments    *shipment.Manager
	Agent        *agent.Agent
	Orchestrator *fulfillment.Orchestrator
	Reporter     *report.Reporter
}

// Server serves the SupportPipe HTTP API.
type Server struct {
	st           store.Store
	shipments    *shipment.Manager
	agent        *agent.Agent
	orchestrator *fulfillment.Orchestrator
	reporter     *report.Reporter
	addr         string
	components   map[string]string
	newSessionID func() string
}

// NewServer creates a Server wired to deps.
func NewServer(deps Deps, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		st:           deps.Store,
		shipments:    deps.Shipments,
		agent:        deps.Agent,
		orchestrator: deps.Orchestrator,
		reporter:     deps.Reporter,
		addr:         cfg.Addr,
		components:   cfg.Components,
		newSessionID: newSessionID,
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.loginHandler)
	mux.HandleFunc("POST /api/auth/logout", s.logoutHandler)
	mux.HandleFunc("POST /api/chat", s.chatHandler)
	mux.HandleFunc("POST /api/chat/end", s.endChatHandler)
	mux.HandleFunc("GET /api/shipments", s.listShipmentsHandler)
	mux.HandleFunc("GET /api/shipments/{id}", s.shipmentStatusHandler)
	mux.HandleFunc("POST /api/shipments/create-pickup", s.createPickupHandler)
	mux.HandleFunc("POST /api/shipments/create-delivery", s.createDeliveryHandler)
	mux.HandleFunc("GET /api/export/chat-summaries", s.exportChatSummariesHandler)
	mux.HandleFunc("GET /api/export/shipments", s.exportShipmentsHandler)
	mux.HandleFunc("GET /api/user/{id}/data", s.userDataHandler)
	mux.HandleFunc("POST /api/orders", s.createOrderHandler)
	mux.HandleFunc("GET /api/health", s.healthHandler)
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: SupportPipe API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("Server.Run: listener failed", "error", err)
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		<-errCh
		return nil
	}
}
