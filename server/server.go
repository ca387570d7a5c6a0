package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxline/fluxline/flow"
	"github.com/fluxline/fluxline/flow/emit"
	"github.com/fluxline/fluxline/flow/store"
)

// Server wires the engine, workflow repository, and event broadcast behind
// a chi router.
type Server struct {
	router    chi.Router
	engine    *flow.Engine
	repo      *Repo
	broadcast *Broadcast
	cfg       Config
	promReg   *prometheus.Registry
}

// NewServer builds a Server from configuration and a handler registry.
//
// The registry decides which node types workflows may use; register the
// built-in catalog and any domain handlers before calling NewServer.
func NewServer(cfg Config, registry *flow.Registry) (*Server, error) {
	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Server{
		repo:      NewRepo(),
		broadcast: NewBroadcast(),
		cfg:       cfg,
	}

	emitters := emit.Multi{s.broadcast, emit.NewLogEmitter(nil, true)}

	opts := []flow.Option{
		flow.WithDefaultNodeTimeout(cfg.Engine.NodeTimeout),
		flow.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
	}
	if cfg.Engine.RetryBaseDelay > 0 {
		opts = append(opts, flow.WithRetryPolicy(flow.RetryPolicy{
			BaseDelay: cfg.Engine.RetryBaseDelay,
			MaxDelay:  cfg.Engine.RetryMaxDelay,
			Jitter:    true,
		}))
	}
	if cfg.Metrics {
		s.promReg = prometheus.NewRegistry()
		opts = append(opts, flow.WithMetrics(flow.NewMetrics(s.promReg)))
	}

	engine, err := flow.New(registry, st, emitters, opts...)
	if err != nil {
		return nil, err
	}
	s.engine = engine

	s.router = s.routes()
	return s, nil
}

func openStore(cfg StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	case "mysql":
		return store.NewMySQLStore(cfg.DSN)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.handleCreateWorkflow)
		r.Post("/validate", s.handleValidate)
		r.Get("/{id}", s.handleGetWorkflow)
		r.Put("/{id}", s.handleUpdateWorkflow)
		r.Post("/{id}/executions", s.handleExecute)
	})
	r.Get("/executions/{id}", s.handleGetExecution)
	r.Get("/node-types", s.handleNodeTypes)

	if s.promReg != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Engine exposes the underlying engine, mainly for embedding and tests.
func (s *Server) Engine() *flow.Engine {
	return s.engine
}

// Events returns the broadcast hub for realtime execution monitoring.
func (s *Server) Events() *Broadcast {
	return s.broadcast
}

// ListenAndServe starts the HTTP server on the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
