// Package api is the HTTP control surface of DialogPipe: admin endpoints that
// push messages and start flows, provider webhooks, health and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BTreeMap/DialogPipe/internal/dispatcher"
	"github.com/BTreeMap/DialogPipe/internal/messaging"
	"github.com/BTreeMap/DialogPipe/internal/util"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":3008"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds a single admin request, including the flow run it starts.
	DefaultRequestTimeout = 60 * time.Second
)

// Opts holds configuration for the API server.
type Opts struct {
	Meta           *messaging.MetaService
	Twilio         *messaging.TwilioService
	Gatherer       prometheus.Gatherer
	Canonicalize   func(string) (string, error)
	RequestTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithMetaService mounts the Meta Cloud API webhook at /webhook.
func WithMetaService(s *messaging.MetaService) Option {
	return func(o *Opts) {
		o.Meta = s
	}
}

// WithTwilioService mounts the Twilio webhook at /twilio/webhook.
func WithTwilioService(s *messaging.TwilioService) Option {
	return func(o *Opts) {
		o.Twilio = s
	}
}

// WithGatherer exposes the registry at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) {
		o.Gatherer = g
	}
}

// WithRecipientCanonicalizer replaces the phone normalization applied to
// numbers posted to the admin endpoints, usually with the messaging service's.
func WithRecipientCanonicalizer(fn func(string) (string, error)) Option {
	return func(o *Opts) {
		o.Canonicalize = fn
	}
}

// WithRequestTimeout bounds the work done for one admin request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RequestTimeout = d
	}
}

// Server routes HTTP requests to the dispatcher and the provider webhooks.
type Server struct {
	d      *dispatcher.Dispatcher
	opts   Opts
	router chi.Router
}

// NewServer creates the API server around d.
func NewServer(d *dispatcher.Dispatcher, opts ...Option) *Server {
	cfg := Opts{Canonicalize: util.CanonicalizePhone, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{d: d, opts: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Post("/messages", s.sendHandler)
		r.Post("/register", s.eventHandler(RegisterEvent))
		r.Post("/samples", s.eventHandler(SamplesEvent))
		r.Post("/start-flow", s.startFlowHandler)
		r.Get("/blacklist", s.listBlacklistHandler)
		r.Post("/blacklist", s.blacklistHandler)
		r.Get("/sessions/{key}", s.getSessionHandler)
		r.Delete("/sessions/{key}", s.deleteSessionHandler)
		r.Get("/flows", s.flowsHandler)
	})

	if s.opts.Meta != nil {
		r.Get("/webhook", s.opts.Meta.VerifyHandler)
		r.Post("/webhook", s.opts.Meta.WebhookHandler)
	}
	if s.opts.Twilio != nil {
		r.Post("/twilio/webhook", s.opts.Twilio.WebhookHandler)
	}
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
