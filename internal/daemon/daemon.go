// Package daemon exposes the retrieval workflow over HTTP: a chat
// endpoint, an SSE progress stream, per-session conversation history
// and backend health reporting.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/internal/workflow"
)

// Version and BuildTime are stamped at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Daemon is the Lattice server core.
type Daemon struct {
	cfg      *config.Config
	deps     workflow.Deps
	pipeline *workflow.Pipeline
	sessions *SessionStore
	events   *EventBus
	probes   []probe
	closers  []io.Closer
	router   chi.Router
	server   *http.Server
	logger   zerolog.Logger

	mu        sync.RWMutex
	running   bool
	ready     bool
	startTime time.Time

	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// New assembles the backends and builds the server. The relational
// store and the chat model are required; every other backend degrades
// to a reduced retrieval surface when unavailable.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	logger := observability.Logger("daemon")
	deps, probes, closers, err := assemble(cfg, logger)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:        cfg,
		deps:       deps,
		pipeline:   workflow.NewPipeline(deps, cfg.Workflow),
		sessions:   NewSessionStore(cfg.Workflow.MaxHistoryLength),
		events:     NewEventBus(0),
		probes:     probes,
		closers:    closers,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
	d.setupRouter()
	return d, nil
}

func (d *Daemon) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(d.loggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", d.handleHealth)
		r.Get("/ready", d.handleReady)
		r.Get("/status", d.handleStatus)

		r.Post("/chat", d.handleChat)
		r.Get("/chat/stream", d.handleChatStream)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/history", d.handleSessionHistory)
			r.Delete("/", d.handleSessionDelete)
		})

		r.Get("/events", d.handleEvents)
		r.Get("/events/stats", d.handleEventStats)
	})

	d.router = r
}

func (d *Daemon) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		d.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request completed")
	})
}

// Start begins serving on the configured TCP address.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	listener, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Listen, err)
	}

	d.server = &http.Server{
		Handler:      d.router,
		ReadTimeout:  d.cfg.API.ReadTimeout,
		WriteTimeout: d.cfg.API.WriteTimeout,
		IdleTimeout:  d.cfg.API.IdleTimeout,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			observability.LogError(d.logger, err, "server error", map[string]interface{}{
				"listen": d.cfg.Listen,
			})
		}
	}()

	d.wg.Add(1)
	go d.housekeepingLoop(ctx)

	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()

	observability.LogEvent(d.logger, observability.EventDaemonStarted, map[string]interface{}{
		"listen": d.cfg.Listen,
	})
	return nil
}

// Stop drains the server and releases the backends.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.ready = false
	d.mu.Unlock()

	close(d.shutdownCh)

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error().Err(err).Msg("server shutdown error")
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Msg("shutdown timeout, some goroutines may still be running")
	}

	d.events.Close()
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("backend close error")
		}
	}

	observability.LogEvent(d.logger, observability.EventDaemonStopped, nil)
	return nil
}

// Run serves until interrupted.
func (d *Daemon) Run() error {
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-d.shutdownCh:
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return d.Stop(shutdownCtx)
}

// Ready reports whether the daemon accepts work.
func (d *Daemon) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// Pipeline returns the shared turn pipeline. The chat CLI drives it
// directly when running without a server.
func (d *Daemon) Pipeline() *workflow.Pipeline {
	return d.pipeline
}

// housekeepingLoop prunes idle sessions and heartbeats the event bus.
func (d *Daemon) housekeepingLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := d.sessions.Prune(sessionIdleTimeout)
			if pruned > 0 {
				d.logger.Debug().Int("sessions", pruned).Msg("pruned idle sessions")
			}
			d.mu.RLock()
			uptime := time.Since(d.startTime).Truncate(time.Second).String()
			d.mu.RUnlock()
			d.events.Publish(EventHeartbeat, map[string]any{
				"status":      "running",
				"uptime":      uptime,
				"sessions":    d.sessions.Len(),
				"subscribers": d.events.SubscriberCount(),
			})
		}
	}
}
