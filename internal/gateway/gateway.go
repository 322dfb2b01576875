package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftwoodlabs/retain/internal/config"
	"github.com/driftwoodlabs/retain/internal/cron"
	"github.com/driftwoodlabs/retain/internal/memory"
	"github.com/driftwoodlabs/retain/internal/store"
)

// Options for creating a Gateway. Store and Model allow injection for
// testing; SignalChan lets tests drive shutdown.
type Options struct {
	Store      memory.Store
	Model      memory.ModelScorer
	SignalChan chan os.Signal
}

// Gateway wires the scorer, lifecycle engine, scheduler, and HTTP API
// around a storage backend.
type Gateway struct {
	cfg        *config.Config
	store      memory.Store
	scorer     *memory.Scorer
	lifecycle  *memory.Lifecycle
	cron       *cron.Service
	server     *http.Server
	signalChan chan os.Signal
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	st := opts.Store
	if st == nil {
		switch cfg.Store.Backend {
		case "", config.DefaultStoreBackend:
			st = store.New(cfg.Store.DBPath, cfg.Scoring.DefaultSilentDays)
		default:
			return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
		}
	}
	g.store = st

	model := opts.Model
	if model == nil && cfg.Model.Enabled {
		model = memory.NewModelScorer(cfg.Model)
	}

	scorer, err := memory.NewScorer(cfg.Scoring, st, model)
	if err != nil {
		return nil, fmt.Errorf("create scorer: %w", err)
	}
	g.scorer = scorer
	g.lifecycle = memory.NewLifecycle(st, scorer.Config)

	g.cron = cron.NewService()
	if err := g.registerLifecycleJobs(); err != nil {
		return nil, fmt.Errorf("register lifecycle jobs: %w", err)
	}

	g.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler: g.routes(),
	}

	return g, nil
}

func (g *Gateway) registerLifecycleJobs() error {
	spec := fmt.Sprintf("@every %dh", g.scorer.Config().CleanupIntervalHours)

	if err := g.cron.AddJob("cleanup", spec, func() (string, error) {
		stats := g.lifecycle.CleanupExpired(context.Background())
		return fmt.Sprintf("deleted=%d upgraded=%d", stats.Deleted, stats.Upgraded), nil
	}); err != nil {
		return err
	}

	return g.cron.AddJob("reinforcement", spec, func() (string, error) {
		stats := g.lifecycle.ProcessReinforcements(context.Background())
		return fmt.Sprintf("upgraded=%d downgraded=%d", stats.Upgraded, stats.Downgraded), nil
	})
}

// Run starts the backend, scheduler, and HTTP API, then blocks until a
// shutdown signal arrives.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}

	g.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Printf("[gateway] listening on %s", g.server.Addr)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case err := <-errCh:
		log.Printf("[gateway] server error: %v", err)
		_ = g.Shutdown()
		return err
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.server.Shutdown(ctx); err != nil {
		log.Printf("[gateway] http shutdown warning: %v", err)
	}
	if err := g.store.Shutdown(ctx); err != nil {
		log.Printf("[gateway] store shutdown warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}
