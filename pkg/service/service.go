// Package service assembles the mirrorq daemon.
//
// It wires the queue store, event bus, metrics, copier, bucket manager,
// scanner, and HTTP servers from one configuration, restores scheduler state
// from the previous run, and drives graceful shutdown in dependency order.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorq/mirrorq/internal/logger"
	"github.com/mirrorq/mirrorq/pkg/api"
	"github.com/mirrorq/mirrorq/pkg/config"
	"github.com/mirrorq/mirrorq/pkg/copier"
	"github.com/mirrorq/mirrorq/pkg/events"
	"github.com/mirrorq/mirrorq/pkg/hasher"
	"github.com/mirrorq/mirrorq/pkg/manager"
	"github.com/mirrorq/mirrorq/pkg/metrics"
	"github.com/mirrorq/mirrorq/pkg/queue"
	"github.com/mirrorq/mirrorq/pkg/scanner"
	"github.com/mirrorq/mirrorq/pkg/scheduler"
)

// queueDepthInterval is how often the queue depth gauges are refreshed from
// the ledger. The read is O(1), so a short interval is cheap.
const queueDepthInterval = 5 * time.Second

// Service is the assembled mirrorq daemon.
type Service struct {
	cfg     *config.Config
	store   *queue.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	manager *manager.Manager
	scanner *scanner.Scanner

	apiServer     *api.Server
	metricsServer *http.Server
}

// New builds a Service from configuration. The queue database is opened (and
// migrated) here; the hash algorithm is pinned before any worker can run.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := queue.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	algorithm := hasher.Algorithm(cfg.Copy.HashAlgorithm)
	if err := store.EnsureHashAlgorithm(ctx, string(algorithm)); err != nil {
		store.Close()
		return nil, err
	}

	h, err := hasher.New(algorithm)
	if err != nil {
		store.Close()
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	bus := events.NewBus(copier.DefaultProgressInterval)
	cp := copier.New(h, copier.Config{BufferSize: cfg.Copy.BufferSize})

	mgr, err := manager.New(ctx, store, cp, bus, scheduler.NewCopyLogger(), m, manager.Config{
		WorkerDefaultCount: cfg.Workers.DefaultCount,
		WorkerMaxCount:     cfg.Workers.MaxCount,
	})
	if err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	scn := scanner.New(store, bus, m, scanner.Config{
		Recursive:      cfg.Scan.Recursive,
		IgnorePatterns: cfg.Scan.IgnorePatterns,
		PreDedupe:      cfg.Scan.PreDedupe,
	})

	svc := &Service{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		metrics: m,
		manager: mgr,
		scanner: scn,
	}

	svc.apiServer = api.NewServer(api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
	}, api.Dependencies{
		Store:   store,
		Manager: mgr,
		Scanner: scn,
	})

	if m != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		svc.metricsServer = &http.Server{
			Addr:    net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.Metrics.Port)),
			Handler: mux,
		}
	}

	return svc, nil
}

// Store exposes the queue store, mainly for tests.
func (s *Service) Store() *queue.Store {
	return s.store
}

// Manager exposes the bucket manager, mainly for tests.
func (s *Service) Manager() *manager.Manager {
	return s.manager
}

// Serve restores scheduler state, starts the HTTP servers and background
// loops, and blocks until ctx is cancelled. Shutdown is bounded by the
// configured shutdown timeout.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.manager.RestoreState(ctx); err != nil {
		return fmt.Errorf("restore scheduler state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return s.apiServer.Start(gctx)
	})

	if s.metricsServer != nil {
		g.Go(func() error {
			logger.Info("Metrics server listening", "addr", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.metricsServer.Shutdown(shutdownCtx)
		})
	}

	if s.metrics != nil {
		g.Go(func() error {
			s.queueDepthLoop(gctx)
			return nil
		})
	}

	if s.cfg.Scan.Watch {
		s.startWatchers(gctx, g)
	}

	<-gctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := s.manager.StopAll(shutdownCtx); err != nil {
		logger.Error("Scheduler shutdown error", logger.Err(err))
	}

	cancel()
	err := g.Wait()

	s.bus.Close()
	if cerr := s.store.Close(); cerr != nil {
		logger.Error("Queue store close error", logger.Err(cerr))
	}

	logger.Info("Service stopped")
	return err
}

// queueDepthLoop refreshes the per-status queue depth gauges from the ledger.
func (s *Service) queueDepthLoop(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.store.Stats(nil)
			for status, agg := range stats {
				s.metrics.SetQueueDepth(string(status), agg.Count)
			}
		}
	}
}

// startWatchers launches a filesystem watcher per bucket known at startup.
// Buckets created later pick up changes on their next explicit scan.
func (s *Service) startWatchers(ctx context.Context, g *errgroup.Group) {
	buckets, err := s.manager.ListBuckets(ctx)
	if err != nil {
		logger.Error("Failed to list buckets for watch mode", logger.Err(err))
		return
	}

	for i := range buckets {
		b := buckets[i]
		g.Go(func() error {
			logger.Info("Watching bucket sources", logger.Bucket(b.Name))
			if err := s.scanner.Watch(ctx, &b); err != nil && ctx.Err() == nil {
				logger.Error("Bucket watcher failed", logger.Bucket(b.Name), logger.Err(err))
			}
			return nil
		})
	}
}
