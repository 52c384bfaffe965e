package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stereowatch/internal/clock"
	"stereowatch/internal/config"
	"stereowatch/internal/logging"
	"stereowatch/internal/media/convert"
	"stereowatch/internal/media/ffprobe"
	"stereowatch/internal/media/integrity"
	"stereowatch/internal/metrics"
	"stereowatch/internal/planner"
	"stereowatch/internal/store"
)

// Manager wires the store, planner, adapters, and metrics into one unit.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	planner *planner.Planner
	metrics *metrics.Metrics
	clk     clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option overrides a Manager collaborator, mainly for tests.
type Option func(*options)

type options struct {
	clk      clock.Clock
	adapters *planner.Adapters
}

// WithClock injects a clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithAdapters injects adapter implementations.
func WithAdapters(adapters planner.Adapters) Option {
	return func(o *options) { o.adapters = &adapters }
}

// New opens the store and builds the planner with the reference adapters.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clk == nil {
		o.clk = clock.System{}
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, err
	}

	adapters := planner.Adapters{
		Integrity: integrity.Checker{
			FFprobeBinary: cfg.Integrity.FFprobeBinary,
			FFmpegBinary:  cfg.Integrity.FFmpegBinary,
		},
		Probe: ffprobe.Probe{Binary: cfg.Integrity.FFprobeBinary},
		Converter: convert.Converter{
			FFmpegBinary:  cfg.Convert.FFmpegBinary,
			FFprobeBinary: cfg.Integrity.FFprobeBinary,
			Bitrate:       cfg.Convert.StereoBitrate,
			Languages:     cfg.Audio.Languages,
		},
	}
	if o.adapters != nil {
		adapters = *o.adapters
	}

	m := metrics.New()
	p := planner.New(st, adapters, o.clk, m, logger, planner.Params{
		BatchSize:      cfg.Scheduler.BatchSize,
		Parallelism:    cfg.Scheduler.Parallelism,
		MinSleep:       time.Duration(cfg.Scheduler.MinSleepSec) * time.Second,
		LeaseTTL:       time.Duration(cfg.Scheduler.LeaseTTLSec) * time.Second,
		SizePoll:       time.Duration(cfg.Stability.SizePollSec) * time.Second,
		StableWait:     time.Duration(cfg.Stability.StableWaitSec) * time.Second,
		QuickMode:      cfg.Integrity.QuickMode,
		IntegrityLimit: time.Duration(cfg.Integrity.TimeoutSec) * time.Second,
		ProbeLimit:     time.Duration(cfg.Audio.ProbeTimeoutSec) * time.Second,
		ConvertLimit:   time.Duration(cfg.Convert.TimeoutSec) * time.Second,
		BackoffStep:    time.Duration(cfg.Integrity.BackoffStepSec) * time.Second,
		BackoffMax:     time.Duration(cfg.Integrity.BackoffMaxSec) * time.Second,
		MaxAttempts:    cfg.Integrity.MaxAttempts,
		DeleteOriginal: cfg.Convert.DeleteOriginal,
		Languages:      cfg.Audio.Languages,
		ShutdownGrace:  time.Duration(cfg.Scheduler.ShutdownGraceSec) * time.Second,
	})

	return &Manager{
		cfg:     cfg,
		store:   st,
		planner: p,
		metrics: m,
		clk:     o.clk,
		logger:  logger.With(logging.String(logging.FieldComponent, "manager")),
	}, nil
}

// Store exposes the underlying store for CLI queries.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Metrics exposes the metrics registry owner.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// ProcessPending runs one planner tick synchronously.
func (m *Manager) ProcessPending(ctx context.Context) (planner.TickResult, error) {
	return m.planner.Tick(ctx)
}

// StartMonitoring runs the planner until ctx is cancelled, interleaving
// periodic maintenance.
func (m *Manager) StartMonitoring(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.maintenanceLoop(runCtx)
	}()

	err := m.planner.Run(runCtx)
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Wake nudges the planner out of its sleep after out-of-band writes.
func (m *Manager) Wake() {
	m.planner.Wake()
}

func (m *Manager) maintenanceLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.Scheduler.MaintenanceSec) * time.Second
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(interval):
		}
		if _, err := m.Maintenance(ctx); err != nil {
			m.logger.Warn("maintenance failed", logging.Error(err))
		}
	}
}

// Maintenance runs one retention pass.
func (m *Manager) Maintenance(ctx context.Context) (store.GCResult, error) {
	result, err := m.store.GC(ctx, m.clk.Now(),
		m.cfg.Retention.KeepProcessedDays, m.cfg.Retention.MaxEntries)
	if err != nil {
		return result, err
	}
	if result.FilesDeleted > 0 || result.GroupsDeleted > 0 {
		m.logger.Info("maintenance completed",
			logging.Int64("files_deleted", result.FilesDeleted),
			logging.Int64("groups_deleted", result.GroupsDeleted),
			logging.Bool("vacuum", result.VacuumPerformed),
		)
	}
	return result, nil
}

// Close shuts the Manager down. Running handlers get the shutdown grace via
// the caller's context before this is invoked.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.store.Close()
}
