package planner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stereowatch/internal/clock"
	"stereowatch/internal/logging"
	"stereowatch/internal/machine"
	"stereowatch/internal/metrics"
	"stereowatch/internal/store"
)

// Params configures one planner instance.
type Params struct {
	BatchSize      int
	Parallelism    int
	MinSleep       time.Duration
	LeaseTTL       time.Duration
	SizePoll       time.Duration
	StableWait     time.Duration
	QuickMode      bool
	IntegrityLimit time.Duration
	ProbeLimit     time.Duration
	ConvertLimit   time.Duration
	BackoffStep    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
	DeleteOriginal bool
	Languages      []string
	ShutdownGrace  time.Duration
}

// TickResult summarizes one planner cycle.
type TickResult struct {
	Picked     int
	PerOutcome map[string]int
}

// Planner selects due records and applies handlers to them.
type Planner struct {
	store    *store.Store
	machine  *machine.Machine
	adapters Adapters
	clk      clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
	params   Params
	owner    string

	wake chan struct{}

	mu      sync.Mutex
	running bool
}

// New constructs a planner. The owner identity stamps every lease this
// instance takes, so rows leased by a crashed process are distinguishable.
func New(st *store.Store, adapters Adapters, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger, params Params) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 50
	}
	if params.Parallelism <= 0 {
		params.Parallelism = 4
	}
	if params.MinSleep <= 0 {
		params.MinSleep = time.Second
	}
	return &Planner{
		store:    st,
		adapters: adapters,
		clk:      clk,
		metrics:  m,
		logger:   logger.With(logging.String(logging.FieldComponent, "planner")),
		params:   params,
		owner:    uuid.NewString(),
		wake:     make(chan struct{}, 1),
		machine: machine.New(machine.Params{
			SizePoll:         params.SizePoll,
			StableWait:       params.StableWait,
			IntegrityTimeout: params.IntegrityLimit,
			BackoffStep:      params.BackoffStep,
			BackoffMax:       params.BackoffMax,
			MaxAttempts:      params.MaxAttempts,
		}),
	}
}

// Wake nudges a sleeping planner; discovery calls this after inserting rows.
func (p *Planner) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Tick runs one planning cycle: pick due entries, process them with bounded
// parallelism, persist results.
func (p *Planner) Tick(ctx context.Context) (TickResult, error) {
	now := p.clk.Now()
	p.metrics.CyclesRun.Inc()

	batch, err := p.store.PickDue(ctx, now, p.params.BatchSize, p.owner, p.params.LeaseTTL)
	if err != nil {
		return TickResult{}, err
	}
	result := TickResult{Picked: len(batch), PerOutcome: make(map[string]int)}
	if len(batch) == 0 {
		return result, nil
	}
	p.metrics.DuePicked.Add(float64(len(batch)))

	sem := make(chan struct{}, p.params.Parallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, entry := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(entry *store.FileEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			hctx, cancel := p.handlerContext(ctx)
			defer cancel()
			outcome := p.handle(hctx, entry)
			mu.Lock()
			result.PerOutcome[outcome]++
			mu.Unlock()
		}(entry)
	}
	wg.Wait()
	return result, nil
}

// handlerContext detaches handler execution from immediate shutdown
// cancellation: once the parent ends, in-flight handlers get the configured
// grace window before their context cancels.
func (p *Planner) handlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	if p.params.ShutdownGrace <= 0 {
		return context.WithCancel(parent)
	}
	hctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	var mu sync.Mutex
	var timer *time.Timer
	stopWatch := context.AfterFunc(parent, func() {
		mu.Lock()
		defer mu.Unlock()
		timer = time.AfterFunc(p.params.ShutdownGrace, cancel)
	})
	return hctx, func() {
		stopWatch()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel()
	}
}

// Run loops until ctx is cancelled. With nothing due it sleeps until the
// earliest next_check_at, a wake signal, or min sleep, whichever fits.
func (p *Planner) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.logger.Info("planner started",
		logging.Int("batch_size", p.params.BatchSize),
		logging.Int("parallelism", p.params.Parallelism),
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := p.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("planner tick failed", logging.Error(err))
			if !p.sleep(ctx, p.params.BackoffMax) {
				return ctx.Err()
			}
			continue
		}
		if result.Picked > 0 {
			// More work may already be due (chained steps schedule "now").
			continue
		}

		sleep := p.nextSleep(ctx)
		if !p.sleep(ctx, sleep) {
			return ctx.Err()
		}
	}
}

func (p *Planner) nextSleep(ctx context.Context) time.Duration {
	earliest, err := p.store.EarliestNextCheck(ctx)
	if err != nil {
		p.logger.Warn("earliest next check query failed", logging.Error(err))
		return p.params.MinSleep
	}
	if earliest == 0 {
		// Nothing scheduled at all; sleep until woken by discovery.
		return time.Hour
	}
	until := time.Unix(earliest, 0).Sub(p.clk.Now())
	if until < p.params.MinSleep {
		return p.params.MinSleep
	}
	return until
}

// sleep waits for the duration, a wake signal, or cancellation. Returns false
// when ctx ended.
func (p *Planner) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-p.wake:
		return true
	case <-p.clk.After(d):
		return true
	}
}
