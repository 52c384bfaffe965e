package manager

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"stereowatch/internal/store"
)

// Status is the GetStatus payload.
type Status struct {
	TotalFiles       int            `json:"total_files"`
	TotalGroups      int            `json:"total_groups"`
	DueFiles         int            `json:"due_files"`
	ByIntegrity      map[string]int `json:"by_integrity"`
	ByProcessed      map[string]int `json:"by_processed"`
	DBSizeBytes      int64          `json:"db_size_bytes"`
	DBPath           string         `json:"db_path"`
	EarliestNextAt   int64          `json:"earliest_next_check_at,omitempty"`
	CyclesRun        int64          `json:"cycles_run"`
	DuePickedTotal   int64          `json:"due_picked_total"`
	BackoffApplied   int64          `json:"backoff_applied_total"`
	InstanceID       string         `json:"instance_id,omitempty"`
	SchedulerParked  bool           `json:"scheduler_parked"`
	SchedulerDueSoon bool           `json:"scheduler_due_soon"`
}

// GetStatus aggregates store counts and planner counters.
func (m *Manager) GetStatus(ctx context.Context) (Status, error) {
	now := m.clk.Now()
	stats, err := m.store.GetStats(ctx, now)
	if err != nil {
		return Status{}, err
	}

	status := Status{
		TotalFiles:  stats.TotalFiles,
		TotalGroups: stats.TotalGroups,
		DueFiles:    stats.DueFiles,
		ByIntegrity: make(map[string]int, len(stats.ByIntegrity)),
		ByProcessed: make(map[string]int, len(stats.ByProcessed)),
		DBSizeBytes: stats.DBSizeBytes,
		DBPath:      m.store.Path(),
	}
	for k, v := range stats.ByIntegrity {
		status.ByIntegrity[string(k)] = v
	}
	for k, v := range stats.ByProcessed {
		status.ByProcessed[string(k)] = v
	}

	earliest, err := m.store.EarliestNextCheck(ctx)
	if err != nil {
		return Status{}, err
	}
	status.EarliestNextAt = earliest
	status.SchedulerParked = earliest == 0
	status.SchedulerDueSoon = earliest != 0 && earliest <= now.Unix()

	status.CyclesRun = int64(m.metrics.CounterValue("stereowatch_cycles_run_total", nil))
	status.DuePickedTotal = int64(m.metrics.CounterValue("stereowatch_due_picked_total", nil))
	status.BackoffApplied = int64(m.metrics.CounterValue("stereowatch_backoff_applied_total", nil))

	if id, err := m.store.InstanceID(ctx); err == nil {
		status.InstanceID = id
	}

	// Keep the gauges warm for scrapes while we have the numbers in hand.
	for k, v := range stats.ByIntegrity {
		m.metrics.FilesByIntegrity.WithLabelValues(string(k)).Set(float64(v))
	}
	for k, v := range stats.ByProcessed {
		m.metrics.FilesByProcessed.WithLabelValues(string(k)).Set(float64(v))
	}
	m.metrics.DBSizeBytes.Set(float64(stats.DBSizeBytes))

	return status, nil
}

// Health is the GetHealth payload.
type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// errorRateThreshold flags the health surface once this share of handler
// executions failed.
const errorRateThreshold = 0.25

// GetHealth inspects the store and planner counters for conditions an
// operator should look at: stuck leases, quarantined files, invariant
// violations, database corruption, and a nearly full database volume.
func (m *Manager) GetHealth(ctx context.Context) (Health, error) {
	health := Health{Healthy: true}
	now := m.clk.Now()

	stuck, err := m.store.StuckLeases(ctx, now)
	if err != nil {
		return Health{}, err
	}
	if stuck > 0 {
		health.Issues = append(health.Issues, fmt.Sprintf("%d leases expired without being cleared", stuck))
	}

	stats, err := m.store.GetStats(ctx, now)
	if err != nil {
		return Health{}, err
	}
	if quarantined := stats.ByIntegrity[store.IntegrityQuarantined]; quarantined > 0 {
		health.Issues = append(health.Issues, fmt.Sprintf("%d files quarantined after repeated integrity failures", quarantined))
	}
	if failed := stats.ByProcessed[store.ProcessedConvertFailed]; failed > 0 {
		health.Issues = append(health.Issues, fmt.Sprintf("%d files with failed conversions", failed))
	}

	violations := m.metrics.CounterValue("stereowatch_handler_outcomes_total",
		map[string]string{"outcome": "invariant_violation"})
	if violations > 0 {
		health.Issues = append(health.Issues, fmt.Sprintf("%.0f invariant violations rejected", violations))
	}

	totalOutcomes := m.metrics.CounterValue("stereowatch_handler_outcomes_total", nil)
	errorOutcomes := m.metrics.CounterValue("stereowatch_handler_outcomes_total",
		map[string]string{"outcome": "error"})
	if totalOutcomes > 0 && errorOutcomes/totalOutcomes > errorRateThreshold {
		health.Issues = append(health.Issues,
			fmt.Sprintf("handler error rate %.0f%% above threshold", 100*errorOutcomes/totalOutcomes))
	}

	ok, err := m.store.IntegrityCheck(ctx)
	if err != nil {
		return Health{}, err
	}
	if !ok {
		health.Issues = append(health.Issues, "database integrity check failed")
	}

	if free, total, err := diskUsage(m.store.Path()); err == nil && total > 0 {
		if float64(free)/float64(total) < 0.05 {
			health.Issues = append(health.Issues, "less than 5% disk space left on database volume")
		}
	}

	health.Healthy = len(health.Issues) == 0
	return health, nil
}

func diskUsage(path string) (free, total uint64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	blockSize := uint64(stat.Bsize)
	return stat.Bavail * blockSize, stat.Blocks * blockSize, nil
}
