package planner

import (
	"context"
	"testing"
	"time"

	"stereowatch/internal/clock"
	"stereowatch/internal/fileutil"
	"stereowatch/internal/logging"
	"stereowatch/internal/media/integrity"
	"stereowatch/internal/metrics"
	"stereowatch/internal/store"
	"stereowatch/internal/testsupport"
)

type fixture struct {
	planner   *Planner
	store     *store.Store
	clk       *clock.Fake
	integrity *testsupport.StubIntegrity
	probe     *testsupport.StubProbe
	converter *testsupport.StubConverter
	metrics   *metrics.Metrics
	dir       string
}

func newFixture(t *testing.T, deleteOriginal bool) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	clk := clock.NewFake(time.Now())

	stubIntegrity := testsupport.NewStubIntegrity()
	stubProbe := testsupport.NewStubProbe()
	stubConverter := testsupport.NewStubConverter()

	m := metrics.New()
	p := New(st, Adapters{
		Integrity: stubIntegrity,
		Probe:     stubProbe,
		Converter: stubConverter,
	}, clk, m, logging.NewNop(), Params{
		BatchSize:      10,
		Parallelism:    2,
		MinSleep:       time.Second,
		LeaseTTL:       10 * time.Minute,
		SizePoll:       5 * time.Second,
		StableWait:     10 * time.Second,
		QuickMode:      true,
		IntegrityLimit: 5 * time.Minute,
		ProbeLimit:     30 * time.Second,
		ConvertLimit:   time.Minute,
		BackoffStep:    30 * time.Second,
		BackoffMax:     600 * time.Second,
		MaxAttempts:    5,
		DeleteOriginal: deleteOriginal,
		Languages:      []string{"en"},
	})

	return &fixture{
		planner:   p,
		store:     st,
		clk:       clk,
		integrity: stubIntegrity,
		probe:     stubProbe,
		converter: stubConverter,
		metrics:   m,
		dir:       testsupport.BaseDir(cfg),
	}
}

func (f *fixture) discover(t *testing.T, path string) {
	t.Helper()
	groupID, isStereo := fileutil.GroupID(path)
	role := store.RoleOriginal
	if isStereo {
		role = store.RoleStereoCompanion
	}
	entry := &store.FileEntry{
		Path:        path,
		GroupID:     groupID,
		Role:        role,
		Integrity:   store.IntegrityUnknown,
		Processed:   store.ProcessedNew,
		NextCheckAt: f.clk.Now().Unix(),
	}
	if _, err := f.store.Upsert(context.Background(), entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func (f *fixture) tick(t *testing.T) TickResult {
	t.Helper()
	result, err := f.planner.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return result
}

func (f *fixture) entry(t *testing.T, path string) *store.FileEntry {
	t.Helper()
	entry, err := f.store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil {
		t.Fatalf("entry %q missing", path)
	}
	return entry
}

// runUntilStable walks a fresh file through size sampling and the stability
// window so the next tick dispatches integrity.
func (f *fixture) runUntilStable(t *testing.T) {
	t.Helper()
	f.tick(t) // first size sample
	f.clk.Advance(5 * time.Second)
	f.tick(t) // unchanged: stability window starts
	f.clk.Advance(10 * time.Second)
}

func TestStableFileWithStereoTrackIsSkipped(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "a.mkv", 1000)
	f.probe.SetTracks(path, testsupport.EnglishStereoTrack(), testsupport.EnglishSurroundTrack())
	f.discover(t, path)

	f.runUntilStable(t)
	f.tick(t) // integrity
	f.tick(t) // audio probe

	entry := f.entry(t, path)
	if entry.Integrity != store.IntegrityComplete {
		t.Errorf("integrity = %s", entry.Integrity)
	}
	if !entry.IsTerminal() {
		t.Error("entry not terminal")
	}
	if entry.HasEN2 == nil || !*entry.HasEN2 {
		t.Error("has_en2 not recorded")
	}
	if calls := f.integrity.Calls(path); calls != 1 {
		t.Errorf("integrity invoked %d times, want 1", calls)
	}

	group, err := f.store.GetGroup(context.Background(), entry.GroupID)
	if err != nil || group == nil {
		t.Fatalf("group: %v %v", group, err)
	}
	if group.State != store.GroupProcessed {
		t.Errorf("group state = %s", group.State)
	}
}

func TestNoSpinWhenNothingDue(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "a.mkv", 1000)
	f.probe.SetTracks(path, testsupport.EnglishStereoTrack())
	f.discover(t, path)

	f.runUntilStable(t)
	f.tick(t)
	f.tick(t)

	before := f.metrics.CounterValue("stereowatch_handler_outcomes_total", nil)
	for i := 0; i < 5; i++ {
		result := f.tick(t)
		if result.Picked != 0 {
			t.Fatalf("picked %d entries while nothing was due", result.Picked)
		}
	}
	after := f.metrics.CounterValue("stereowatch_handler_outcomes_total", nil)
	if after != before {
		t.Errorf("handlers ran with nothing due: %v -> %v", before, after)
	}
}

func TestIntegrityWaitsForStability(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "b.mkv", 1000)
	f.probe.SetTracks(path, testsupport.EnglishStereoTrack())
	f.discover(t, path)

	f.tick(t) // records size 1000

	// The file grows: stability restarts.
	testsupport.GrowFile(t, path, 500)
	f.clk.Advance(5 * time.Second)
	f.tick(t)
	if calls := f.integrity.Calls(path); calls != 0 {
		t.Fatalf("integrity ran on a growing file")
	}

	f.clk.Advance(5 * time.Second)
	f.tick(t) // unchanged: stability window starts

	// Half the window is not enough.
	f.clk.Advance(5 * time.Second)
	f.tick(t)
	if calls := f.integrity.Calls(path); calls != 0 {
		t.Fatalf("integrity ran before the stability window elapsed")
	}

	f.clk.Advance(5 * time.Second)
	f.tick(t)
	if calls := f.integrity.Calls(path); calls != 1 {
		t.Errorf("integrity calls = %d, want 1", calls)
	}
}

func TestIncompleteVerdictsBackOffExponentially(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "c.mkv", 1000)
	f.integrity.Script(path,
		integrity.Result{Outcome: integrity.OutcomeIncomplete, Detail: "truncated"},
		integrity.Result{Outcome: integrity.OutcomeIncomplete, Detail: "truncated"},
		integrity.Result{Outcome: integrity.OutcomeIncomplete, Detail: "truncated"},
	)
	f.discover(t, path)
	f.runUntilStable(t)

	wantGaps := []int64{30, 60, 120}
	for i, want := range wantGaps {
		f.tick(t)
		entry := f.entry(t, path)
		gap := entry.NextCheckAt - f.clk.Now().Unix()
		if gap < want {
			t.Errorf("failure %d: gap = %d, want >= %d", i+1, gap, want)
		}
		if entry.Integrity != store.IntegrityIncomplete {
			t.Errorf("failure %d: integrity = %s", i+1, entry.Integrity)
		}
		f.clk.Advance(time.Duration(gap) * time.Second)
	}

	// A size change resets the backoff.
	testsupport.GrowFile(t, path, 100)
	f.tick(t)
	entry := f.entry(t, path)
	if entry.BackoffSec != 0 {
		t.Errorf("backoff not reset after size change: %d", entry.BackoffSec)
	}
}

func TestExpiredLeaseIsReclaimedAfterCrash(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "e.mkv", 1000)
	f.probe.SetTracks(path, testsupport.EnglishStereoTrack())
	f.discover(t, path)

	// Another process picked the row and died mid-handler.
	picked, err := f.store.PickDue(context.Background(), f.clk.Now(), 1, "crashed-instance", time.Minute)
	if err != nil || len(picked) != 1 {
		t.Fatalf("PickDue: %v (%d)", err, len(picked))
	}

	result := f.tick(t)
	if result.Picked != 0 {
		t.Fatal("row picked while a live lease existed")
	}

	f.clk.Advance(2 * time.Minute)
	result = f.tick(t)
	if result.Picked != 1 {
		t.Fatal("expired lease not reclaimed")
	}

	// Exactly one record for the path exists.
	entries, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("duplicate records after reclaim: %d", len(entries))
	}
}

func TestConversionProducesTrackedCompanion(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "f.mkv", 1000)
	companion := fileutil.CompanionPath(path)
	f.probe.SetTracks(path, testsupport.EnglishSurroundTrack())
	f.probe.SetTracks(companion, testsupport.EnglishStereoTrack())
	f.discover(t, path)

	f.runUntilStable(t)
	f.tick(t) // integrity
	f.tick(t) // probe: needs conversion

	entry := f.entry(t, path)
	if entry.Processed != store.ProcessedGroupPendingPair {
		t.Fatalf("processed = %s, want GROUP_PENDING_PAIR", entry.Processed)
	}

	f.tick(t) // convert

	entry = f.entry(t, path)
	if entry.Processed != store.ProcessedConverted {
		t.Fatalf("processed = %s, want CONVERTED", entry.Processed)
	}

	companionEntry := f.entry(t, companion)
	if companionEntry.Role != store.RoleStereoCompanion {
		t.Errorf("companion role = %s", companionEntry.Role)
	}
	if companionEntry.GroupID != entry.GroupID {
		t.Errorf("companion group = %q, want %q", companionEntry.GroupID, entry.GroupID)
	}

	// The group stays open until the companion clears its own pipeline.
	group, err := f.store.GetGroup(context.Background(), entry.GroupID)
	if err != nil || group == nil {
		t.Fatalf("group: %v %v", group, err)
	}
	if group.State == store.GroupProcessed {
		t.Fatal("group finalized before companion settled")
	}

	// Walk the companion through sampling, stability, integrity, and probe.
	f.tick(t)
	f.clk.Advance(5 * time.Second)
	f.tick(t)
	f.clk.Advance(10 * time.Second)
	f.tick(t) // companion integrity
	f.tick(t) // companion probe: it is the stereo copy

	group, err = f.store.GetGroup(context.Background(), entry.GroupID)
	if err != nil || group == nil {
		t.Fatalf("group after companion: %v %v", group, err)
	}
	if group.State != store.GroupProcessed {
		t.Errorf("group state = %s, want PROCESSED", group.State)
	}

	for _, p := range []string{path, companion} {
		got := f.entry(t, p)
		if got.Processed != store.ProcessedGroupProcessed || !got.IsTerminal() {
			t.Errorf("%s: processed = %s terminal=%v", p, got.Processed, got.IsTerminal())
		}
	}
}

func TestConversionFailureRetriesWithBackoff(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.WriteVideoFile(t, f.dir, "g.mkv", 1000)
	f.probe.SetTracks(path, testsupport.EnglishSurroundTrack())
	f.converter.FailuresBeforeSuccess = 1
	f.discover(t, path)

	f.runUntilStable(t)
	f.tick(t) // integrity
	f.tick(t) // probe
	f.tick(t) // convert: scripted failure

	entry := f.entry(t, path)
	if entry.Processed != store.ProcessedConvertFailed {
		t.Fatalf("processed = %s, want CONVERT_FAILED", entry.Processed)
	}
	gap := entry.NextCheckAt - f.clk.Now().Unix()
	if gap < 30 {
		t.Errorf("retry gap = %d, want >= backoff step", gap)
	}

	f.clk.Advance(time.Duration(gap) * time.Second)
	f.tick(t) // convert retry succeeds

	entry = f.entry(t, path)
	if entry.Processed != store.ProcessedConverted {
		t.Errorf("processed = %s after retry", entry.Processed)
	}
	if f.converter.Calls(path) != 2 {
		t.Errorf("converter calls = %d, want 2", f.converter.Calls(path))
	}
}

func TestMissingFileIsIgnoredWithoutIntegrityCheck(t *testing.T) {
	f := newFixture(t, false)
	path := testsupport.BaseDir(testsupport.NewConfig(t)) + "/gone.mkv.part"
	f.discover(t, path)

	f.tick(t)

	entry := f.entry(t, path)
	if entry.Processed != store.ProcessedIgnored || !entry.IsTerminal() {
		t.Errorf("missing file: processed = %s terminal=%v", entry.Processed, entry.IsTerminal())
	}
	if f.integrity.Calls(path) != 0 {
		t.Error("integrity ran for a missing file")
	}
}
