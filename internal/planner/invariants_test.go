package planner

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"stereowatch/internal/media/integrity"
	"stereowatch/internal/store"
	"stereowatch/internal/testsupport"
)

// stabilityGuard wraps the integrity stub and fails the test if a check ever
// runs against a record whose stability window has not elapsed.
type stabilityGuard struct {
	t     *testing.T
	f     *fixture
	inner IntegrityChecker
	wait  int64
}

func (g *stabilityGuard) Check(ctx context.Context, path string, mode store.IntegrityMode) (integrity.Result, error) {
	entry, err := g.f.store.Get(context.Background(), path)
	if err != nil {
		g.t.Errorf("guard read: %v", err)
	}
	now := g.f.clk.Now().Unix()
	if entry == nil || entry.StableSince == nil {
		g.t.Errorf("integrity invoked with no stability record for %s", path)
	} else if now-*entry.StableSince < g.wait {
		g.t.Errorf("integrity invoked %ds into a %ds stability window", now-*entry.StableSince, g.wait)
	}
	return g.inner.Check(ctx, path, mode)
}

// A randomized trace of growth, time advances, and ticks never violates the
// stability gate, never leaves a lease behind, and never duplicates records.
func TestRandomizedTraceHoldsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 5; run++ {
		f := newFixture(t, false)
		f.planner.adapters.Integrity = &stabilityGuard{
			t:     t,
			f:     f,
			inner: f.integrity,
			wait:  10,
		}

		path := testsupport.WriteVideoFile(t, f.dir, "trace.mkv", 1024)
		f.probe.SetTracks(path, testsupport.EnglishStereoTrack())
		if rng.Intn(2) == 0 {
			f.integrity.Script(path, integrity.Result{Outcome: integrity.OutcomeIncomplete, Detail: "mid-download"})
		}
		f.discover(t, path)

		for step := 0; step < 60; step++ {
			switch rng.Intn(5) {
			case 0:
				testsupport.GrowFile(t, path, int64(rng.Intn(512)+1))
			case 1:
				f.clk.Advance(time.Duration(rng.Intn(30)+1) * time.Second)
			default:
				f.tick(t)
			}

			entries, err := f.store.List(context.Background())
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			seen := make(map[string]bool, len(entries))
			for _, entry := range entries {
				if seen[entry.Path] {
					t.Fatalf("duplicate record for %s", entry.Path)
				}
				seen[entry.Path] = true
				if entry.LeaseOwner != "" {
					t.Fatalf("lease left behind on %s after tick", entry.Path)
				}
			}
		}
	}
}
