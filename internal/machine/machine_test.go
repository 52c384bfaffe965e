package machine

import (
	"errors"
	"testing"
	"time"

	"stereowatch/internal/store"
)

var testParams = Params{
	SizePoll:         5 * time.Second,
	StableWait:       10 * time.Second,
	IntegrityTimeout: 300 * time.Second,
	BackoffStep:      30 * time.Second,
	BackoffMax:       600 * time.Second,
	MaxAttempts:      5,
}

func baseEntry() *store.FileEntry {
	return &store.FileEntry{
		Path:        "/m/a.mkv",
		GroupID:     "g/a",
		Role:        store.RoleOriginal,
		Integrity:   store.IntegrityUnknown,
		Processed:   store.ProcessedNew,
		NextCheckAt: 0,
	}
}

func TestSizeSampledChangeResetsEverything(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.SizeBytes = 500
	entry.Integrity = store.IntegrityIncomplete
	entry.IntegrityAttempts = 3
	entry.BackoffSec = 120
	entry.LastError = "boom"
	stable := int64(900)
	entry.StableSince = &stable

	decision, err := m.Step(entry, SizeSampled{Size: 800, ModTime: 990}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := decision.Entry
	if got.SizeBytes != 800 || got.ModTime != 990 {
		t.Errorf("size not recorded: %+v", got)
	}
	if got.StableSince != nil {
		t.Error("stable_since not cleared on change")
	}
	if got.Integrity != store.IntegrityUnknown || got.Processed != store.ProcessedNew {
		t.Errorf("statuses not reset: %s/%s", got.Integrity, got.Processed)
	}
	if got.IntegrityAttempts != 0 || got.BackoffSec != 0 || got.LastError != "" {
		t.Errorf("counters not reset: %+v", got)
	}
	if got.NextCheckAt != now.Unix()+5 {
		t.Errorf("NextCheckAt = %d, want now+size_poll", got.NextCheckAt)
	}
}

func TestSizeSampledUnchangedStartsStabilityWindow(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.SizeBytes = 800
	entry.ModTime = 990

	decision, err := m.Step(entry, SizeSampled{Size: 800, ModTime: 990}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := decision.Entry
	if got.StableSince == nil || *got.StableSince != now.Unix() {
		t.Fatalf("stable_since = %v, want %d", got.StableSince, now.Unix())
	}
	if got.NextCheckAt != now.Unix()+10 {
		t.Errorf("NextCheckAt = %d, want now+stable_wait", got.NextCheckAt)
	}
}

func TestStableElapsedMarksPendingAndCountsAttempt(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	decision, err := m.Step(entry, StableElapsed{Mode: store.ModeQuick}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := decision.Entry
	if got.Integrity != store.IntegrityPending {
		t.Errorf("integrity = %s", got.Integrity)
	}
	if got.IntegrityAttempts != 1 {
		t.Errorf("attempts = %d", got.IntegrityAttempts)
	}
	if got.NextCheckAt != now.Unix()+300 {
		t.Errorf("NextCheckAt = %d, want now+integrity_timeout", got.NextCheckAt)
	}
}

func TestIntegrityCompleteSchedulesProbe(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityPending
	entry.IntegrityAttempts = 2
	entry.BackoffSec = 60

	score := 1.0
	decision, err := m.Step(entry, IntegrityVerdict{Outcome: IntegrityOutcomeComplete, Score: &score}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := decision.Entry
	if got.Integrity != store.IntegrityComplete {
		t.Errorf("integrity = %s", got.Integrity)
	}
	if got.BackoffSec != 0 || got.IntegrityAttempts != 0 {
		t.Errorf("success did not reset counters: %+v", got)
	}
	if got.NextCheckAt != now.Unix() {
		t.Errorf("NextCheckAt = %d, want now", got.NextCheckAt)
	}
	if got.IntegrityScore == nil || *got.IntegrityScore != 1.0 {
		t.Errorf("score lost: %v", got.IntegrityScore)
	}
}

func TestIntegrityFailureBackoffMonotonicity(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)
	entry := baseEntry()

	wantGaps := []int64{30, 60, 120, 240}
	for i, want := range wantGaps {
		pending, err := m.Step(entry, StableElapsed{Mode: store.ModeQuick}, now)
		if err != nil {
			t.Fatalf("StableElapsed %d: %v", i, err)
		}
		decision, err := m.Step(&pending.Entry, IntegrityVerdict{Outcome: IntegrityOutcomeIncomplete}, now)
		if err != nil {
			t.Fatalf("verdict %d: %v", i, err)
		}
		gap := decision.Entry.NextCheckAt - now.Unix()
		if gap != want {
			t.Errorf("failure %d: gap = %d, want %d", i+1, gap, want)
		}
		next := decision.Entry
		entry = &next
	}

	// A size change resets the backoff to its floor.
	decision, err := m.Step(entry, SizeSampled{Size: entry.SizeBytes + 1, ModTime: entry.ModTime}, now)
	if err != nil {
		t.Fatalf("SizeSampled: %v", err)
	}
	if decision.Entry.BackoffSec != 0 {
		t.Errorf("backoff not reset on size change: %d", decision.Entry.BackoffSec)
	}
}

func TestIntegrityRetryAfterOverridesBackoff(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityPending
	entry.IntegrityAttempts = 1

	decision, err := m.Step(entry, IntegrityVerdict{Outcome: IntegrityOutcomeError, RetryAfter: 45}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if decision.Entry.NextCheckAt != now.Unix()+45 {
		t.Errorf("NextCheckAt = %d, want now+45", decision.Entry.NextCheckAt)
	}
}

func TestIntegrityAttemptCapQuarantines(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityPending
	entry.IntegrityAttempts = testParams.MaxAttempts

	decision, err := m.Step(entry, IntegrityVerdict{Outcome: IntegrityOutcomeError, Detail: "decoder crash"}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	got := decision.Entry
	if got.Integrity != store.IntegrityQuarantined {
		t.Errorf("integrity = %s, want QUARANTINED", got.Integrity)
	}
	if got.Processed != store.ProcessedIgnored {
		t.Errorf("processed = %s, want IGNORED", got.Processed)
	}
	if !decision.Terminal || got.NextCheckAt != store.NeverTimestamp {
		t.Error("cap did not park the record")
	}
}

func TestAudioProbeOutcomes(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	tests := []struct {
		name          string
		event         AudioProbeVerdict
		wantProcessed store.ProcessedStatus
		wantTerminal  bool
	}{
		{"has stereo", AudioProbeVerdict{HasStereo: true, HasSurround: true}, store.ProcessedSkippedHasEN2, true},
		{"needs convert", AudioProbeVerdict{HasSurround: true}, store.ProcessedGroupPendingPair, false},
		{"nothing usable", AudioProbeVerdict{}, store.ProcessedIgnored, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entry := baseEntry()
			entry.Integrity = store.IntegrityComplete

			decision, err := m.Step(entry, tc.event, now)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			if decision.Entry.Processed != tc.wantProcessed {
				t.Errorf("processed = %s, want %s", decision.Entry.Processed, tc.wantProcessed)
			}
			if decision.Terminal != tc.wantTerminal {
				t.Errorf("terminal = %v, want %v", decision.Terminal, tc.wantTerminal)
			}
			if !decision.UpdateGroup {
				t.Error("probe verdicts must refresh the group")
			}
			if decision.Entry.HasEN2 == nil {
				t.Error("has_en2 not recorded")
			}
		})
	}
}

func TestConversionConvertedRegistersCompanion(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityComplete
	entry.Processed = store.ProcessedGroupPendingPair

	decision, err := m.Step(entry, ConversionVerdict{
		Outcome:       ConversionConverted,
		CompanionPath: "/m/a.stereo.mkv",
	}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if decision.Entry.Processed != store.ProcessedConverted {
		t.Errorf("processed = %s", decision.Entry.Processed)
	}
	if decision.CompanionPath != "/m/a.stereo.mkv" {
		t.Errorf("companion = %q", decision.CompanionPath)
	}
	if !decision.UpdateGroup {
		t.Error("conversion must refresh the group")
	}
}

func TestConversionFailureExhaustionIsTerminal(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityComplete
	entry.Processed = store.ProcessedGroupPendingPair
	entry.BackoffSec = int(testParams.BackoffMax / time.Second)

	decision, err := m.Step(entry, ConversionVerdict{Outcome: ConversionFailed, Detail: "encoder exploded"}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if decision.Entry.Processed != store.ProcessedConvertFailed {
		t.Errorf("processed = %s", decision.Entry.Processed)
	}
	if !decision.Terminal || decision.Entry.NextCheckAt != store.NeverTimestamp {
		t.Error("exhausted conversion retries must park the record")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.Integrity = store.IntegrityComplete
	entry.Processed = store.ProcessedGroupProcessed

	_, err := m.Step(entry, ConversionVerdict{Outcome: ConversionConverted, CompanionPath: "/x"}, now)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestDiscoveredSchedulesImmediateCheck(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	entry.NextCheckAt = 99999

	decision, err := m.Step(entry, Discovered{}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if decision.Entry.NextCheckAt != now.Unix() {
		t.Errorf("NextCheckAt = %d, want now", decision.Entry.NextCheckAt)
	}
}

func TestGroupMemberUpdatedOnlyRequestsRecompute(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	entry := baseEntry()
	decision, err := m.Step(entry, GroupMemberUpdated{}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !decision.UpdateGroup {
		t.Error("UpdateGroup not set")
	}
	if decision.Entry != *entry {
		t.Error("entry mutated by a group-only event")
	}
}

func TestFileMissingParksEntry(t *testing.T) {
	m := New(testParams)
	now := time.Unix(1000, 0)

	decision, err := m.Step(baseEntry(), FileMissing{}, now)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if decision.Entry.Processed != store.ProcessedIgnored {
		t.Errorf("processed = %s, want IGNORED", decision.Entry.Processed)
	}
	if !decision.Terminal {
		t.Error("missing file must be terminal")
	}
}
