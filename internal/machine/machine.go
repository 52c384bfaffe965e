package machine

import (
	"errors"
	"fmt"
	"time"

	"stereowatch/internal/store"
)

// ErrIllegalTransition marks a decision the planner must not persist.
var ErrIllegalTransition = errors.New("illegal state transition")

// Params are the scheduling knobs the transition function needs.
type Params struct {
	SizePoll         time.Duration
	StableWait       time.Duration
	IntegrityTimeout time.Duration
	BackoffStep      time.Duration
	BackoffMax       time.Duration
	MaxAttempts      int
}

// Decision is the outcome of one Step: the updated entry to persist plus the
// side effects the planner owes.
type Decision struct {
	Entry store.FileEntry
	// UpdateGroup requests a group recomputation after the entry write.
	UpdateGroup bool
	// CompanionPath, when set, asks the planner to upsert a new stereo
	// companion entry in the same group.
	CompanionPath string
	// Terminal reports that the entry was parked with the never sentinel.
	Terminal bool
}

// Machine is the pure transition function.
type Machine struct {
	params Params
}

// New constructs a Machine with the given parameters.
func New(params Params) *Machine {
	return &Machine{params: params}
}

// Step applies one event to an entry. The input entry is not mutated.
func (m *Machine) Step(entry *store.FileEntry, event Event, now time.Time) (Decision, error) {
	if entry == nil {
		return Decision{}, errors.New("entry is nil")
	}
	next := *entry
	nowUnix := now.UTC().Unix()

	switch ev := event.(type) {
	case Discovered:
		next.NextCheckAt = nowUnix
		return Decision{Entry: next}, nil

	case SizeSampled:
		return m.stepSizeSampled(next, ev, nowUnix)

	case FileMissing:
		return m.park(next, store.ProcessedIgnored, "file no longer exists", true)

	case StableElapsed:
		return m.stepStableElapsed(next, ev, nowUnix)

	case IntegrityVerdict:
		return m.stepIntegrityVerdict(next, ev, nowUnix)

	case AudioProbeVerdict:
		return m.stepAudioProbe(next, ev, nowUnix)

	case ConversionVerdict:
		return m.stepConversion(next, ev, nowUnix)

	case GroupMemberUpdated:
		return Decision{Entry: next, UpdateGroup: true}, nil

	default:
		return Decision{}, fmt.Errorf("unknown event %q", event.eventName())
	}
}

func (m *Machine) stepSizeSampled(next store.FileEntry, ev SizeSampled, nowUnix int64) (Decision, error) {
	if next.SizeBytes != ev.Size || next.ModTime != ev.ModTime {
		// The file changed on disk: every verdict so far is stale, so the
		// whole record restarts from the beginning.
		next.SizeBytes = ev.Size
		next.ModTime = ev.ModTime
		next.SizeObservedAt = nowUnix
		next.StableSince = nil
		next.Integrity = store.IntegrityUnknown
		next.IntegrityScore = nil
		next.IntegrityMode = ""
		next.IntegrityAttempts = 0
		next.Processed = store.ProcessedNew
		next.HasEN2 = nil
		next.BackoffSec = 0
		next.LastError = ""
		next.NextCheckAt = nowUnix + int64(m.params.SizePoll/time.Second)
		return Decision{Entry: next}, nil
	}

	next.SizeObservedAt = nowUnix
	if next.StableSince == nil {
		stableSince := nowUnix
		next.StableSince = &stableSince
		next.NextCheckAt = nowUnix + int64(m.params.StableWait/time.Second)
		return Decision{Entry: next}, nil
	}

	// Size unchanged and already tracked as stable: wait out the remainder of
	// the window if any is left.
	remaining := *next.StableSince + int64(m.params.StableWait/time.Second) - nowUnix
	if remaining > 0 {
		next.NextCheckAt = nowUnix + remaining
	} else {
		next.NextCheckAt = nowUnix
	}
	return Decision{Entry: next}, nil
}

func (m *Machine) stepStableElapsed(next store.FileEntry, ev StableElapsed, nowUnix int64) (Decision, error) {
	if !next.Integrity.CanTransitionTo(store.IntegrityPending) {
		return Decision{}, fmt.Errorf("%w: integrity %s -> %s", ErrIllegalTransition, next.Integrity, store.IntegrityPending)
	}
	next.Integrity = store.IntegrityPending
	next.IntegrityMode = ev.Mode
	next.IntegrityAttempts++
	// Schedule the in-flight timeout: if the check never reports back, the
	// record becomes due again once the adapter deadline has passed.
	next.NextCheckAt = nowUnix + int64(m.params.IntegrityTimeout/time.Second)
	return Decision{Entry: next}, nil
}

func (m *Machine) stepIntegrityVerdict(next store.FileEntry, ev IntegrityVerdict, nowUnix int64) (Decision, error) {
	target := map[IntegrityOutcome]store.IntegrityStatus{
		IntegrityOutcomeComplete:   store.IntegrityComplete,
		IntegrityOutcomeIncomplete: store.IntegrityIncomplete,
		IntegrityOutcomeError:      store.IntegrityError,
	}[ev.Outcome]
	if target == "" {
		return Decision{}, fmt.Errorf("unknown integrity outcome %q", ev.Outcome)
	}
	if !next.Integrity.CanTransitionTo(target) {
		return Decision{}, fmt.Errorf("%w: integrity %s -> %s", ErrIllegalTransition, next.Integrity, target)
	}

	next.Integrity = target
	next.IntegrityScore = ev.Score

	if target == store.IntegrityComplete {
		next.IntegrityAttempts = 0
		next.BackoffSec = 0
		next.LastError = ""
		next.NextCheckAt = nowUnix // audio probe next
		return Decision{Entry: next}, nil
	}

	next.LastError = ev.Detail
	if next.LastError == "" {
		next.LastError = fmt.Sprintf("integrity verdict: %s", target)
	}

	if m.params.MaxAttempts > 0 && next.IntegrityAttempts >= m.params.MaxAttempts {
		if !next.Integrity.CanTransitionTo(store.IntegrityQuarantined) {
			return Decision{}, fmt.Errorf("%w: integrity %s -> %s", ErrIllegalTransition, next.Integrity, store.IntegrityQuarantined)
		}
		next.Integrity = store.IntegrityQuarantined
		return m.park(next, store.ProcessedIgnored,
			fmt.Sprintf("integrity gave up after %d attempts", next.IntegrityAttempts), true)
	}

	if ev.RetryAfter > 0 {
		next.NextCheckAt = nowUnix + ev.RetryAfter
	} else {
		delay := nextBackoff(time.Duration(next.BackoffSec)*time.Second, m.params.BackoffStep, m.params.BackoffMax)
		next.BackoffSec = int(delay / time.Second)
		next.NextCheckAt = nowUnix + int64(next.BackoffSec)
	}
	return Decision{Entry: next}, nil
}

func (m *Machine) stepAudioProbe(next store.FileEntry, ev AudioProbeVerdict, nowUnix int64) (Decision, error) {
	if ev.Err != "" {
		return m.recoverableProcessingFailure(next, ev.Err, nowUnix)
	}

	switch {
	case ev.HasStereo:
		if !next.Processed.CanTransitionTo(store.ProcessedSkippedHasEN2) {
			return Decision{}, fmt.Errorf("%w: processed %s -> %s", ErrIllegalTransition, next.Processed, store.ProcessedSkippedHasEN2)
		}
		hasEN2 := true
		next.HasEN2 = &hasEN2
		next.Processed = store.ProcessedSkippedHasEN2
		next.NextCheckAt = store.NeverTimestamp
		next.LastError = ""
		return Decision{Entry: next, UpdateGroup: true, Terminal: true}, nil

	case ev.HasSurround:
		if !next.Processed.CanTransitionTo(store.ProcessedGroupPendingPair) {
			return Decision{}, fmt.Errorf("%w: processed %s -> %s", ErrIllegalTransition, next.Processed, store.ProcessedGroupPendingPair)
		}
		hasEN2 := false
		next.HasEN2 = &hasEN2
		next.Processed = store.ProcessedGroupPendingPair
		next.BackoffSec = 0
		next.NextCheckAt = nowUnix // conversion next
		return Decision{Entry: next, UpdateGroup: true}, nil

	default:
		hasEN2 := false
		next.HasEN2 = &hasEN2
		return m.park(next, store.ProcessedIgnored, "no convertible source track", true)
	}
}

func (m *Machine) stepConversion(next store.FileEntry, ev ConversionVerdict, nowUnix int64) (Decision, error) {
	switch ev.Outcome {
	case ConversionConverted:
		if !next.Processed.CanTransitionTo(store.ProcessedConverted) {
			return Decision{}, fmt.Errorf("%w: processed %s -> %s", ErrIllegalTransition, next.Processed, store.ProcessedConverted)
		}
		next.Processed = store.ProcessedConverted
		next.BackoffSec = 0
		next.LastError = ""
		// The original is done; the group closes once the companion clears
		// its own pipeline.
		next.NextCheckAt = store.NeverTimestamp
		return Decision{Entry: next, UpdateGroup: true, CompanionPath: ev.CompanionPath}, nil

	case ConversionFailed:
		return m.recoverableProcessingFailure(next, ev.Detail, nowUnix)

	default:
		return Decision{}, fmt.Errorf("unknown conversion outcome %q", ev.Outcome)
	}
}

// recoverableProcessingFailure applies the retry policy shared by probe and
// conversion failures: backoff doubling until the cap, then terminal.
func (m *Machine) recoverableProcessingFailure(next store.FileEntry, detail string, nowUnix int64) (Decision, error) {
	exhausted := time.Duration(next.BackoffSec)*time.Second >= m.params.BackoffMax

	if !next.Processed.CanTransitionTo(store.ProcessedConvertFailed) {
		return Decision{}, fmt.Errorf("%w: processed %s -> %s", ErrIllegalTransition, next.Processed, store.ProcessedConvertFailed)
	}
	next.Processed = store.ProcessedConvertFailed
	next.LastError = detail
	if next.LastError == "" {
		next.LastError = "conversion failed"
	}

	if exhausted {
		next.NextCheckAt = store.NeverTimestamp
		return Decision{Entry: next, UpdateGroup: true, Terminal: true}, nil
	}

	delay := nextBackoff(time.Duration(next.BackoffSec)*time.Second, m.params.BackoffStep, m.params.BackoffMax)
	next.BackoffSec = int(delay / time.Second)
	next.NextCheckAt = nowUnix + int64(next.BackoffSec)
	return Decision{Entry: next, UpdateGroup: true}, nil
}

func (m *Machine) park(next store.FileEntry, processed store.ProcessedStatus, reason string, updateGroup bool) (Decision, error) {
	if !next.Processed.CanTransitionTo(processed) {
		// Already terminal or otherwise unreachable: park in place without
		// rewriting the processed axis.
		next.NextCheckAt = store.NeverTimestamp
		next.LastError = reason
		return Decision{Entry: next, UpdateGroup: updateGroup, Terminal: true}, nil
	}
	next.Processed = processed
	next.NextCheckAt = store.NeverTimestamp
	next.LastError = reason
	return Decision{Entry: next, UpdateGroup: updateGroup, Terminal: true}, nil
}
