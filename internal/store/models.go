package store

import (
	"strings"
	"time"
)

// IntegrityStatus tracks the decode-verification axis of a file.
type IntegrityStatus string

const (
	IntegrityUnknown     IntegrityStatus = "UNKNOWN"
	IntegrityPending     IntegrityStatus = "PENDING"
	IntegrityComplete    IntegrityStatus = "COMPLETE"
	IntegrityIncomplete  IntegrityStatus = "INCOMPLETE"
	IntegrityError       IntegrityStatus = "ERROR"
	IntegrityQuarantined IntegrityStatus = "QUARANTINED"
)

var integrityTransitions = map[IntegrityStatus][]IntegrityStatus{
	IntegrityUnknown:     {IntegrityPending, IntegrityError, IntegrityQuarantined},
	IntegrityPending:     {IntegrityComplete, IntegrityIncomplete, IntegrityError, IntegrityQuarantined},
	IntegrityComplete:    {IntegrityPending, IntegrityError},
	IntegrityIncomplete:  {IntegrityPending, IntegrityError, IntegrityQuarantined},
	IntegrityError:       {IntegrityPending, IntegrityUnknown, IntegrityQuarantined},
	IntegrityQuarantined: nil,
}

// CanTransitionTo reports whether the integrity axis may move to target.
// Self-transitions are always allowed.
func (s IntegrityStatus) CanTransitionTo(target IntegrityStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range integrityTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ProcessedStatus tracks the conversion-pipeline axis of a file.
type ProcessedStatus string

const (
	ProcessedNew              ProcessedStatus = "NEW"
	ProcessedSkippedHasEN2    ProcessedStatus = "SKIPPED_HAS_EN2"
	ProcessedConverted        ProcessedStatus = "CONVERTED"
	ProcessedConvertFailed    ProcessedStatus = "CONVERT_FAILED"
	ProcessedGroupPendingPair ProcessedStatus = "GROUP_PENDING_PAIR"
	ProcessedGroupProcessed   ProcessedStatus = "GROUP_PROCESSED"
	ProcessedIgnored          ProcessedStatus = "IGNORED"
	ProcessedDuplicate        ProcessedStatus = "DUPLICATE"
)

var processedTransitions = map[ProcessedStatus][]ProcessedStatus{
	ProcessedNew: {
		ProcessedSkippedHasEN2, ProcessedConverted, ProcessedConvertFailed,
		ProcessedGroupPendingPair, ProcessedIgnored, ProcessedDuplicate,
	},
	ProcessedSkippedHasEN2:    {ProcessedGroupProcessed},
	ProcessedConverted:        {ProcessedGroupProcessed},
	ProcessedConvertFailed:    {ProcessedNew, ProcessedSkippedHasEN2, ProcessedConverted, ProcessedGroupPendingPair, ProcessedIgnored},
	ProcessedGroupPendingPair: {ProcessedConverted, ProcessedConvertFailed, ProcessedGroupProcessed, ProcessedIgnored, ProcessedNew},
	ProcessedGroupProcessed:   nil,
	ProcessedIgnored:          nil,
	ProcessedDuplicate:        nil,
}

// CanTransitionTo reports whether the processing axis may move to target.
func (s ProcessedStatus) CanTransitionTo(target ProcessedStatus) bool {
	if s == target {
		return true
	}
	for _, allowed := range processedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processing transitions occur.
func (s ProcessedStatus) IsTerminal() bool {
	switch s {
	case ProcessedSkippedHasEN2, ProcessedGroupProcessed, ProcessedIgnored, ProcessedDuplicate:
		return true
	}
	return false
}

// Role distinguishes the two members of a conversion group.
type Role string

const (
	RoleOriginal        Role = "original"
	RoleStereoCompanion Role = "stereo_companion"
)

// GroupState tracks group-level completion.
type GroupState string

const (
	GroupForming         GroupState = "FORMING"
	GroupPendingPair     GroupState = "PENDING_PAIR"
	GroupReadyToFinalize GroupState = "READY_TO_FINALIZE"
	GroupProcessed       GroupState = "PROCESSED"
	GroupFailed          GroupState = "FAILED"
)

// IntegrityMode selects the probe depth passed through to the adapter.
type IntegrityMode string

const (
	ModeQuick IntegrityMode = "QUICK"
	ModeFull  IntegrityMode = "FULL"
)

// NeverTimestamp is the far-future sentinel (year 3000) assigned to terminal
// records so the next_check_at index predicate excludes them from due queries.
const NeverTimestamp int64 = 32503680000

// FileEntry is one tracked file on disk.
type FileEntry struct {
	Path    string
	GroupID string
	Role    Role

	SizeBytes      int64
	ModTime        int64
	SizeObservedAt int64
	StableSince    *int64

	Integrity         IntegrityStatus
	IntegrityScore    *float64
	IntegrityMode     IntegrityMode
	IntegrityAttempts int

	Processed ProcessedStatus
	HasEN2    *bool

	NextCheckAt int64
	BackoffSec  int

	LeaseOwner    string
	LeaseDeadline int64

	DiscoveredAt int64
	UpdatedAt    int64
	LastError    string
}

// IsDue reports whether the entry should be picked at now.
func (e *FileEntry) IsDue(now time.Time) bool {
	return e.NextCheckAt <= now.Unix()
}

// IsStable reports whether the size has held for at least stableWait.
func (e *FileEntry) IsStable(now time.Time, stableWait time.Duration) bool {
	if e.StableSince == nil {
		return false
	}
	return now.Unix()-*e.StableSince >= int64(stableWait/time.Second)
}

// IsTerminal reports whether the entry left the scheduler for good.
func (e *FileEntry) IsTerminal() bool {
	return e.NextCheckAt >= NeverTimestamp
}

// GroupEntry is the logical pair {original, stereo companion}.
type GroupEntry struct {
	GroupID        string
	OriginalPath   string
	CompanionPath  string
	State          GroupState
	DeleteOriginal bool
	CreatedAt      int64
	FinishedAt     *int64
}

// IsComplete applies the policy completion rule on member paths alone: with
// delete_original a recorded companion suffices, otherwise both members must
// be present. Member statuses are not consulted.
func (g *GroupEntry) IsComplete() bool {
	if g.DeleteOriginal {
		return g.CompanionPath != ""
	}
	return g.OriginalPath != "" && g.CompanionPath != ""
}

// ParseProcessedStatus converts a string into a known ProcessedStatus.
func ParseProcessedStatus(value string) (ProcessedStatus, bool) {
	normalized := ProcessedStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := processedTransitions[normalized]; ok {
		return normalized, true
	}
	return "", false
}

// ParseIntegrityStatus converts a string into a known IntegrityStatus.
func ParseIntegrityStatus(value string) (IntegrityStatus, bool) {
	normalized := IntegrityStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := integrityTransitions[normalized]; ok {
		return normalized, true
	}
	return "", false
}
