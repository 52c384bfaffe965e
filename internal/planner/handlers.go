package planner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"stereowatch/internal/logging"
	"stereowatch/internal/machine"
	"stereowatch/internal/media"
	"stereowatch/internal/media/convert"
	"stereowatch/internal/media/integrity"
	"stereowatch/internal/store"
)

// Handler labels used in metrics and logs.
const (
	handlerSizeSample = "size_sample"
	handlerIntegrity  = "integrity"
	handlerAudioProbe = "audio_probe"
	handlerConvert    = "convert"
	handlerCleanup    = "cleanup"
	handlerIdle       = "idle"
)

// Outcome labels beyond the adapter verdict names.
const (
	outcomeApplied   = "applied"
	outcomeError     = "error"
	outcomeInvariant = "invariant_violation"
)

// handle dispatches one leased entry to the right handler. Each handler makes
// at most one adapter call, runs the machine, and persists the decision.
func (p *Planner) handle(ctx context.Context, entry *store.FileEntry) string {
	start := time.Now()
	handler, outcome := p.dispatch(ctx, entry)
	p.metrics.ObserveHandler(handler, outcome, time.Since(start))
	return handler + ":" + outcome
}

func (p *Planner) dispatch(ctx context.Context, entry *store.FileEntry) (string, string) {
	ctx = logging.WithPath(ctx, entry.Path)
	logger := logging.WithContext(ctx, p.logger)
	now := p.clk.Now()

	info, err := os.Stat(entry.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return handlerCleanup, p.applyEvent(ctx, logger, entry, machine.FileMissing{}, now)
		}
		logger.Warn("stat failed", logging.Error(err))
		return handlerCleanup, p.rescheduleAfter(ctx, entry, p.params.BackoffStep)
	}

	changed := entry.SizeBytes != info.Size() || entry.ModTime != info.ModTime().Unix()
	if changed || entry.StableSince == nil || !entry.IsStable(now, p.params.StableWait) {
		event := machine.SizeSampled{Size: info.Size(), ModTime: info.ModTime().Unix()}
		return handlerSizeSample, p.applyEvent(ctx, logger, entry, event, now)
	}

	switch entry.Integrity {
	case store.IntegrityUnknown, store.IntegrityIncomplete, store.IntegrityError, store.IntegrityPending:
		return handlerIntegrity, p.runIntegrity(ctx, logger, entry, now)
	}

	if entry.Integrity == store.IntegrityComplete {
		if entry.HasEN2 == nil &&
			(entry.Processed == store.ProcessedNew || entry.Processed == store.ProcessedConvertFailed) {
			return handlerAudioProbe, p.runAudioProbe(ctx, logger, entry)
		}
		if entry.Processed == store.ProcessedGroupPendingPair ||
			(entry.Processed == store.ProcessedConvertFailed && entry.HasEN2 != nil && !*entry.HasEN2) {
			return handlerConvert, p.runConvert(ctx, logger, entry)
		}
	}

	// Nothing actionable: recompute the group in case a member write was
	// missed, then stand down for a while.
	if _, err := p.store.RecomputeGroup(ctx, entry.GroupID, p.params.DeleteOriginal); err != nil {
		logger.Warn("group recompute failed", logging.Error(err))
	}
	return handlerIdle, p.rescheduleAfter(ctx, entry, p.params.BackoffMax)
}

func (p *Planner) runIntegrity(ctx context.Context, logger *slog.Logger, entry *store.FileEntry, now time.Time) string {
	mode := store.ModeFull
	if p.params.QuickMode {
		mode = store.ModeQuick
	}

	// Phase one: persist PENDING with the in-flight timeout before touching
	// the adapter, so a crash mid-check leaves a reclaimable record.
	pending, err := p.machine.Step(entry, machine.StableElapsed{Mode: mode}, now)
	if err != nil {
		return p.invariantViolation(ctx, logger, entry, err)
	}
	if err := p.store.Apply(ctx, store.Update{File: &pending.Entry, Owner: p.owner}); err != nil {
		logger.Error("persist pending integrity failed", logging.Error(err))
		return outcomeError
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.params.IntegrityLimit)
	result, checkErr := p.adapters.Integrity.Check(checkCtx, entry.Path, mode)
	cancel()

	verdict := machine.IntegrityVerdict{}
	switch {
	case checkErr != nil:
		verdict.Outcome = machine.IntegrityOutcomeError
		verdict.Detail = checkErr.Error()
	case result.Outcome == integrity.OutcomeComplete:
		verdict.Outcome = machine.IntegrityOutcomeComplete
		verdict.Score = result.Score
	case result.Outcome == integrity.OutcomeIncomplete:
		verdict.Outcome = machine.IntegrityOutcomeIncomplete
		verdict.Score = result.Score
		verdict.Detail = result.Detail
	default:
		verdict.Outcome = machine.IntegrityOutcomeError
		verdict.Detail = result.Detail
	}
	if checkErr == nil && result.RetryAfter > 0 {
		verdict.RetryAfter = int64(result.RetryAfter / time.Second)
	}

	decision, err := p.machine.Step(&pending.Entry, verdict, p.clk.Now())
	if err != nil {
		return p.invariantViolation(ctx, logger, &pending.Entry, err)
	}
	if verdict.Outcome != machine.IntegrityOutcomeComplete {
		p.metrics.BackoffApplied.Inc()
	}
	if err := p.persistDecision(ctx, logger, entry, decision); err != nil {
		return outcomeError
	}
	logger.Info("integrity verdict",
		logging.String("outcome", string(verdict.Outcome)),
		logging.Int("attempts", decision.Entry.IntegrityAttempts),
	)
	return string(verdict.Outcome)
}

func (p *Planner) runAudioProbe(ctx context.Context, logger *slog.Logger, entry *store.FileEntry) string {
	probeCtx, cancel := context.WithTimeout(ctx, p.params.ProbeLimit)
	tracks, err := p.adapters.Probe.Tracks(probeCtx, entry.Path)
	cancel()

	event := machine.AudioProbeVerdict{}
	if err != nil {
		event.Err = err.Error()
		p.metrics.BackoffApplied.Inc()
	} else {
		stereo, surround := media.SelectTracks(tracks, p.languages())
		event.HasStereo = len(stereo) > 0
		event.HasSurround = len(surround) > 0
	}

	decision, stepErr := p.machine.Step(entry, event, p.clk.Now())
	if stepErr != nil {
		return p.invariantViolation(ctx, logger, entry, stepErr)
	}
	if err := p.persistDecision(ctx, logger, entry, decision); err != nil {
		return outcomeError
	}
	logger.Info("audio probe verdict",
		logging.Bool("has_stereo", event.HasStereo),
		logging.Bool("has_surround", event.HasSurround),
		logging.String("processed", string(decision.Entry.Processed)),
	)
	return string(decision.Entry.Processed)
}

func (p *Planner) runConvert(ctx context.Context, logger *slog.Logger, entry *store.FileEntry) string {
	convertCtx, cancel := context.WithTimeout(ctx, p.params.ConvertLimit)
	result, err := p.adapters.Converter.Convert(convertCtx, entry.Path)
	cancel()

	event := machine.ConversionVerdict{}
	switch {
	case err != nil:
		event.Outcome = machine.ConversionFailed
		event.Detail = err.Error()
	case result.Outcome == convert.OutcomeConverted:
		event.Outcome = machine.ConversionConverted
		event.CompanionPath = result.CompanionPath
	default:
		event.Outcome = machine.ConversionFailed
		event.Detail = result.Detail
	}
	if event.Outcome == machine.ConversionFailed {
		p.metrics.BackoffApplied.Inc()
	}

	decision, stepErr := p.machine.Step(entry, event, p.clk.Now())
	if stepErr != nil {
		return p.invariantViolation(ctx, logger, entry, stepErr)
	}
	if err := p.persistDecision(ctx, logger, entry, decision); err != nil {
		return outcomeError
	}
	logger.Info("conversion verdict",
		logging.String("outcome", string(event.Outcome)),
		logging.String("companion", event.CompanionPath),
	)
	return string(event.Outcome)
}

func (p *Planner) applyEvent(ctx context.Context, logger *slog.Logger, entry *store.FileEntry, event machine.Event, now time.Time) string {
	decision, err := p.machine.Step(entry, event, now)
	if err != nil {
		return p.invariantViolation(ctx, logger, entry, err)
	}
	if err := p.persistDecision(ctx, logger, entry, decision); err != nil {
		return outcomeError
	}
	return outcomeApplied
}

// persistDecision writes the decision, creates the companion entry when the
// machine asked for one, and recomputes the group on member updates.
func (p *Planner) persistDecision(ctx context.Context, logger *slog.Logger, entry *store.FileEntry, decision machine.Decision) error {
	if err := p.store.Apply(ctx, store.Update{File: &decision.Entry, Owner: p.owner}); err != nil {
		logger.Error("persist decision failed", logging.Error(err))
		return err
	}

	if decision.CompanionPath != "" {
		companion := &store.FileEntry{
			Path:        decision.CompanionPath,
			GroupID:     entry.GroupID,
			Role:        store.RoleStereoCompanion,
			Integrity:   store.IntegrityUnknown,
			Processed:   store.ProcessedNew,
			NextCheckAt: p.clk.Now().Unix(),
		}
		if _, err := p.store.Upsert(ctx, companion); err != nil {
			logger.Error("register companion failed", logging.Error(err))
			return err
		}
		p.Wake()
	}

	if decision.UpdateGroup && entry.GroupID != "" {
		if _, err := p.store.RecomputeGroup(ctx, entry.GroupID, p.params.DeleteOriginal); err != nil {
			logger.Error("group recompute failed", logging.Error(err))
			return err
		}
	}
	return nil
}

// invariantViolation handles a machine rejection: the decision is never
// persisted; the record is pushed out by the maximum backoff and the failure
// is surfaced through metrics and health.
func (p *Planner) invariantViolation(ctx context.Context, logger *slog.Logger, entry *store.FileEntry, err error) string {
	logger.Error("illegal transition rejected",
		logging.Error(err),
		logging.String("integrity", string(entry.Integrity)),
		logging.String("processed", string(entry.Processed)),
	)
	if rescheduleOutcome := p.rescheduleAfter(ctx, entry, p.params.BackoffMax); rescheduleOutcome == outcomeError {
		return outcomeError
	}
	return outcomeInvariant
}

// rescheduleAfter persists only a new wake time, leaving every status field
// as it was.
func (p *Planner) rescheduleAfter(ctx context.Context, entry *store.FileEntry, wait time.Duration) string {
	next := *entry
	next.NextCheckAt = p.clk.Now().UTC().Unix() + int64(wait/time.Second)
	if err := p.store.Apply(ctx, store.Update{File: &next, Owner: p.owner}); err != nil {
		p.logger.Error("reschedule failed", logging.Error(err), logging.String(logging.FieldPath, entry.Path))
		return outcomeError
	}
	return outcomeApplied
}

func (p *Planner) languages() []string {
	return p.params.Languages
}
