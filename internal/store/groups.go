package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetGroup fetches a group entry by identifier.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*GroupEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT group_id, original_path, companion_path, state, delete_original, created_at, finished_at
         FROM groups WHERE group_id = ?`, groupID)
	group, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// UpsertGroup writes a group entry.
func (s *Store) UpsertGroup(ctx context.Context, group *GroupEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertGroupTx(ctx, tx, group); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertGroupTx(ctx context.Context, tx *sql.Tx, group *GroupEntry) error {
	if group == nil {
		return errors.New("group is nil")
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().UTC().Unix()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO groups (group_id, original_path, companion_path, state, delete_original, created_at, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(group_id) DO UPDATE SET
            original_path = excluded.original_path,
            companion_path = excluded.companion_path,
            state = excluded.state,
            finished_at = excluded.finished_at`,
		group.GroupID,
		nullableString(group.OriginalPath),
		nullableString(group.CompanionPath),
		string(group.State),
		boolToInt(group.DeleteOriginal),
		group.CreatedAt,
		nullableInt64(group.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	return nil
}

// RecomputeGroup rebuilds a group's membership and state from its member rows
// and finalizes the group when the completion rule holds. Called on every
// member write (GroupMemberUpdated).
//
// Completion: with delete_original a companion in a settled status suffices;
// otherwise either the original was skipped (already has the wanted track) or
// both members are present and settled.
func (s *Store) RecomputeGroup(ctx context.Context, groupID string, deleteOriginal bool) (*GroupEntry, error) {
	members, err := s.FilesByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		group = &GroupEntry{
			GroupID:        groupID,
			State:          GroupForming,
			DeleteOriginal: deleteOriginal,
			CreatedAt:      time.Now().UTC().Unix(),
		}
	}

	group.OriginalPath = ""
	group.CompanionPath = ""
	var original, companion *FileEntry
	for _, member := range members {
		switch member.Role {
		case RoleStereoCompanion:
			group.CompanionPath = member.Path
			companion = member
		default:
			group.OriginalPath = member.Path
			original = member
		}
	}

	if group.State != GroupProcessed && group.State != GroupFailed {
		group.State = deriveGroupState(group, original, companion)
	}

	if group.State == GroupProcessed && group.FinishedAt == nil {
		now := time.Now().UTC().Unix()
		group.FinishedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertGroupTx(ctx, tx, group); err != nil {
		return nil, err
	}

	if group.State == GroupProcessed {
		if err := finalizeMembersTx(ctx, tx, members); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recompute: %w", err)
	}
	return group, nil
}

func deriveGroupState(group *GroupEntry, original, companion *FileEntry) GroupState {
	originalSettled := original != nil && memberSettled(original)
	companionSettled := companion != nil && memberSettled(companion)

	// The original already carrying the wanted track settles the group on its
	// own; no companion will ever exist.
	if original != nil && original.Processed == ProcessedSkippedHasEN2 {
		return GroupProcessed
	}

	// Conversion retries exhausted: the pair will never form.
	if original != nil && original.Processed == ProcessedConvertFailed && original.IsTerminal() {
		return GroupFailed
	}

	if group.DeleteOriginal {
		if companionSettled {
			return GroupProcessed
		}
		if companion != nil {
			return GroupReadyToFinalize
		}
		if original != nil {
			return GroupPendingPair
		}
		return GroupForming
	}

	switch {
	case original != nil && companion != nil && originalSettled && companionSettled:
		return GroupProcessed
	case original != nil && companion != nil:
		return GroupReadyToFinalize
	case original != nil || companion != nil:
		if original != nil && original.Processed == ProcessedGroupPendingPair {
			return GroupPendingPair
		}
		if original == nil {
			// Companion without its original: waiting for the pair.
			return GroupPendingPair
		}
		return GroupForming
	default:
		return GroupForming
	}
}

// memberSettled reports whether a member finished its own pipeline: converted,
// skipped, or ignored, with a COMPLETE integrity verdict where one was needed.
func memberSettled(entry *FileEntry) bool {
	switch entry.Processed {
	case ProcessedSkippedHasEN2, ProcessedIgnored, ProcessedGroupProcessed:
		return true
	case ProcessedConverted:
		return entry.Integrity == IntegrityComplete
	}
	return false
}

func finalizeMembersTx(ctx context.Context, tx *sql.Tx, members []*FileEntry) error {
	now := time.Now().UTC().Unix()
	for _, member := range members {
		if member.Processed == ProcessedGroupProcessed {
			continue
		}
		if !member.Processed.CanTransitionTo(ProcessedGroupProcessed) {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE files SET processed = ?, next_check_at = ?, updated_at = ? WHERE path = ?`,
			string(ProcessedGroupProcessed), NeverTimestamp, now, member.Path,
		)
		if err != nil {
			return fmt.Errorf("finalize member %q: %w", member.Path, err)
		}
	}
	return nil
}

func scanGroup(scanner interface{ Scan(dest ...any) error }) (*GroupEntry, error) {
	var (
		groupID        string
		originalPath   sql.NullString
		companionPath  sql.NullString
		state          string
		deleteOriginal int
		createdAt      int64
		finishedAt     sql.NullInt64
	)
	if err := scanner.Scan(&groupID, &originalPath, &companionPath, &state, &deleteOriginal, &createdAt, &finishedAt); err != nil {
		return nil, err
	}
	group := &GroupEntry{
		GroupID:        groupID,
		OriginalPath:   originalPath.String,
		CompanionPath:  companionPath.String,
		State:          GroupState(state),
		DeleteOriginal: deleteOriginal != 0,
		CreatedAt:      createdAt,
	}
	if finishedAt.Valid {
		v := finishedAt.Int64
		group.FinishedAt = &v
	}
	return group, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
