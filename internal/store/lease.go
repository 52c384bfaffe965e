package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLeaseConflict indicates Apply found the row leased to someone else.
var ErrLeaseConflict = errors.New("lease conflict")

// PickDue atomically selects up to limit entries with next_check_at <= now,
// ordered by next_check_at then discovered_at, and stamps each with a lease so
// no concurrent picker can select the same row. Rows whose lease has expired
// are reclaimable. Terminal rows (next_check_at at NeverTimestamp) are never
// selected.
func (s *Store) PickDue(ctx context.Context, now time.Time, limit int, owner string, leaseTTL time.Duration) ([]*FileEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	nowUnix := now.UTC().Unix()
	deadline := nowUnix + int64(leaseTTL/time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pick tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
         WHERE next_check_at <= ?
           AND next_check_at < ?
           AND (lease_owner IS NULL OR lease_deadline < ?)
         ORDER BY next_check_at, discovered_at
         LIMIT ?`,
		nowUnix, NeverTimestamp, nowUnix, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due files: %w", err)
	}

	var picked []*FileEntry
	for rows.Next() {
		entry, scanErr := scanFile(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		picked = append(picked, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(picked) == 0 {
		return nil, tx.Commit()
	}

	placeholders := make([]string, len(picked))
	args := make([]any, 0, len(picked)+4)
	args = append(args, owner, deadline, nowUnix)
	for i, entry := range picked {
		placeholders[i] = "?"
		args = append(args, entry.Path)
	}
	args = append(args, nowUnix)

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET lease_owner = ?, lease_deadline = ?, updated_at = ?
         WHERE path IN (`+strings.Join(placeholders, ",")+`)
           AND (lease_owner IS NULL OR lease_deadline < ?)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("stamp leases: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected != int64(len(picked)) {
		return nil, fmt.Errorf("%w: leased %d of %d picked rows", ErrLeaseConflict, affected, len(picked))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pick: %w", err)
	}

	for _, entry := range picked {
		entry.LeaseOwner = owner
		entry.LeaseDeadline = deadline
	}
	return picked, nil
}

// Update is one transactional state change produced by a planner handler.
type Update struct {
	File  *FileEntry
	Group *GroupEntry
	// Owner must match the lease stamped by PickDue; empty skips the check
	// (used by discovery-time writes that never held a lease).
	Owner string
}

// Apply writes a FileEntry plus an optional GroupEntry delta in one
// transaction and clears the file's lease.
func (s *Store) Apply(ctx context.Context, update Update) error {
	if update.File == nil {
		return errors.New("update.File is nil")
	}
	entry := update.File
	entry.UpdatedAt = time.Now().UTC().Unix()
	entry.LeaseOwner = ""
	entry.LeaseDeadline = 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if update.Owner != "" {
		var currentOwner sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT lease_owner FROM files WHERE path = ?`, entry.Path).Scan(&currentOwner)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read lease: %w", err)
		}
		if currentOwner.Valid && currentOwner.String != update.Owner {
			return fmt.Errorf("%w: row %q held by %q", ErrLeaseConflict, entry.Path, currentOwner.String)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE files SET
            group_id = ?, role = ?, size_bytes = ?, mod_time = ?, size_observed_at = ?,
            stable_since = ?, integrity = ?, integrity_score = ?, integrity_mode = ?,
            integrity_attempts = ?, processed = ?, has_en2 = ?, next_check_at = ?,
            backoff_sec = ?, lease_owner = NULL, lease_deadline = NULL,
            updated_at = ?, last_error = ?
         WHERE path = ?`,
		entry.GroupID, string(entry.Role), entry.SizeBytes, entry.ModTime, entry.SizeObservedAt,
		nullableInt64(entry.StableSince), string(entry.Integrity), nullableFloat64(entry.IntegrityScore),
		nullableString(string(entry.IntegrityMode)), entry.IntegrityAttempts, string(entry.Processed),
		nullableBool(entry.HasEN2), entry.NextCheckAt, entry.BackoffSec,
		entry.UpdatedAt, nullableString(entry.LastError), entry.Path,
	)
	if err != nil {
		return fmt.Errorf("apply file update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("apply file update: %q no longer exists", entry.Path)
	}

	if update.Group != nil {
		if err := upsertGroupTx(ctx, tx, update.Group); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	return nil
}

// ReleaseLease clears a lease without writing any other field. Used when a
// handler decides no state change is needed.
func (s *Store) ReleaseLease(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE files SET lease_owner = NULL, lease_deadline = NULL WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// MarkTerminal parks an entry permanently: sets the processed status and the
// far-future sentinel so due queries never return it again.
func (s *Store) MarkTerminal(ctx context.Context, path string, processed ProcessedStatus) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET processed = ?, next_check_at = ?, lease_owner = NULL,
            lease_deadline = NULL, updated_at = ?
         WHERE path = ?`,
		string(processed), NeverTimestamp, now, path,
	)
	if err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark terminal: %q not found", path)
	}
	return nil
}

// StuckLeases counts leases whose deadline has passed without being cleared.
// Surfaced by the health check.
func (s *Store) StuckLeases(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM files WHERE lease_owner IS NOT NULL AND lease_deadline < ?`,
		now.UTC().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stuck leases: %w", err)
	}
	return count, nil
}

// EarliestNextCheck returns the soonest scheduled wake below the terminal
// sentinel, or zero when nothing is scheduled.
func (s *Store) EarliestNextCheck(ctx context.Context) (int64, error) {
	var earliest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(next_check_at) FROM files WHERE next_check_at < ?`, NeverTimestamp,
	).Scan(&earliest)
	if err != nil {
		return 0, fmt.Errorf("earliest next check: %w", err)
	}
	if !earliest.Valid {
		return 0, nil
	}
	return earliest.Int64, nil
}
