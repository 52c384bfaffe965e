package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages state persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the state database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get fetches a file entry by path.
func (s *Store) Get(ctx context.Context, path string) (*FileEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	entry, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return entry, nil
}

// Upsert inserts a new entry or merges size observations into an existing
// one. Inserts stamp DiscoveredAt; re-discovery of a known path only refreshes
// the size sample fields and never touches planner-owned state.
func (s *Store) Upsert(ctx context.Context, entry *FileEntry) (created bool, err error) {
	if entry == nil {
		return false, errors.New("entry is nil")
	}
	now := time.Now().UTC().Unix()

	existing, err := s.Get(ctx, entry.Path)
	if err != nil {
		return false, err
	}
	if existing != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE files SET size_observed_at = ?, updated_at = ? WHERE path = ?`,
			entry.SizeObservedAt, now, entry.Path,
		)
		if err != nil {
			return false, fmt.Errorf("refresh file: %w", err)
		}
		return false, nil
	}

	if entry.DiscoveredAt == 0 {
		entry.DiscoveredAt = now
	}
	entry.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fileValues(entry)...,
	)
	if err != nil {
		return false, fmt.Errorf("insert file: %w", err)
	}
	return true, nil
}

// Delete removes a file entry by path.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FilesByGroup returns all members of a group, originals first.
func (s *Store) FilesByGroup(ctx context.Context, groupID string) ([]*FileEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE group_id = ? ORDER BY role, path`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var entries []*FileEntry
	for rows.Next() {
		entry, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// List returns every file entry ordered by discovery time.
func (s *Store) List(ctx context.Context) ([]*FileEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY discovered_at, path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var entries []*FileEntry
	for rows.Next() {
		entry, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const fileColumns = "path, group_id, role, size_bytes, mod_time, size_observed_at, stable_since, " +
	"integrity, integrity_score, integrity_mode, integrity_attempts, processed, has_en2, " +
	"next_check_at, backoff_sec, lease_owner, lease_deadline, discovered_at, updated_at, last_error"

func fileValues(e *FileEntry) []any {
	return []any{
		e.Path,
		e.GroupID,
		string(e.Role),
		e.SizeBytes,
		e.ModTime,
		e.SizeObservedAt,
		nullableInt64(e.StableSince),
		string(e.Integrity),
		nullableFloat64(e.IntegrityScore),
		nullableString(string(e.IntegrityMode)),
		e.IntegrityAttempts,
		string(e.Processed),
		nullableBool(e.HasEN2),
		e.NextCheckAt,
		e.BackoffSec,
		nullableString(e.LeaseOwner),
		nullableZeroInt64(e.LeaseDeadline),
		e.DiscoveredAt,
		e.UpdatedAt,
		nullableString(e.LastError),
	}
}

func scanFile(scanner interface{ Scan(dest ...any) error }) (*FileEntry, error) {
	var (
		path          string
		groupID       string
		role          string
		sizeBytes     int64
		modTime       int64
		sizeObserved  int64
		stableSince   sql.NullInt64
		integrity     string
		score         sql.NullFloat64
		mode          sql.NullString
		attempts      int
		processed     string
		hasEN2        sql.NullInt64
		nextCheckAt   int64
		backoffSec    int
		leaseOwner    sql.NullString
		leaseDeadline sql.NullInt64
		discoveredAt  int64
		updatedAt     int64
		lastError     sql.NullString
	)

	if err := scanner.Scan(
		&path, &groupID, &role, &sizeBytes, &modTime, &sizeObserved, &stableSince,
		&integrity, &score, &mode, &attempts, &processed, &hasEN2,
		&nextCheckAt, &backoffSec, &leaseOwner, &leaseDeadline,
		&discoveredAt, &updatedAt, &lastError,
	); err != nil {
		return nil, err
	}

	entry := &FileEntry{
		Path:              path,
		GroupID:           groupID,
		Role:              Role(role),
		SizeBytes:         sizeBytes,
		ModTime:           modTime,
		SizeObservedAt:    sizeObserved,
		Integrity:         IntegrityStatus(integrity),
		IntegrityAttempts: attempts,
		Processed:         ProcessedStatus(processed),
		NextCheckAt:       nextCheckAt,
		BackoffSec:        backoffSec,
		LeaseOwner:        leaseOwner.String,
		DiscoveredAt:      discoveredAt,
		UpdatedAt:         updatedAt,
		LastError:         lastError.String,
	}
	if stableSince.Valid {
		v := stableSince.Int64
		entry.StableSince = &v
	}
	if score.Valid {
		v := score.Float64
		entry.IntegrityScore = &v
	}
	if mode.Valid {
		entry.IntegrityMode = IntegrityMode(mode.String)
	}
	if hasEN2.Valid {
		v := hasEN2.Int64 != 0
		entry.HasEN2 = &v
	}
	if leaseDeadline.Valid {
		entry.LeaseDeadline = leaseDeadline.Int64
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableZeroInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableFloat64(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableBool(value *bool) any {
	if value == nil {
		return nil
	}
	if *value {
		return 1
	}
	return 0
}
