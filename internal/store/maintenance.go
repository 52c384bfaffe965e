package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"stereowatch/internal/fileutil"
)

// Stats aggregates per-status counts for the status surface.
type Stats struct {
	TotalFiles  int
	TotalGroups int
	DueFiles    int
	ByIntegrity map[IntegrityStatus]int
	ByProcessed map[ProcessedStatus]int
	DBSizeBytes int64
}

// GetStats counts entries grouped by both status axes.
func (s *Store) GetStats(ctx context.Context, now time.Time) (Stats, error) {
	stats := Stats{
		ByIntegrity: make(map[IntegrityStatus]int),
		ByProcessed: make(map[ProcessedStatus]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM files`).Scan(&stats.TotalFiles); err != nil {
		return stats, fmt.Errorf("count files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM groups`).Scan(&stats.TotalGroups); err != nil {
		return stats, fmt.Errorf("count groups: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM files WHERE next_check_at <= ?`, now.UTC().Unix(),
	).Scan(&stats.DueFiles); err != nil {
		return stats, fmt.Errorf("count due files: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT integrity, COUNT(1) FROM files GROUP BY integrity`)
	if err != nil {
		return stats, fmt.Errorf("integrity stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByIntegrity[IntegrityStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT processed, COUNT(1) FROM files GROUP BY processed`)
	if err != nil {
		return stats, fmt.Errorf("processed stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.ByProcessed[ProcessedStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DBSizeBytes = info.Size()
	}
	return stats, nil
}

// GCResult summarizes one retention pass.
type GCResult struct {
	FilesDeleted    int64
	GroupsDeleted   int64
	VacuumPerformed bool
}

// GC deletes terminal records older than keepDays, evicts the oldest rows when
// the table exceeds maxEntries, and sweeps groups whose members are all gone.
// Opening the store does not run GC; it runs only when a caller invokes it
// (the maintenance command and the monitor's periodic maintenance pass).
func (s *Store) GC(ctx context.Context, now time.Time, keepDays, maxEntries int) (GCResult, error) {
	var result GCResult
	cutoff := now.UTC().Add(-time.Duration(keepDays) * 24 * time.Hour).Unix()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM files
         WHERE processed IN (?, ?, ?, ?) AND next_check_at >= ? AND updated_at < ?`,
		string(ProcessedConverted), string(ProcessedSkippedHasEN2),
		string(ProcessedGroupProcessed), string(ProcessedIgnored),
		NeverTimestamp, cutoff,
	)
	if err != nil {
		return result, fmt.Errorf("gc terminal files: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("rows affected: %w", err)
	}
	result.FilesDeleted += deleted

	if maxEntries > 0 {
		var total int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM files`).Scan(&total); err != nil {
			return result, fmt.Errorf("count files: %w", err)
		}
		if total > maxEntries {
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM files WHERE path IN (
                    SELECT path FROM files ORDER BY updated_at LIMIT ?
                )`, total-maxEntries)
			if err != nil {
				return result, fmt.Errorf("gc excess files: %w", err)
			}
			deleted, err := res.RowsAffected()
			if err != nil {
				return result, fmt.Errorf("rows affected: %w", err)
			}
			result.FilesDeleted += deleted
		}
	}

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM groups WHERE group_id NOT IN (SELECT DISTINCT group_id FROM files)`)
	if err != nil {
		return result, fmt.Errorf("gc orphan groups: %w", err)
	}
	result.GroupsDeleted, err = res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("rows affected: %w", err)
	}

	if result.FilesDeleted > 100 {
		if err := s.Vacuum(ctx); err != nil {
			return result, err
		}
		result.VacuumPerformed = true
	}
	return result, nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Backup copies the database file to dst. Run only while no writer is active.
func (s *Store) Backup(ctx context.Context, dst string) error {
	// Flush the WAL so the main file is self-contained before copying.
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint before backup: %w", err)
	}
	if err := fileutil.CopyFile(s.path, dst); err != nil {
		return fmt.Errorf("copy database: %w", err)
	}
	return nil
}

// Reset drops all rows from every table. Destructive; the CLI confirms first.
func (s *Store) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM files`, `DELETE FROM groups`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return nil
}

// IntegrityCheck runs SQLite's own integrity check, reporting true on "ok".
func (s *Store) IntegrityCheck(ctx context.Context) (bool, error) {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return false, fmt.Errorf("integrity check: %w", err)
	}
	return result == "ok", nil
}
