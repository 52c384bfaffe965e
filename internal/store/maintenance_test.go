package store_test

import (
	"context"
	"testing"
	"time"

	"stereowatch/internal/store"
)

func TestGCDeletesOldTerminalRecords(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, newEntry("/m/old.mkv", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := st.Upsert(ctx, newEntry("/m/active.mkv", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := st.MarkTerminal(ctx, "/m/old.mkv", store.ProcessedGroupProcessed); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	// Far enough in the future that the terminal record ages out.
	future := time.Now().Add(60 * 24 * time.Hour)
	result, err := st.GC(ctx, future, 30, 0)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if result.FilesDeleted != 1 {
		t.Errorf("FilesDeleted = %d, want 1", result.FilesDeleted)
	}

	if got, _ := st.Get(ctx, "/m/old.mkv"); got != nil {
		t.Error("terminal record survived GC")
	}
	if got, _ := st.Get(ctx, "/m/active.mkv"); got == nil {
		t.Error("active record deleted by GC")
	}
}

func TestGCSweepsOrphanGroups(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if err := st.UpsertGroup(ctx, &store.GroupEntry{
		GroupID: "g/orphan",
		State:   store.GroupForming,
	}); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}

	result, err := st.GC(ctx, time.Now(), 30, 0)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if result.GroupsDeleted != 1 {
		t.Errorf("GroupsDeleted = %d, want 1", result.GroupsDeleted)
	}
	if group, _ := st.GetGroup(ctx, "g/orphan"); group != nil {
		t.Error("orphan group survived")
	}
}

func TestGCEnforcesMaxEntries(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	for _, path := range []string{"/m/a.mkv", "/m/b.mkv", "/m/c.mkv"} {
		if _, err := st.Upsert(ctx, newEntry(path, 100)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	result, err := st.GC(ctx, time.Now(), 30, 2)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if result.FilesDeleted != 1 {
		t.Errorf("FilesDeleted = %d, want 1", result.FilesDeleted)
	}

	stats, err := st.GetStats(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, want 2", stats.TotalFiles)
	}
}

func TestGetStatsCountsByStatus(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, newEntry("/m/a.mkv", 100)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	entry := newEntry("/m/b.mkv", store.NeverTimestamp)
	entry.Integrity = store.IntegrityComplete
	entry.Processed = store.ProcessedSkippedHasEN2
	if _, err := st.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stats, err := st.GetStats(ctx, time.Unix(1<<34, 0))
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d", stats.TotalFiles)
	}
	if stats.DueFiles != 1 {
		t.Errorf("DueFiles = %d, want 1 (terminal excluded)", stats.DueFiles)
	}
	if stats.ByProcessed[store.ProcessedSkippedHasEN2] != 1 {
		t.Errorf("ByProcessed = %v", stats.ByProcessed)
	}
	if stats.DBSizeBytes <= 0 {
		t.Error("DBSizeBytes not reported")
	}
}
