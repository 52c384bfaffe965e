package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stereowatch/internal/fileutil"
	"stereowatch/internal/logging"
	"stereowatch/internal/store"
)

// DiscoverOptions controls one directory walk.
type DiscoverOptions struct {
	Recursive bool
	MaxDepth  int
}

// DiscoverResult reports what a walk found.
type DiscoverResult struct {
	FilesAdded    int
	FilesExisting int
}

// DiscoverDirectory walks dir and registers matching video files. Known paths
// are untouched beyond a size-sample refresh; new paths enter the scheduler
// immediately. The planner is woken when anything was added.
func (m *Manager) DiscoverDirectory(ctx context.Context, dir string, opts DiscoverOptions) (DiscoverResult, error) {
	var result DiscoverResult

	info, err := os.Stat(dir)
	if err != nil {
		return result, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return result, fmt.Errorf("%q is not a directory", dir)
	}

	maxDepth := opts.MaxDepth
	if !opts.Recursive {
		maxDepth = 0
	}

	root := filepath.Clean(dir)
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrPermission) {
				m.logger.Warn("skipping unreadable path", logging.String(logging.FieldPath, path))
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if path == root {
				return nil
			}
			if depthBelow(root, path) > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if !fileutil.IsVideoFile(path, m.cfg.Discovery.VideoExtensions) {
			return nil
		}

		added, err := m.discoverFile(ctx, path)
		if err != nil {
			return err
		}
		if added {
			result.FilesAdded++
		} else {
			result.FilesExisting++
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if result.FilesAdded > 0 {
		m.logger.Info("discovery completed",
			logging.String("dir", dir),
			logging.Int("added", result.FilesAdded),
			logging.Int("existing", result.FilesExisting),
		)
		m.planner.Wake()
	}
	return result, nil
}

func (m *Manager) discoverFile(ctx context.Context, path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolve path: %w", err)
	}

	groupID, isStereo := fileutil.GroupID(abs)
	role := store.RoleOriginal
	if isStereo {
		role = store.RoleStereoCompanion
	}

	now := m.clk.Now().UTC().Unix()
	entry := &store.FileEntry{
		Path:           abs,
		GroupID:        groupID,
		Role:           role,
		Integrity:      store.IntegrityUnknown,
		Processed:      store.ProcessedNew,
		NextCheckAt:    now,
		SizeObservedAt: now,
	}
	created, err := m.store.Upsert(ctx, entry)
	if err != nil {
		return false, err
	}
	if created {
		if _, err := m.store.RecomputeGroup(ctx, groupID, m.cfg.Convert.DeleteOriginal); err != nil {
			return false, err
		}
	}
	return created, nil
}

// depthBelow counts path separators between root and path.
func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
