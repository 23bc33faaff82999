package filecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"migrate/internal/logging"
)

// freeSpaceFloor is the minimum free-space ratio kept on the cache volume.
const freeSpaceFloor = 0.10

type statfsFunc func(path string) (total uint64, free uint64, err error)

// Store manages every workspace under the cache root.
type Store struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
	statfs   statfsFunc
}

// Stats describes cache usage.
type Stats struct {
	Entries      int            `json:"entries"`
	TotalBytes   int64          `json:"total_bytes"`
	MaxBytes     int64          `json:"max_bytes"`
	FreeBytes    uint64         `json:"free_bytes"`
	TotalFSBytes uint64         `json:"total_fs_bytes"`
	FreeRatio    float64        `json:"free_ratio"`
	Workspaces   []EntrySummary `json:"workspaces"`
}

// EntrySummary describes one workspace, newest first in Stats.
type EntrySummary struct {
	Key        string    `json:"key"`
	Directory  string    `json:"directory"`
	Source     string    `json:"source,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	LastJobID  string    `json:"last_job_id,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewStore builds a store. maxMB of 0 disables the size budget.
func NewStore(root string, maxMB int, logger *slog.Logger) *Store {
	maxBytes := int64(0)
	if maxMB > 0 {
		maxBytes = int64(maxMB) * 1024 * 1024
	}
	return &Store{
		root:     strings.TrimSpace(root),
		maxBytes: maxBytes,
		logger:   logging.NewComponentLogger(logger, "filecache"),
		statfs:   realStatfs,
	}
}

// Stats returns usage for every workspace.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, total, err := s.scan()
	if err != nil {
		return Stats{}, err
	}
	totalFS, freeFS, err := s.statfs(s.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Stats{}, fmt.Errorf("filecache: statfs: %w", err)
	}
	ratio := 1.0
	if totalFS > 0 {
		ratio = float64(freeFS) / float64(totalFS)
	}
	summaries := make([]EntrySummary, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		summaries = append(summaries, entries[i])
	}
	if len(entries) == 0 {
		s.logger.DebugContext(ctx, "cache empty", logging.String("cache_dir", s.root))
	}
	return Stats{
		Entries:      len(entries),
		TotalBytes:   total,
		MaxBytes:     s.maxBytes,
		FreeBytes:    freeFS,
		TotalFSBytes: totalFS,
		FreeRatio:    ratio,
		Workspaces:   summaries,
	}, nil
}

// Prune removes the oldest workspaces until the size budget and free-space
// floor are both satisfied. keepDir is never removed. It returns the removed
// workspace keys.
func (s *Store) Prune(ctx context.Context, keepDir string) ([]string, error) {
	entries, total, err := s.scan()
	if err != nil {
		return nil, err
	}
	var removed []string
	for len(entries) > 0 {
		freeOK, err := s.freeSpaceOK()
		if err != nil {
			return removed, err
		}
		if (s.maxBytes == 0 || total <= s.maxBytes) && freeOK {
			return removed, nil
		}
		oldest := entries[0]
		entries = entries[1:]
		if samePath(oldest.Directory, keepDir) {
			continue
		}
		if err := s.remove(oldest); err != nil {
			return removed, err
		}
		s.logger.InfoContext(ctx, "pruned workspace",
			logging.String("cache_dir", oldest.Directory),
			logging.Bytes("entry_size", oldest.SizeBytes),
		)
		total -= oldest.SizeBytes
		removed = append(removed, oldest.Key)
	}
	return removed, nil
}

// Remove deletes the workspace with key.
func (s *Store) Remove(ctx context.Context, key string) error {
	entries, _, err := s.scan()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Key == key {
			if err := s.remove(entry); err != nil {
				return err
			}
			s.logger.InfoContext(ctx, "removed workspace", logging.String("cache_dir", entry.Directory))
			return nil
		}
	}
	return fmt.Errorf("filecache: workspace %q not found", key)
}

func (s *Store) remove(entry EntrySummary) error {
	lock := filepath.Join(s.root, entry.Key+lockSuffix)
	if err := os.RemoveAll(entry.Directory); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filecache: remove %q: %w", entry.Directory, err)
	}
	_ = os.Remove(lock)
	return nil
}

// scan lists workspaces oldest first.
func (s *Store) scan() ([]EntrySummary, int64, error) {
	rootEntries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("filecache: list root: %w", err)
	}
	var (
		entries []EntrySummary
		total   int64
	)
	for _, entry := range rootEntries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		size, mtime, err := dirSizeAndTime(dir)
		if err != nil {
			s.logger.Warn("skip workspace; excluded from stats and pruning",
				logging.String("cache_dir", dir),
				logging.Error(err),
				logging.String(logging.FieldEventType, "workspace_skipped"),
				logging.String(logging.FieldErrorHint, "inspect cache directory permissions or remove the corrupted workspace"),
			)
			continue
		}
		summary := EntrySummary{Key: entry.Name(), Directory: dir, SizeBytes: size, ModifiedAt: mtime}
		if meta, ok, err := LoadMetadata(dir); err == nil && ok {
			summary.Source = meta.Source
			summary.Kind = meta.Kind
			summary.LastJobID = meta.LastJobID
		}
		total += size
		entries = append(entries, summary)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModifiedAt.Before(entries[j].ModifiedAt)
	})
	return entries, total, nil
}

func (s *Store) freeSpaceOK() (bool, error) {
	total, free, err := s.statfs(s.root)
	if err != nil {
		return false, fmt.Errorf("filecache: statfs: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= freeSpaceFloor, nil
}

func samePath(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	if ra, err := filepath.EvalSymlinks(a); err == nil {
		a = ra
	}
	if rb, err := filepath.EvalSymlinks(b); err == nil {
		b = rb
	}
	return a == b
}

func dirSizeAndTime(path string) (int64, time.Time, error) {
	var (
		size   int64
		latest time.Time
	)
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return size, latest, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}
