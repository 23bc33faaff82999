package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"migrate/internal/logging"
	"migrate/internal/services"
)

const (
	metadataVersion  = 1
	metadataFileName = "migrate.cache.json"
	lockSuffix       = ".lock"
)

// Metadata describes a workspace so cache listings can say which export it belongs to.
type Metadata struct {
	Version   int       `json:"version"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	LastJobID string    `json:"last_job_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is the workspace of one export.
type Cache struct {
	base   string
	key    string
	dir    string
	source string
	kind   string
	lock   *flock.Flock
	logger *slog.Logger
}

// Key derives the workspace key for source.
func Key(source string) string {
	abs, err := filepath.Abs(strings.TrimSpace(source))
	if err != nil {
		abs = source
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8])
}

// New creates the workspace directories for source under baseDir.
func New(baseDir, source, kind string, logger *slog.Logger) (*Cache, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "filecache", "init", "cache directory is empty", nil)
	}
	key := Key(source)
	c := &Cache{
		base:   baseDir,
		key:    key,
		dir:    filepath.Join(baseDir, key),
		source: source,
		kind:   kind,
		lock:   flock.New(filepath.Join(baseDir, key+lockSuffix)),
		logger: logging.NewComponentLogger(logger, "filecache"),
	}
	for _, dir := range []string{c.dir, c.TmpDir(), c.ZipDir(), c.ImagesDir(), c.MediaDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "filecache", "init", fmt.Sprintf("create %s", dir), err)
		}
	}
	return c, nil
}

// Dir is the workspace root.
func (c *Cache) Dir() string { return c.dir }

// Key returns the workspace key.
func (c *Cache) Key() string { return c.key }

// TmpDir holds intermediate JSON.
func (c *Cache) TmpDir() string { return filepath.Join(c.dir, "tmp") }

// ZipDir is the import bundle directory.
func (c *Cache) ZipDir() string { return filepath.Join(c.dir, "zip") }

// ImagesDir holds downloaded images inside the bundle.
func (c *Cache) ImagesDir() string { return filepath.Join(c.ZipDir(), "content", "images") }

// MediaDir holds downloaded media inside the bundle.
func (c *Cache) MediaDir() string { return filepath.Join(c.ZipDir(), "content", "media") }

// Lock takes the workspace lock without blocking.
func (c *Cache) Lock() error {
	ok, err := c.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrExternal, "filecache", "lock", "acquire workspace lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrValidation, "filecache", "lock", fmt.Sprintf("workspace %s is in use by another job", c.dir), nil)
	}
	return nil
}

// Unlock releases the workspace lock.
func (c *Cache) Unlock() error {
	if c == nil || c.lock == nil {
		return nil
	}
	return c.lock.Unlock()
}

// Touch records the job that last used the workspace.
func (c *Cache) Touch(jobID string) error {
	meta := Metadata{
		Version:   metadataVersion,
		Source:    c.source,
		Kind:      c.kind,
		LastJobID: jobID,
		UpdatedAt: time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("filecache: encode metadata: %w", err)
	}
	return writeAtomic(filepath.Join(c.dir, metadataFileName), payload)
}

// LoadMetadata reads the workspace metadata stored in dir.
func LoadMetadata(dir string) (Metadata, bool, error) {
	payload, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("filecache: read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return Metadata{}, true, fmt.Errorf("filecache: decode metadata: %w", err)
	}
	if meta.Version != metadataVersion {
		return Metadata{}, true, fmt.Errorf("filecache: unsupported metadata version %d", meta.Version)
	}
	return meta, true, nil
}

// writeAtomic writes payload through a temp file and rename.
func writeAtomic(target string, payload []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filecache: ensure %s: %w", dir, err)
	}
	file, err := os.CreateTemp(dir, ".migrate-*.tmp")
	if err != nil {
		return fmt.Errorf("filecache: create temp: %w", err)
	}
	tmp := file.Name()
	_, err = file.Write(payload)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp, 0o644)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filecache: write temp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("filecache: rename %s: %w", filepath.Base(target), err)
	}
	return nil
}
