package filecache

import (
	"archive/zip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"migrate/internal/logging"
	"migrate/internal/services"
)

const (
	importFileName = "ghost-import.json"
	archivePrefix  = "ghost-import-"
)

// SizeEntry is one asset that was not downloaded because it exceeded the size limit.
type SizeEntry struct {
	URL   string
	Bytes int64
}

// WriteTmpFile stores v as JSON under tmp/name.
func (c *Cache) WriteTmpFile(name string, v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "filecache", "write tmp", name, err)
	}
	target := filepath.Join(c.TmpDir(), name)
	if err := writeAtomic(target, payload); err != nil {
		return "", err
	}
	c.logger.Debug("wrote tmp file", logging.String("path", target), logging.Int("bytes", len(payload)))
	return target, nil
}

// ReadTmpFile decodes tmp/name into v. It reports false when the file does not exist.
func (c *Cache) ReadTmpFile(name string, v any) (bool, error) {
	payload, err := os.ReadFile(filepath.Join(c.TmpDir(), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("filecache: read %s: %w", name, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return true, fmt.Errorf("filecache: decode %s: %w", name, err)
	}
	return true, nil
}

// WriteImportBundle writes the rendered import JSON into the bundle directory.
func (c *Cache) WriteImportBundle(payload []byte) (string, error) {
	target := filepath.Join(c.ZipDir(), importFileName)
	if err := writeAtomic(target, payload); err != nil {
		return "", services.Wrap(services.ErrExternal, "filecache", "write import bundle", target, err)
	}
	c.logger.Info("import bundle written", logging.String("path", target), logging.Int("bytes", len(payload)))
	return target, nil
}

// WriteErrorLog writes the job error log into the workspace.
func (c *Cache) WriteErrorLog(payload []byte, now time.Time) (string, error) {
	return WriteErrorLog(c.dir, payload, now)
}

// WriteErrorLog writes an error log into dir. It is used directly when a job
// fails before its workspace exists.
func WriteErrorLog(dir string, payload []byte, now time.Time) (string, error) {
	target := filepath.Join(dir, fmt.Sprintf("errors-%d.json", now.UnixMilli()))
	if err := writeAtomic(target, payload); err != nil {
		return "", services.Wrap(services.ErrExternal, "filecache", "write error log", target, err)
	}
	return target, nil
}

// RewriteErrorLog replaces an error log written earlier in the job.
func RewriteErrorLog(target string, payload []byte) error {
	if err := writeAtomic(target, payload); err != nil {
		return services.Wrap(services.ErrExternal, "filecache", "write error log", target, err)
	}
	return nil
}

// WriteSizeReport writes a CSV of assets skipped for exceeding limitBytes.
func (c *Cache) WriteSizeReport(kind string, entries []SizeEntry, limitBytes int64) (string, error) {
	target := filepath.Join(c.dir, fmt.Sprintf("report-%s.csv", kind))
	f, err := os.Create(target)
	if err != nil {
		return "", services.Wrap(services.ErrExternal, "filecache", "write size report", target, err)
	}
	w := csv.NewWriter(f)
	rows := [][]string{{"url", "bytes", "limit_bytes"}}
	for _, entry := range entries {
		rows = append(rows, []string{entry.URL, strconv.FormatInt(entry.Bytes, 10), strconv.FormatInt(limitBytes, 10)})
	}
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return "", services.Wrap(services.ErrExternal, "filecache", "write size report", target, err)
	}
	if err := f.Close(); err != nil {
		return "", services.Wrap(services.ErrExternal, "filecache", "write size report", target, err)
	}
	c.logger.Info("size report written", logging.String("path", target), logging.Int("entries", len(entries)))
	return target, nil
}

// PackageArchive zips the bundle directory into destDir and returns the archive path.
func (c *Cache) PackageArchive(destDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrExternal, "filecache", "package", "create output directory", err)
	}
	target := filepath.Join(destDir, fmt.Sprintf("%s%d.zip", archivePrefix, now.UnixMilli()))
	if err := zipDir(c.ZipDir(), target); err != nil {
		_ = os.Remove(target)
		return "", services.Wrap(services.ErrExternal, "filecache", "package", target, err)
	}
	c.logger.Info("import archive written", logging.String("path", target))
	return target, nil
}

func zipDir(src, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, in)
		closeErr := in.Close()
		if err != nil {
			return err
		}
		return closeErr
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = out.Close()
		return walkErr
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
