package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"migrate/internal/job"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump it when the schema changes;
// older ledgers must be deleted.
const schemaVersion = 1

// ErrSchemaMismatch indicates the ledger was written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Status values recorded for a job.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// Job is one ledger row.
type Job struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Source       string    `json:"source"`
	SiteURL      string    `json:"site_url,omitempty"`
	Status       string    `json:"status"`
	AbortedAt    string    `json:"aborted_at,omitempty"`
	Cause        string    `json:"cause,omitempty"`
	FailedItems  int       `json:"failed_items"`
	BundlePath   string    `json:"bundle,omitempty"`
	ArchivePath  string    `json:"archive,omitempty"`
	ErrorLogPath string    `json:"error_log,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration reports how long the job ran.
func (j Job) Duration() time.Duration {
	if j.FinishedAt.Before(j.StartedAt) {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

// Store persists the ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}
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
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record stores a finished job and its error records in one transaction.
// Recording the same job id twice replaces the earlier entry.
func (s *Store) Record(ctx context.Context, entry Job, records []job.ErrorRecord) error {
	if entry.ID == "" {
		return errors.New("history: job id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, entry.ID); err != nil {
		return fmt.Errorf("replace job: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (
            id, kind, source, site_url, status, aborted_at, cause, failed_items,
            bundle_path, archive_path, error_log_path, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Kind,
		entry.Source,
		nullableString(entry.SiteURL),
		entry.Status,
		nullableString(entry.AbortedAt),
		nullableString(entry.Cause),
		entry.FailedItems,
		nullableString(entry.BundlePath),
		nullableString(entry.ArchivePath),
		nullableString(entry.ErrorLogPath),
		formatTime(entry.StartedAt),
		formatTime(entry.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for i, rec := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_errors (job_id, seq, stage, label, message, kind, fatal, recorded_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			i+1,
			nullableString(rec.Stage),
			rec.Label,
			rec.Message,
			nullableString(rec.Kind),
			boolToInt(rec.Fatal),
			formatTime(rec.Time),
		)
		if err != nil {
			return fmt.Errorf("insert error record %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

const jobColumns = "id, kind, source, site_url, status, aborted_at, cause, failed_items, bundle_path, archive_path, error_log_path, started_at, finished_at"

// List returns the most recent jobs first. limit <= 0 returns every job.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		entry, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, entry)
	}
	return jobs, rows.Err()
}

// Get returns the job with id, or nil when it is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	entry, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &entry, nil
}

// Errors returns the error records of a job in the order they were logged.
func (s *Store) Errors(ctx context.Context, id string) ([]job.ErrorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, label, message, kind, fatal, recorded_at FROM job_errors WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list job errors: %w", err)
	}
	defer rows.Close()

	var records []job.ErrorRecord
	for rows.Next() {
		var (
			stage, kind sql.NullString
			rec         job.ErrorRecord
			fatal       int
			recordedRaw string
		)
		if err := rows.Scan(&stage, &rec.Label, &rec.Message, &kind, &fatal, &recordedRaw); err != nil {
			return nil, fmt.Errorf("scan job error: %w", err)
		}
		rec.Stage = stage.String
		rec.Kind = kind.String
		rec.Fatal = fatal != 0
		rec.Time = parseTime(recordedRaw)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune keeps the newest keep jobs and deletes the rest. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id NOT IN (SELECT id FROM jobs ORDER BY started_at DESC, id LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (Job, error) {
	var (
		entry                              Job
		siteURL, abortedAt, cause          sql.NullString
		bundlePath, archivePath, errorPath sql.NullString
		startedRaw, finishedRaw            string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.Kind,
		&entry.Source,
		&siteURL,
		&entry.Status,
		&abortedAt,
		&cause,
		&entry.FailedItems,
		&bundlePath,
		&archivePath,
		&errorPath,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return Job{}, err
	}
	entry.SiteURL = siteURL.String
	entry.AbortedAt = abortedAt.String
	entry.Cause = cause.String
	entry.BundlePath = bundlePath.String
	entry.ArchivePath = archivePath.String
	entry.ErrorLogPath = errorPath.String
	entry.StartedAt = parseTime(startedRaw)
	entry.FinishedAt = parseTime(finishedRaw)
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	ts, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
