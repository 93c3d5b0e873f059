package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"mrirecon/internal/models"
)

// FileName is the history database file created inside the history directory.
const FileName = "history.db"

// ErrRunNotFound is returned when updating a run that was never recorded.
var ErrRunNotFound = errors.New("run not found")

// Status is the outcome of a run.
type Status string

const (
	// StatusReconstructed means inference succeeded and nothing was saved yet
	StatusReconstructed Status = "reconstructed"

	// StatusSaved means the reconstruction was written to OutputPath
	StatusSaved Status = "saved"

	// StatusFailed means reconstruction failed; Error holds the cause
	StatusFailed Status = "failed"
)

// History stores reconstruction runs.
type History struct {
	db     *sql.DB
	dbPath string
}

// Options configures History behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Run is one reconstruction attempt.
type Run struct {
	ID          string
	StartedAt   time.Time
	InputPath   string
	InputDigest string
	OutputPath  string

	// Width and Height are the dimensions of the input before resizing
	Width  int
	Height int

	Duration time.Duration
	RawMin   float64
	RawMax   float64
	RMSE     float64
	SSIM     float64
	Status   Status
	Error    string
}

// NewRun describes a reconstruction attempt on scan. result is nil when
// reconstruction failed with err.
func NewRun(scan *models.Scan, result *models.Result, err error) *Run {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    StatusReconstructed,
	}
	if scan != nil {
		run.InputPath = scan.Path
		run.InputDigest = scan.Digest
		run.Width, run.Height = scan.OriginalSize()
	}
	if result != nil {
		run.StartedAt = result.CreatedAt.Add(-result.Duration).UTC()
		run.Duration = result.Duration
		run.RawMin = result.RawMin
		run.RawMax = result.RawMax
		run.RMSE = result.Metrics.RMSE
		run.SSIM = result.Metrics.SSIM
	}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	}
	return run
}

// Open opens or creates the history database in dir.
func Open(dir string, opts Options) (*History, error) {
	dbPath := filepath.Join(dir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("history not found at %s", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check history path: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	h := &History{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := h.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return h, nil
}

// Path returns the database file path.
func (h *History) Path() string {
	return h.dbPath
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		input_path TEXT NOT NULL,
		input_digest TEXT NOT NULL,
		output_path TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		raw_min REAL NOT NULL DEFAULT 0,
		raw_max REAL NOT NULL DEFAULT 0,
		rmse REAL NOT NULL DEFAULT 0,
		ssim REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(input_digest);
	`

	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// InsertRun records a run. An empty ID is replaced with a new UUID.
func (h *History) InsertRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = StatusReconstructed
	}

	query := `
	INSERT INTO runs (id, started_at, input_path, input_digest, output_path, width, height,
		duration_ms, raw_min, raw_max, rmse, ssim, status, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := h.db.ExecContext(ctx, query,
		run.ID,
		run.StartedAt.UTC().Format(timestampLayout),
		run.InputPath,
		run.InputDigest,
		run.OutputPath,
		run.Width,
		run.Height,
		run.Duration.Milliseconds(),
		run.RawMin,
		run.RawMax,
		run.RMSE,
		run.SSIM,
		string(run.Status),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// MarkSaved records that the run's reconstruction was written to outputPath.
func (h *History) MarkSaved(ctx context.Context, id, outputPath string) error {
	query := `UPDATE runs SET output_path = ?, status = ? WHERE id = ?`

	res, err := h.db.ExecContext(ctx, query, outputPath, string(StatusSaved), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// GetRun returns the run with the given ID, or ErrRunNotFound.
func (h *History) GetRun(ctx context.Context, id string) (*Run, error) {
	query := selectRuns + ` WHERE id = ?`

	run, err := scanRun(h.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (h *History) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	query := selectRuns + ` ORDER BY started_at DESC, rowid DESC LIMIT ?`

	rows, err := h.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

const selectRuns = `
	SELECT id, started_at, input_path, input_digest, output_path, width, height,
		duration_ms, raw_min, raw_max, rmse, ssim, status, error
	FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		durationMS int64
		status     string
	)
	err := row.Scan(
		&run.ID,
		&startedAt,
		&run.InputPath,
		&run.InputDigest,
		&run.OutputPath,
		&run.Width,
		&run.Height,
		&durationMS,
		&run.RawMin,
		&run.RawMax,
		&run.RMSE,
		&run.SSIM,
		&status,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTimestamp(startedAt)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.Status = Status(status)
	return &run, nil
}

// timestampLayout has a fixed width so that started_at sorts as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
