package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
)

// BatchRecord is a batch as recorded in the history.
type BatchRecord struct {
	ID        string
	Name      string
	TaskCount int
	CreatedAt time.Time
}

// TaskRecord is a finished task as recorded in the batch history.
type TaskRecord struct {
	ID         int64
	BatchID    string
	Index      int
	OK         bool
	OutputPath string
	Error      string
	Text       string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Bytes      int64
}

// Store wraps a SQLite-backed history of finished batches. It only records
// outcomes; nothing is ever scheduled from it.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS batches (
    batch_id TEXT PRIMARY KEY,
    name TEXT,
    task_count INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS task_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    task_index INTEGER NOT NULL,
    ok INTEGER NOT NULL,
    output_path TEXT,
    error TEXT,
    text TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    duration_ns INTEGER NOT NULL,
    bytes INTEGER NOT NULL,
    FOREIGN KEY(batch_id) REFERENCES batches(batch_id) ON DELETE CASCADE,
    UNIQUE(batch_id, task_index)
);
CREATE INDEX IF NOT EXISTS idx_task_results_batch ON task_results(batch_id, task_index);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendBatch ensures a batch row exists.
func (s *Store) AppendBatch(ctx context.Context, batchID, name string, taskCount int) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches(batch_id, name, task_count, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(batch_id) DO UPDATE SET name=excluded.name, task_count=excluded.task_count`,
		batchID, name, taskCount, s.clock().UTC())
	return err
}

// AppendResult records one finished task of a batch.
func (s *Store) AppendResult(ctx context.Context, batchID string, r dispatch.Result) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_results(batch_id, task_index, ok, output_path, error, text, started_at, finished_at, duration_ns, bytes)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, r.Index, r.OK, r.OutputPath, r.Error, r.Text, r.Start.UTC(), r.End.UTC(), int64(r.Duration), r.Bytes)
	return err
}

// ListBatches returns recorded batches, newest first.
func (s *Store) ListBatches(ctx context.Context) ([]BatchRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, name, task_count, created_at FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var (
			rec  BatchRecord
			name sql.NullString
		)
		if err := rows.Scan(&rec.ID, &name, &rec.TaskCount, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Name = name.String
		batches = append(batches, rec)
	}
	return batches, rows.Err()
}

// ListBatchResults retrieves the recorded results of a batch ordered by task index.
func (s *Store) ListBatchResults(ctx context.Context, batchID string) ([]TaskRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, task_index, ok, output_path, error, text, started_at, finished_at, duration_ns, bytes
		 FROM task_results WHERE batch_id = ? ORDER BY task_index ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var (
			rec                TaskRecord
			durationNS         int64
			outputPath, errMsg sql.NullString
			text               sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.Index, &rec.OK, &outputPath, &errMsg, &text,
			&rec.StartedAt, &rec.FinishedAt, &durationNS, &rec.Bytes); err != nil {
			return nil, err
		}
		rec.OutputPath = outputPath.String
		rec.Error = errMsg.String
		rec.Text = text.String
		rec.Duration = time.Duration(durationNS)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies configured retention (called on startup).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxBatches > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE batch_id IN (
			SELECT batch_id FROM batches ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxBatches)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}

// Recorder appends each finished task of one batch to the store.
type Recorder struct {
	store   *Store
	batchID string
}

func (s *Store) Recorder(batchID string) *Recorder {
	return &Recorder{store: s, batchID: batchID}
}

func (r *Recorder) OnResult(ctx context.Context, res dispatch.Result) error {
	return r.store.AppendResult(ctx, r.batchID, res)
}
