package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultTable is the index table name when none is configured.
const DefaultTable = "iqms"

var tableNameExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteWriter implements RecordSink, batching inserts into transactions.
type SQLiteWriter struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	table     string
	batchSize int
	count     int
	mu        sync.Mutex
}

// NewSQLiteWriter opens dbPath and creates the index table. A batchSize
// below 1 commits after every record.
func NewSQLiteWriter(dbPath, table string, batchSize int) (*SQLiteWriter, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameExpr.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if batchSize < 1 {
		batchSize = 1
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Performance tuning for bulk insert
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		session_id TEXT,
		task_id TEXT,
		acq_id TEXT,
		rec_id TEXT,
		run_id TEXT,
		modality TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		record JSON NOT NULL
	);`, table)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &SQLiteWriter{
		db:        db,
		table:     table,
		batchSize: batchSize,
	}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLiteWriter) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmt, err = w.tx.Prepare(fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, subject_id, session_id, task_id, acq_id, rec_id, run_id, modality, mtime, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, w.table))
	return err
}

func (w *SQLiteWriter) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	return w.tx.Commit()
}

// AddRecord writes a record to the database.
func (w *SQLiteWriter) AddRecord(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record, err := json.Marshal(r.Document)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	ids := r.Entities
	_, err = w.stmt.Exec(
		r.ID,
		ids.SubjectID,
		ids.SessionID,
		ids.TaskID,
		ids.AcqID,
		ids.RecID,
		ids.RunID,
		r.Modality,
		r.ModTime.UnixNano(),
		string(record),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}

	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		w.count = 0
	}
	return nil
}

// Close commits pending records, builds the lookup index and closes the
// database.
func (w *SQLiteWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}

	// Create indices after bulk load for speed
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_modality ON %s(modality, subject_id)`, w.table, w.table)
	if _, err := w.db.Exec(idx); err != nil {
		_ = w.db.Close()
		return fmt.Errorf("create index: %w", err)
	}
	return w.db.Close()
}

// Interface compliance
var _ RecordSink = (*SQLiteWriter)(nil)
