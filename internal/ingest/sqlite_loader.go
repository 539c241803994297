package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentic-research/bidsmeta/api"
	_ "modernc.org/sqlite"
)

// StreamSQLite iterates over the indexed records in dbPath, calling fn for
// each one in id order. An empty modality streams every record. Only one
// parsed record is alive at a time.
func StreamSQLite(dbPath, table, modality string, fn func(Record) error) error {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameExpr.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }() // safe to ignore

	query := fmt.Sprintf(`SELECT id, subject_id, session_id, task_id, acq_id, rec_id, run_id, modality, mtime, record
		FROM %s WHERE (? = '' OR modality = ?) ORDER BY id`, table)
	rows, err := db.Query(query, modality, modality)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var (
			r                        Record
			ses, task, acq, rec, run sql.NullString
			mtime                    int64
			raw                      string
		)
		if err := rows.Scan(&r.ID, &r.Entities.SubjectID, &ses, &task, &acq, &rec, &run, &r.Modality, &mtime, &raw); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		r.Entities.SessionID = nullable(ses)
		r.Entities.TaskID = nullable(task)
		r.Entities.AcqID = nullable(acq)
		r.Entities.RecID = nullable(rec)
		r.Entities.RunID = nullable(run)
		r.ModTime = time.Unix(0, mtime)

		if err := json.Unmarshal([]byte(raw), &r.Document); err != nil {
			return fmt.Errorf("parse record json: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LoadSQLite collects every record StreamSQLite would yield.
func LoadSQLite(dbPath, table, modality string) ([]Record, error) {
	var records []Record
	err := StreamSQLite(dbPath, table, modality, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return api.Label(s.String)
}
