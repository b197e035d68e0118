// Package journal records the last successful sync of every document in a
// SQLite database.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/md2backlog/internal/apperr"
	"github.com/starford/md2backlog/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id         TEXT PRIMARY KEY,
	path           TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	checksum       TEXT NOT NULL DEFAULT '',
	remote_updated DATETIME,
	direction      TEXT NOT NULL,
	synced_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
`

// Recorder is what the sync flows need from a journal.
type Recorder interface {
	Record(rec models.SyncRecord) error
	ByPath(path string) (*models.SyncRecord, error)
	All() ([]models.SyncRecord, error)
}

// Journal wraps a sql.DB holding sync records.
type Journal struct {
	conn *sql.DB
}

var _ Recorder = (*Journal)(nil)

// Open opens (or creates) the journal database and applies the schema.
func Open(dsn string) (*Journal, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("journal: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{conn: conn}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Record stores rec, replacing the previous record of the same document.
// A record of another document at the same path is dropped: the file now
// belongs to rec.DocID.
func (j *Journal) Record(rec models.SyncRecord) error {
	if rec.SyncedAt.IsZero() {
		rec.SyncedAt = time.Now().UTC()
	}
	tx, err := j.conn.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ? AND doc_id <> ?`, rec.Path, rec.DocID); err != nil {
		return fmt.Errorf("journal: clear path: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO documents (doc_id, path, title, checksum, remote_updated, direction, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			path           = excluded.path,
			title          = excluded.title,
			checksum       = excluded.checksum,
			remote_updated = excluded.remote_updated,
			direction      = excluded.direction,
			synced_at      = excluded.synced_at
	`, rec.DocID, rec.Path, rec.Title, rec.Checksum, rec.RemoteUpdated.UTC(), rec.Direction, rec.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("journal: upsert: %w", err)
	}
	return tx.Commit()
}

const selectCols = `SELECT doc_id, path, title, checksum, remote_updated, direction, synced_at FROM documents`

// ByPath returns the record of the document stored at path.
func (j *Journal) ByPath(path string) (*models.SyncRecord, error) {
	row := j.conn.QueryRow(selectCols+` WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal: by path: %w", err)
	}
	return rec, nil
}

// All returns every record ordered by path.
func (j *Journal) All() ([]models.SyncRecord, error) {
	rows, err := j.conn.Query(selectCols + ` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.SyncRecord, error) {
	var (
		rec     models.SyncRecord
		updated sql.NullTime
	)
	if err := s.Scan(&rec.DocID, &rec.Path, &rec.Title, &rec.Checksum, &updated, &rec.Direction, &rec.SyncedAt); err != nil {
		return nil, err
	}
	if updated.Valid {
		rec.RemoteUpdated = updated.Time
	}
	return &rec, nil
}
