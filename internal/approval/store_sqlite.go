package approval

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the optional persistent Approval Cache backend.
// Rows are loaded only by their code_hash primary key, so a row grants
// an approval only for the exact hash it was saved under. Connection/WAL setup
// is adapted from agent-warden's internal/trace/sqlite.go, repurposed
// from trace storage to a single narrow approvals table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed
// approval store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS approvals (
			code_hash  TEXT PRIMARY KEY,
			scan_id    TEXT NOT NULL,
			source     TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(codeHash string) (CacheEntry, bool) {
	var scanID, source string
	var expiresAtUnix int64
	row := s.db.QueryRow(`SELECT scan_id, source, expires_at FROM approvals WHERE code_hash = ?`, codeHash)
	if err := row.Scan(&scanID, &source, &expiresAtUnix); err != nil {
		return CacheEntry{}, false
	}
	return CacheEntry{
		ScanID:    scanID,
		Source:    Source(source),
		ExpiresAt: time.Unix(expiresAtUnix, 0),
	}, true
}

// Save implements Store.
func (s *SQLiteStore) Save(codeHash string, entry CacheEntry) {
	_, _ = s.db.Exec(`
		INSERT INTO approvals (code_hash, scan_id, source, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code_hash) DO UPDATE SET
			scan_id = excluded.scan_id, source = excluded.source, expires_at = excluded.expires_at`,
		codeHash, entry.ScanID, string(entry.Source), entry.ExpiresAt.Unix())
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
