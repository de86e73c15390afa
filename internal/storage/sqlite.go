// (C) 2025 GoodData Corporation
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	// sqlite driver, registered for database/sql.
	_ "github.com/mattn/go-sqlite3"

	"mockpilot/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	method     TEXT NOT NULL,
	url        TEXT NOT NULL,
	path       TEXT NOT NULL,
	query      TEXT,
	headers    TEXT,
	req_body   TEXT,
	req_id     TEXT,
	req_ts     INTEGER,
	status     INTEGER NOT NULL,
	resp_headers TEXT,
	resp_body  TEXT,
	resp_ts    INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_method_path ON entries (method, path);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries (created_at);
`

// SQLiteStore persists entries in one sqlite table with JSON-encoded
// query/header/body columns. Concurrency relies on the engine's own
// transaction semantics; write-ahead logging is enabled for concurrent read
// safety.
type SQLiteStore struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore creates a sqlite store at path. Call Init before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database, enables WAL, and creates the schema if absent.
func (s *SQLiteStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening sqlite database %s: %w", s.path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("creating sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// handle returns the open database or ErrClosed. Operations after Close
// must fail rather than silently reopen.
func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *SQLiteStore) Save(req types.RequestRecord, resp types.ResponseRecord) (*types.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	entry := &types.RecordedEntry{
		ID:        GenerateID(),
		Request:   req,
		Response:  resp,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err = db.Exec(
		`INSERT INTO entries
		 (id, method, url, path, query, headers, req_body, req_id, req_ts,
		  status, resp_headers, resp_body, resp_ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, req.Method, req.URL, req.Path,
		encodeJSON(req.Query), encodeJSON(req.Headers), encodeBody(req.Body),
		req.ID, req.Timestamp,
		resp.Status, encodeJSON(resp.Headers), encodeBody(resp.Body),
		resp.Timestamp, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting entry: %w", err)
	}
	return entry, nil
}

const entryColumns = `id, method, url, path, query, headers, req_body, req_id, req_ts,
	status, resp_headers, resp_body, resp_ts, created_at`

func (s *SQLiteStore) Find(req types.RequestRecord) (*types.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(
		`SELECT `+entryColumns+` FROM entries
		 WHERE method = ? AND path = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		req.Method, req.Path,
	)
	return scanEntry(row)
}

func (s *SQLiteStore) FindByID(id string) (*types.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

func (s *SQLiteStore) List() ([]*types.RecordedEntry, error) {
	return s.query(`SELECT ` + entryColumns + ` FROM entries ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) Delete(id string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	res, err := db.Exec(`DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) Clear() error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("clearing entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count() (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Search(method, pathGlob string) ([]*types.RecordedEntry, error) {
	// The glob is applied in Go so both backings share its semantics.
	entries, err := s.query(
		`SELECT `+entryColumns+` FROM entries WHERE (? = '' OR method = ?)
		 ORDER BY created_at DESC, id DESC`,
		method, method,
	)
	if err != nil {
		return nil, err
	}
	out := make([]*types.RecordedEntry, 0, len(entries))
	for _, e := range entries {
		if globMatch(pathGlob, e.Request.Path) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *SQLiteStore) Range(start, end int64) ([]*types.RecordedEntry, error) {
	return s.query(
		`SELECT `+entryColumns+` FROM entries WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at DESC, id DESC`,
		start, end,
	)
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) query(q string, args ...any) ([]*types.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	out := make([]*types.RecordedEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.RecordedEntry, error) {
	var (
		e           types.RecordedEntry
		query       sql.NullString
		headers     sql.NullString
		reqBody     sql.NullString
		reqID       sql.NullString
		reqTS       sql.NullInt64
		respHeaders sql.NullString
		respBody    sql.NullString
		respTS      sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &e.Request.Method, &e.Request.URL, &e.Request.Path,
		&query, &headers, &reqBody, &reqID, &reqTS,
		&e.Response.Status, &respHeaders, &respBody, &respTS, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entry: %w", err)
	}

	if err := decodeJSON(query, &e.Request.Query); err != nil {
		return nil, err
	}
	if err := decodeJSON(headers, &e.Request.Headers); err != nil {
		return nil, err
	}
	if err := decodeJSON(respHeaders, &e.Response.Headers); err != nil {
		return nil, err
	}
	e.Request.Body, err = decodeBody(reqBody)
	if err != nil {
		return nil, err
	}
	e.Response.Body, err = decodeBody(respBody)
	if err != nil {
		return nil, err
	}
	e.Request.ID = reqID.String
	e.Request.Timestamp = reqTS.Int64
	e.Response.Timestamp = respTS.Int64
	return &e, nil
}

// encodeJSON marshals m for a nullable text column; nil maps store as NULL.
func encodeJSON(m map[string]string) any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeJSON(col sql.NullString, dst *map[string]string) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decoding stored JSON column: %w", err)
	}
	return nil
}

// encodeBody stores an absent body as NULL, so absence survives the round
// trip distinctly from a JSON null.
func encodeBody(b *types.Body) any {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	return string(data)
}

func decodeBody(col sql.NullString) (*types.Body, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var b types.Body
	if err := json.Unmarshal([]byte(col.String), &b); err != nil {
		return nil, fmt.Errorf("decoding stored body: %w", err)
	}
	return &b, nil
}
