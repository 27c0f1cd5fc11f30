// Package store implements C2: the SQL store façade each Instance uses to
// talk to its own SQLite-compatible database file. It gives modules a
// small, stable surface — statement(text), bind(mapping, args...),
// query/extract(fields), and the request()/request_count() hit-counter
// helpers — instead of a raw *sql.DB, so a module can't reach past the
// façade into connection-pool or transaction internals it has no
// business touching.
//
// # Statement cache
//
// Statement keeps a cache of *sql.Stmt keyed by source text, the same
// source-text-as-key scheme the original used for its handle cache.
// database/sql already resets and rebinds a prepared statement on every
// Exec/Query call against a fresh argument list, so there is no separate
// "reset" step the way there was for the original's raw C API.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oriys/ircbotd/internal/metrics"
)

// Store is one instance's persistent SQL store: one SQLite-compatible
// file, a statement cache, and the three core tables every instance
// carries (REQUESTS, ACCESS, WHITELIST). Plugins may create further
// tables of their own through Exec.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Create opens (or creates) the SQLite-compatible database file at path
// and ensures the core schema exists.
func Create(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Each module binding's Jobs run one at a time on its own command
	// channel (C10), but the multiplexer and every binding's worker
	// goroutine touch the store, so keep the pool small rather than
	// disabling it.
	db.SetMaxOpenConns(4)

	s := &Store{db: db, path: path, stmts: make(map[string]*sql.Stmt)}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS REQUESTS (
			NAME TEXT PRIMARY KEY,
			COUNT INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ACCESS (
			CHANNEL TEXT NOT NULL,
			NAME TEXT NOT NULL,
			ACCESS INTEGER NOT NULL,
			PRIMARY KEY (CHANNEL, NAME)
		)`,
		`CREATE TABLE IF NOT EXISTS WHITELIST (
			NAME TEXT PRIMARY KEY,
			LIBC INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file path this Store was opened from.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle and any cached
// statements.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil
	s.mu.Unlock()
	return s.db.Close()
}

// Statement returns the prepared form of text, preparing and caching it
// on first use. Source text is the cache key, matching the original
// façade's scheme.
func (s *Store) Statement(text string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.stmts[text]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(text)
	if err != nil {
		return nil, fmt.Errorf("store: prepare: %w", err)
	}
	s.stmts[text] = stmt
	return stmt, nil
}

// Evict drops text from the statement cache, forcing it to be
// re-prepared on next use. Called when a step against the statement
// fails outright (spec's store-layer error handling: the statement is
// evicted and recreated rather than reused in a possibly-broken state).
func (s *Store) Evict(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stmt, ok := s.stmts[text]; ok {
		stmt.Close()
		delete(s.stmts, text)
	}
}

// Bind validates args against mapping, where mapping is a string of
// 's' (string), 'S' (managed string — identical to 's' in Go, where the
// garbage collector already owns string lifetime) and 'i' (integer)
// characters, one per argument, left to right. It returns args
// unchanged on success so callers can pass the result straight to
// Exec/Query.
func Bind(mapping string, args ...any) ([]any, error) {
	if len(mapping) != len(args) {
		return nil, fmt.Errorf("store: bind: mapping %q expects %d args, got %d", mapping, len(mapping), len(args))
	}
	for i, c := range mapping {
		switch c {
		case 's', 'S':
			if _, ok := args[i].(string); !ok {
				return nil, fmt.Errorf("store: bind: arg %d: mapping %q wants string, got %T", i, string(c), args[i])
			}
		case 'i':
			switch args[i].(type) {
			case int, int32, int64:
			default:
				return nil, fmt.Errorf("store: bind: arg %d: mapping %q wants integer, got %T", i, string(c), args[i])
			}
		default:
			return nil, fmt.Errorf("store: bind: unknown mapping character %q", string(c))
		}
	}
	return args, nil
}

// Exec runs text (a statement from the cache) against bound args.
func (s *Store) Exec(text, mapping string, args ...any) (sql.Result, error) {
	bound, err := Bind(mapping, args...)
	if err != nil {
		return nil, err
	}
	stmt, err := s.Statement(text)
	if err != nil {
		return nil, err
	}
	res, err := stmt.Exec(bound...)
	if err != nil {
		s.Evict(text)
		return nil, fmt.Errorf("store: exec: %w", err)
	}
	return res, nil
}

// Rows is a query's result set, ready for field-by-field extraction in
// left-to-right declaration order.
type Rows struct {
	rows *sql.Rows
}

// Query runs text against bound args and returns its result rows.
func (s *Store) Query(text, mapping string, args ...any) (*Rows, error) {
	bound, err := Bind(mapping, args...)
	if err != nil {
		return nil, err
	}
	stmt, err := s.Statement(text)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.Query(bound...)
	if err != nil {
		s.Evict(text)
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return &Rows{rows: rows}, nil
}

// Next advances to the next row, returning false when exhausted.
func (r *Rows) Next() bool { return r.rows.Next() }

// Close releases the underlying result set.
func (r *Rows) Close() error { return r.rows.Close() }

// Extract pops columns from the current row according to fields, where
// fields is a string of 's' (string column) and 'i' (integer column)
// characters in left-to-right declaration order, matching the bind
// mapping convention.
func (r *Rows) Extract(fields string) ([]any, error) {
	dest := make([]any, len(fields))
	for i, c := range fields {
		switch c {
		case 's':
			dest[i] = new(string)
		case 'i':
			dest[i] = new(int64)
		default:
			return nil, fmt.Errorf("store: extract: unknown field character %q", string(c))
		}
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("store: extract: %w", err)
	}

	out := make([]any, len(dest))
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			out[i] = *v
		case *int64:
			out[i] = *v
		}
	}
	return out, nil
}

// Request increments table's hit counter in REQUESTS and mirrors it into
// Prometheus, per SPEC_FULL.md's supplemented dual SQL+metrics counters.
func (s *Store) Request(table string) error {
	_, err := s.Exec(
		`INSERT INTO REQUESTS (NAME, COUNT) VALUES (?, 1)
		 ON CONFLICT(NAME) DO UPDATE SET COUNT = COUNT + 1`,
		"s", table,
	)
	if err != nil {
		return err
	}
	metrics.RecordRequestCounter(table)
	return nil
}

// RequestCount returns table's current hit count, 0 if never requested.
func (s *Store) RequestCount(table string) (int64, error) {
	rows, err := s.Query(`SELECT COUNT FROM REQUESTS WHERE NAME = ?`, "s", table)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, nil
	}
	vals, err := rows.Extract("i")
	if err != nil {
		return 0, err
	}
	return vals[0].(int64), nil
}
