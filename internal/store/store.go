// Package store persists the inspection engine's entities in SQLite:
// documents, law orders and files, clauses, check points, rule results and
// judgment results.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store holds all repositories over one SQLite database with write-through
// semantics.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	upload_id    TEXT NOT NULL DEFAULT '',
	schema_id    INTEGER NOT NULL DEFAULT 0,
	interdoc     TEXT NOT NULL DEFAULT '',
	status       INTEGER NOT NULL DEFAULT 0,
	audit_status TEXT NOT NULL DEFAULT 'pending',
	created_at   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS law_orders (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	rank      INTEGER NOT NULL DEFAULT 0,
	template  INTEGER NOT NULL DEFAULT 0,
	status    INTEGER NOT NULL DEFAULT 0,
	scenarios TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS laws (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL,
	name     TEXT NOT NULL,
	hash     TEXT NOT NULL DEFAULT '',
	current  INTEGER NOT NULL DEFAULT 1,
	status   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS law_clauses (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id  INTEGER NOT NULL,
	law_id    INTEGER NOT NULL,
	content   TEXT NOT NULL,
	enabled   INTEGER NOT NULL DEFAULT 0,
	status    INTEGER NOT NULL DEFAULT 0,
	prompt    TEXT NOT NULL DEFAULT '',
	keywords  TEXT NOT NULL DEFAULT '[]',
	match_all INTEGER NOT NULL DEFAULT 0,
	scenarios TEXT NOT NULL DEFAULT '[]',
	deleted   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS check_points (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id         INTEGER NOT NULL,
	law_id           INTEGER NOT NULL,
	clause_id        INTEGER NOT NULL,
	rule_content     TEXT NOT NULL,
	name             TEXT NOT NULL,
	alias_name       TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	check_type       INTEGER NOT NULL DEFAULT 0,
	core             TEXT NOT NULL DEFAULT '',
	check_method     TEXT NOT NULL DEFAULT '',
	templates        TEXT NOT NULL DEFAULT '',
	review_status    INTEGER NOT NULL DEFAULT 1,
	enabled          INTEGER NOT NULL DEFAULT 0,
	parent_id        INTEGER NOT NULL DEFAULT 0,
	abandoned        INTEGER NOT NULL DEFAULT 0,
	abandoned_reason TEXT NOT NULL DEFAULT '',
	scenarios        TEXT NOT NULL DEFAULT '[]',
	deleted          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS results (
	fid         INTEGER NOT NULL,
	schema_id   INTEGER NOT NULL,
	answer_type INTEGER NOT NULL,
	position    INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	PRIMARY KEY (fid, schema_id, answer_type, position)
);

CREATE TABLE IF NOT EXISTS judgment_results (
	fid          INTEGER NOT NULL,
	cp_id        INTEGER NOT NULL,
	judge_status TEXT NOT NULL DEFAULT 'todo',
	payload      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (fid, cp_id)
);
`

func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func noRows(err error) bool {
	return err == sql.ErrNoRows
}
