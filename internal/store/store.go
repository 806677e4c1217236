// Package store persists projects, requests and environments in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/restrun/internal/errdef"
)

var ErrNotFound = errors.New("not found")

const activeEnvironmentKey = "active_environment"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		base_url    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		position   INTEGER NOT NULL DEFAULT 0,
		name       TEXT NOT NULL DEFAULT '',
		method     TEXT NOT NULL DEFAULT 'GET',
		url        TEXT NOT NULL DEFAULT '',
		headers    TEXT,
		params     TEXT,
		body       TEXT,
		auth       TEXT,
		scripts    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS requests_project ON requests(project_id, position)`,
	`CREATE TABLE IF NOT EXISTS environments (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL UNIQUE,
		variables TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create data dir")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeStore, err, "open database")
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errdef.Wrap(errdef.CodeStore, err, "connect to database")
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errdef.Wrap(errdef.CodeStore, err, "apply schema")
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// stableID derives an id from a name so re-imported entities keep theirs.
func stableID(kind string, parts ...string) string {
	key := kind + ":" + strings.Join(parts, "/")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errdef.Wrap(errdef.CodeStore, ErrNotFound, format, args...)
	}
	return errdef.Wrap(errdef.CodeStore, err, format, args...)
}
