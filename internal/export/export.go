// Package export writes a point-in-time snapshot of the symbol index to a
// sqlite database, for tools that want to query the workspace without
// running the indexer.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"phpscope/internal/extract"
	"phpscope/internal/search/symbols"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshot (
    root TEXT NOT NULL,
    index_version INTEGER NOT NULL,
    exported_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS symbols (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    start_col INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    end_col INTEGER NOT NULL,
    container TEXT,
    static INTEGER NOT NULL DEFAULT 0,
    type TEXT
);

CREATE INDEX IF NOT EXISTS idx_symbols_key ON symbols(key);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);

CREATE TABLE IF NOT EXISTS classes (
    fqn TEXT NOT NULL,
    name TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    line INTEGER NOT NULL,
    extends TEXT
);

CREATE INDEX IF NOT EXISTS idx_classes_fqn ON classes(fqn);
CREATE INDEX IF NOT EXISTS idx_classes_extends ON classes(extends);

CREATE TABLE IF NOT EXISTS implements (
    fqn TEXT NOT NULL,
    interface TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_implements_interface ON implements(interface);

CREATE TABLE IF NOT EXISTS signatures (
    key TEXT NOT NULL,
    label TEXT NOT NULL,
    return_type TEXT,
    params TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signatures_key ON signatures(key);

CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    keys INTEGER NOT NULL
);
`

// OpenDB opens or creates the snapshot database at the given path
func OpenDB(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A private in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == nil {
		if version > schemaVersion {
			return fmt.Errorf("snapshot schema %d is newer than supported %d", version, schemaVersion)
		}
		return nil
	}
	// Fresh database, or the table doesn't exist yet.
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// Summary reports what Write stored.
type Summary struct {
	Version    uint64 `json:"version"`
	Symbols    int    `json:"symbols"`
	Classes    int    `json:"classes"`
	Signatures int    `json:"signatures"`
	Files      int    `json:"files"`
}

// Write replaces the contents of db with the current state of idx, in one
// transaction.
func Write(ctx context.Context, db *sql.DB, idx *symbols.Index, root string) (Summary, error) {
	// Read everything first so the rows describe one index version.
	version := idx.Version()
	entries := idx.Entries()
	classes := idx.Classes()
	files := idx.Files()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"snapshot", "symbols", "classes", "implements", "signatures", "files"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return Summary{}, fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	sum := Summary{Version: version, Files: len(files)}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshot (root, index_version, exported_at) VALUES (?, ?, ?)",
		root, int64(version), time.Now().Unix()); err != nil {
		return Summary{}, fmt.Errorf("writing snapshot row: %w", err)
	}

	symStmt, err := tx.PrepareContext(ctx, `INSERT INTO symbols
		(key, name, kind, path, start_line, start_col, end_line, end_col, container, static, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Summary{}, fmt.Errorf("preparing symbol insert: %w", err)
	}
	defer symStmt.Close()

	keysPerFile := make(map[string]int)
	seenKeys := make(map[string]bool)
	var sigKeys []string
	for _, e := range entries {
		m := e.Meta
		r := m.Range
		if _, err := symStmt.ExecContext(ctx, e.Key, m.Name, string(m.Kind), m.File,
			r.Start.Line, r.Start.Column, r.End.Line, r.End.Column,
			nullable(m.ContainerFQN), m.Static, nullable(m.Type)); err != nil {
			return Summary{}, fmt.Errorf("inserting %s: %w", e.Key, err)
		}
		sum.Symbols++
		keysPerFile[m.File]++
		if !seenKeys[e.Key] && (m.Kind == extract.KindFunction || m.Kind == extract.KindMethod) {
			sigKeys = append(sigKeys, e.Key)
		}
		seenKeys[e.Key] = true
	}

	for _, c := range classes {
		if c.File == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO classes (fqn, name, kind, path, line, extends) VALUES (?, ?, ?, ?, ?, ?)",
			c.FQN, c.Name, string(c.Kind), c.File, c.Range.Start.Line, nullable(c.Extends)); err != nil {
			return Summary{}, fmt.Errorf("inserting class %s: %w", c.FQN, err)
		}
		for _, iface := range c.Implements {
			if _, err := tx.ExecContext(ctx, "INSERT INTO implements (fqn, interface) VALUES (?, ?)", c.FQN, iface); err != nil {
				return Summary{}, fmt.Errorf("inserting implements %s: %w", c.FQN, err)
			}
		}
		sum.Classes++
	}

	for _, key := range sigKeys {
		for _, sig := range idx.Signatures(key) {
			params, err := json.Marshal(sig.Params)
			if err != nil {
				return Summary{}, fmt.Errorf("encoding params of %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO signatures (key, label, return_type, params) VALUES (?, ?, ?, ?)",
				key, sig.Label, nullable(sig.ReturnType), string(params)); err != nil {
				return Summary{}, fmt.Errorf("inserting signature %s: %w", key, err)
			}
			sum.Signatures++
		}
	}

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, "INSERT INTO files (path, keys) VALUES (?, ?)", f, keysPerFile[f]); err != nil {
			return Summary{}, fmt.Errorf("inserting file %s: %w", f, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("committing snapshot: %w", err)
	}
	return sum, nil
}

// Lookup returns the declaration sites stored for key.
func Lookup(ctx context.Context, db *sql.DB, key string) ([]symbols.Location, error) {
	rows, err := db.QueryContext(ctx, `SELECT path, start_line, start_col, end_line, end_col
		FROM symbols WHERE key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", key, err)
	}
	defer rows.Close()

	var out []symbols.Location
	for rows.Next() {
		var loc symbols.Location
		r := &loc.Range
		if err := rows.Scan(&loc.File, &r.Start.Line, &r.Start.Column, &r.End.Line, &r.End.Column); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// Signatures returns the signatures stored for key.
func Signatures(ctx context.Context, db *sql.DB, key string) ([]extract.Signature, error) {
	rows, err := db.QueryContext(ctx, "SELECT label, return_type, params FROM signatures WHERE key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("querying signatures of %s: %w", key, err)
	}
	defer rows.Close()

	var out []extract.Signature
	for rows.Next() {
		var (
			sig    extract.Signature
			ret    sql.NullString
			params string
		)
		if err := rows.Scan(&sig.Label, &ret, &params); err != nil {
			return nil, err
		}
		sig.ReturnType = ret.String
		if err := json.Unmarshal([]byte(params), &sig.Params); err != nil {
			return nil, fmt.Errorf("decoding params of %s: %w", key, err)
		}
		_, member, _, ok := symbols.SplitMemberKey(key)
		if ok {
			sig.Name = member
		} else {
			sig.Name = key
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// Subtypes returns the classes stored as directly extending or implementing
// fqn.
func Subtypes(ctx context.Context, db *sql.DB, fqn string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT fqn FROM classes WHERE extends = ?
		UNION SELECT fqn FROM implements WHERE interface = ? ORDER BY 1`, fqn, fqn)
	if err != nil {
		return nil, fmt.Errorf("querying subtypes of %s: %w", fqn, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Version returns the index version the snapshot was taken at.
func Version(ctx context.Context, db *sql.DB) (uint64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "SELECT index_version FROM snapshot LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no snapshot written yet")
	}
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
