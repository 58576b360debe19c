// ABOUTME: SQLite implementation of the scope Store using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: WAL journal, one row per field, every write a single committed statement

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database file. Readers
// in other processes only ever see committed rows.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure
// Go driver. The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverSQLite, path)
}

// NewSQLiteStoreWithDriver is NewSQLiteStore with an explicit database/sql
// driver name, DriverSQLite or DriverSQLite3.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", driver)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: per-connection pragmas stick and writes are serialized.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.checkFormat(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite scope store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS scope_fields (
			key        TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			value      TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (key <> ''),
			CHECK (kind <> '')
		);

		CREATE INDEX IF NOT EXISTS idx_scope_fields_kind ON scope_fields(kind);

		CREATE TABLE IF NOT EXISTS store_meta (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO store_meta (name, value) VALUES ('format', ?)`,
		strconv.Itoa(FormatVersion))
	return err
}

// checkFormat refuses databases written by a newer layout.
func (s *SQLiteStore) checkFormat() error {
	var raw string
	if err := s.db.QueryRow(`SELECT value FROM store_meta WHERE name = 'format'`).Scan(&raw); err != nil {
		return fmt.Errorf("reading store format: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parsing store format %q: %w", raw, err)
	}
	if version > FormatVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrUnsupportedFormat, version, FormatVersion)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite scope store")
	return s.db.Close()
}

const upsertField = `
	INSERT INTO scope_fields (key, kind, value, seq, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		kind = excluded.kind,
		value = excluded.value,
		seq = excluded.seq,
		updated_at = excluded.updated_at
`

// Put upserts one field row.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}

	_, err := s.db.ExecContext(ctx, upsertField,
		rec.Key,
		rec.Kind,
		string(rec.Value),
		rec.Seq,
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}

	s.logger.Debug("put field", "key", rec.Key, "seq", rec.Seq)
	return nil
}

// Delete removes one field row.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scope_fields WHERE key = ?`, key); err != nil {
		return &PersistError{Op: "delete", Key: key, Err: err}
	}

	s.logger.Debug("deleted field", "key", key)
	return nil
}

// DeletePrefix removes every row whose key starts with prefix, in one statement.
func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) error {
	// substr avoids LIKE wildcard escaping; it counts characters, not bytes.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scope_fields WHERE substr(key, 1, ?) = ?`,
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return &PersistError{Op: "delete_prefix", Key: prefix, Err: err}
	}

	s.logger.Debug("deleted field family", "prefix", prefix)
	return nil
}

// Replace swaps the whole table contents in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistError{Op: "replace", Err: fmt.Errorf("beginning transaction: %w", err)}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM scope_fields`); err != nil {
		return &PersistError{Op: "replace", Err: err}
	}

	stmt, err := tx.PrepareContext(ctx, upsertField)
	if err != nil {
		return &PersistError{Op: "replace", Err: fmt.Errorf("preparing upsert: %w", err)}
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, rec.Key, rec.Kind, string(rec.Value), rec.Seq, formatTime(rec.UpdatedAt)); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistError{Op: "replace", Err: fmt.Errorf("committing: %w", err)}
	}

	s.logger.Debug("replaced scope fields", "count", len(recs))
	return nil
}

// ReadAll returns every field row ordered by key.
func (s *SQLiteStore) ReadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, kind, value, seq, updated_at
		FROM scope_fields
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying scope fields: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var value, updatedAtStr string

		if err := rows.Scan(&rec.Key, &rec.Kind, &value, &rec.Seq, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning scope field row: %w", err)
		}

		rec.Value = []byte(value)
		rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at for %q: %w", rec.Key, err)
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scope field rows: %w", err)
	}

	return recs, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}
