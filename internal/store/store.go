// ABOUTME: Store interface and record type for the crash-survivable scope store
// ABOUTME: One record per scope field, always holding that field's latest value

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// FormatVersion is the on-disk layout version written by this package.
const FormatVersion = 1

// Driver names accepted by Open.
const (
	DriverSQLite  = "sqlite"  // modernc.org/sqlite, pure Go
	DriverSQLite3 = "sqlite3" // github.com/mattn/go-sqlite3, cgo
	DriverFiles   = "files"
)

// ErrUnsupportedFormat is returned when a store was written by a newer format.
var ErrUnsupportedFormat = errors.New("unsupported store format")

// ErrInvalidRecord is wrapped by write errors for records that fail validation.
var ErrInvalidRecord = errors.New("invalid record")

// Record is the persisted form of a single scope field.
type Record struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Value     json.RawMessage `json:"value"`
	Seq       int64           `json:"seq"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store holds the latest value of every scope field in a form that survives
// process termination. Implementations commit each Put and Delete atomically,
// so a reader never observes a half-written record.
type Store interface {
	// Put inserts or replaces the record stored under rec.Key.
	Put(ctx context.Context, rec Record) error
	// Delete removes a record. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every record whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// Replace drops all records and writes recs in their place.
	Replace(ctx context.Context, recs []Record) error
	// ReadAll returns every current record, ordered by key.
	ReadAll(ctx context.Context) ([]Record, error)

	// Close releases any resources held by the store
	Close() error
}

// PersistError reports a write that could not be completed.
type PersistError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Key == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Open opens the store for driver at path. Parent directories are created.
// An empty driver means DriverSQLite.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverSQLite, DriverSQLite3:
		if driver == "" {
			driver = DriverSQLite
		}
		s, err := NewSQLiteStoreWithDriver(driver, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverFiles:
		s, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Permanent reports whether a failed write can never succeed on retry.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidRecord) || errors.Is(err, syscall.ENAMETOOLONG)
}

func validateRecord(rec Record) error {
	if rec.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidRecord)
	}
	if rec.Kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidRecord)
	}
	if !json.Valid(rec.Value) {
		return fmt.Errorf("%w: value is not valid JSON", ErrInvalidRecord)
	}
	return nil
}
