// Package store persists the latest value of every scope field where a
// native crash handler can read it after the Go process is gone.
//
// # Architecture
//
// Store is a current-state key/value interface: one Record per scope field,
// upserted or deleted in place. Reading never replays history, so the cost
// of ReadAll depends only on how many fields are set.
//
// Three implementations are provided:
//
//   - SQLiteStore: one row per field in a WAL-mode SQLite database
//   - FileStore: one file per field, written via temp file + rename
//   - MockStore: in-memory, with operation counters and write failure injection
//
// # Atomicity
//
// Every Put and Delete is committed on its own. For SQLite that is a single
// autocommit statement; for FileStore it is rename(2) over the previous file.
// A writer killed in the middle of a write leaves the previous committed value
// of that field (or nothing), never a truncated one, and never disturbs other
// fields. Readers take no lock held by the writer:
//
//   - SQLite readers see only committed WAL frames
//   - FileStore readers ignore hidden ".tmp-*" files and read "*.rec" files
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA synchronous=NORMAL;
//	PRAGMA busy_timeout=5000;
//
// Two drivers can back SQLiteStore: "sqlite" (modernc.org/sqlite, pure Go,
// the default) and "sqlite3" (github.com/mattn/go-sqlite3, requires cgo).
//
// # File Layout
//
// FileStore file names are the path-escaped record key plus ".rec", with
// uppercase letters percent-encoded too so that names never collide on a
// case-insensitive file system:
//
//	FORMAT
//	tag.release.rec
//	tag.%41pp%49d.rec
//	breadcrumb%5B3%5D.rec
//	context.device.rec
//
// Each file is a JSON object: {"format":1,"key":...,"kind":...,"value":...,
// "seq":...,"updated_at":...}.
//
// # Error Handling
//
// Write failures are returned as *PersistError. Records that fail validation
// wrap ErrInvalidRecord; Permanent reports failures that no retry can fix.
// ErrUnsupportedFormat is returned when opening a store written by a newer
// layout version.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests.
package store
