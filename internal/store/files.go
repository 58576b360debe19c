// ABOUTME: File-per-field implementation of the scope Store
// ABOUTME: Writes go to a hidden temp file that is fsynced and renamed over the target

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	recordExt    = ".rec"
	tempPrefix   = ".tmp-"
	formatMarker = "FORMAT"
)

// FileStore keeps every field in its own file inside a directory. Because a
// record only becomes visible through rename(2), a reader that simply opens
// and reads the files never sees a partially written field, even if the
// writer died mid-write. No lock is needed to read the directory.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// fileRecord is the self-describing on-disk form of a Record.
type fileRecord struct {
	Format int `json:"format"`
	Record
}

// NewFileStore opens (creating if needed) a file store rooted at dir. Temp
// files left behind by an interrupted write are removed.
func NewFileStore(dir string) (*FileStore, error) {
	logger := slog.Default().With("component", "store", "driver", DriverFiles)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	f := &FileStore{dir: dir, logger: logger}

	if err := f.checkFormat(); err != nil {
		return nil, err
	}

	removed, err := f.removeStaleTemps()
	if err != nil {
		return nil, fmt.Errorf("removing stale temp files: %w", err)
	}
	if removed > 0 {
		logger.Warn("removed interrupted writes", "count", removed)
	}

	logger.Info("file scope store initialized", "dir", dir)
	return f, nil
}

func (f *FileStore) checkFormat() error {
	path := filepath.Join(f.dir, formatMarker)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.writeAtomic(formatMarker, []byte(strconv.Itoa(FormatVersion)+"\n"))
	}
	if err != nil {
		return fmt.Errorf("reading store format: %w", err)
	}

	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing store format %q: %w", strings.TrimSpace(string(data)), err)
	}
	if version > FormatVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrUnsupportedFormat, version, FormatVersion)
	}
	return nil
}

func (f *FileStore) removeStaleTemps() (int, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			if err := os.Remove(filepath.Join(f.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op; every write is already durable when it returns.
func (f *FileStore) Close() error {
	f.logger.Info("closing file scope store")
	return nil
}

// Put writes one field file atomically.
func (f *FileStore) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}
	if err := validateRecord(rec); err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}

	data, err := encodeFileRecord(rec)
	if err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.writeAtomic(fileName(rec.Key), data); err != nil {
		return &PersistError{Op: "put", Key: rec.Key, Err: err}
	}

	f.logger.Debug("put field", "key", rec.Key, "seq", rec.Seq)
	return nil
}

// Delete removes one field file.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return &PersistError{Op: "delete", Key: key, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.remove(fileName(key)); err != nil {
		return &PersistError{Op: "delete", Key: key, Err: err}
	}

	f.logger.Debug("deleted field", "key", key)
	return nil
}

// DeletePrefix removes every field file whose key starts with prefix. Each
// removal is atomic on its own; a crash part way leaves a subset behind.
func (f *FileStore) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return &PersistError{Op: "delete_prefix", Key: prefix, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.files()
	if err != nil {
		return &PersistError{Op: "delete_prefix", Key: prefix, Err: err}
	}
	for _, rf := range files {
		if !strings.HasPrefix(rf.key, prefix) {
			continue
		}
		if err := f.remove(rf.name); err != nil {
			return &PersistError{Op: "delete_prefix", Key: rf.key, Err: err}
		}
	}

	f.logger.Debug("deleted field family", "prefix", prefix)
	return nil
}

// Replace removes every field file, then writes recs.
func (f *FileStore) Replace(ctx context.Context, recs []Record) error {
	encoded := make(map[string][]byte, len(recs))
	for _, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
		data, err := encodeFileRecord(rec)
		if err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
		encoded[rec.Key] = data
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	files, err := f.files()
	if err != nil {
		return &PersistError{Op: "replace", Err: err}
	}
	for _, rf := range files {
		if _, keep := encoded[rf.key]; keep && rf.name == fileName(rf.key) {
			continue
		}
		if err := f.remove(rf.name); err != nil {
			return &PersistError{Op: "replace", Key: rf.key, Err: err}
		}
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
		if err := f.writeAtomic(fileName(rec.Key), encoded[rec.Key]); err != nil {
			return &PersistError{Op: "replace", Key: rec.Key, Err: err}
		}
	}

	f.logger.Debug("replaced scope fields", "count", len(recs))
	return nil
}

// ReadAll reads every field file. Temp files are ignored and a file that
// fails to decode is skipped with a warning, so one bad record never hides
// the others.
func (f *FileStore) ReadAll(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing store directory: %w", err)
	}

	var recs []Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, ok := keyFromFileName(e.Name())
		if !ok || e.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue // removed since ReadDir
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		var fr fileRecord
		if err := json.Unmarshal(data, &fr); err != nil {
			f.logger.Warn("skipping undecodable record", "file", e.Name(), "error", err)
			continue
		}
		if fr.Format > FormatVersion {
			f.logger.Warn("skipping record from newer format", "file", e.Name(), "format", fr.Format)
			continue
		}
		if fr.Key == "" {
			fr.Key = key
		}
		recs = append(recs, fr.Record)
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Key < recs[j].Key })
	return recs, nil
}

type recordFile struct {
	key  string
	name string
}

// files lists every committed field file. Must be called with mu held.
func (f *FileStore) files() ([]recordFile, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var files []recordFile
	for _, e := range entries {
		if key, ok := keyFromFileName(e.Name()); ok && !e.IsDir() {
			files = append(files, recordFile{key: key, name: e.Name()})
		}
	}
	return files, nil
}

// writeAtomic writes data to a temp file in the store directory, fsyncs it
// and renames it over name.
func (f *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return cause
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("writing temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}

	f.syncDir()
	return nil
}

func (f *FileStore) remove(name string) error {
	err := os.Remove(filepath.Join(f.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	f.syncDir()
	return nil
}

// syncDir makes the last rename or unlink durable. Some platforms refuse to
// fsync a directory; that only weakens power-loss durability, not crash safety.
func (f *FileStore) syncDir() {
	d, err := os.Open(f.dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		f.logger.Debug("directory sync unsupported", "error", err)
	}
}

func encodeFileRecord(rec Record) ([]byte, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return json.Marshal(fileRecord{Format: FormatVersion, Record: rec})
}

// fileName maps a key to a single path element. Uppercase letters are
// percent-encoded as well, so keys differing only in case stay distinct on
// case-insensitive file systems.
func fileName(key string) string {
	escaped := url.PathEscape(key)

	var b strings.Builder
	b.Grow(len(escaped) + len(recordExt))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		switch {
		case c == '%' && i+2 < len(escaped):
			// Escape sequences already use uppercase hex.
			b.WriteString(escaped[i : i+3])
			i += 2
		case c >= 'A' && c <= 'Z':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString(recordExt)
	return b.String()
}

func keyFromFileName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
	if err != nil {
		return "", false
	}
	return key, true
}
