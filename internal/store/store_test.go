package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a constructor for every Store implementation.
func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			return setupTestStore(t)
		},
		"files": func(t *testing.T) Store {
			t.Helper()
			fs, err := NewFileStore(filepath.Join(t.TempDir(), "scope"))
			require.NoError(t, err)
			t.Cleanup(func() { fs.Close() })
			return fs
		},
		"mock": func(t *testing.T) Store {
			return NewMockStore()
		},
	}
}

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func rec(key, kind, value string, seq int64) Record {
	return Record{
		Key:       key,
		Kind:      kind,
		Value:     json.RawMessage(value),
		Seq:       seq,
		UpdatedAt: time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
	}
}

func keysOf(recs []Record) []string {
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	return keys
}

func TestStore_PutReadDelete(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, rec("tag.env", "tag", `"prod"`, 1)))
			require.NoError(t, s.Put(ctx, rec("level", "level", `"error"`, 2)))
			require.NoError(t, s.Put(ctx, rec("tag.env", "tag", `"staging"`, 3)))

			recs, err := s.ReadAll(ctx)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, []string{"level", "tag.env"}, keysOf(recs))
			assert.JSONEq(t, `"staging"`, string(recs[1].Value))
			assert.Equal(t, int64(3), recs[1].Seq)
			assert.Equal(t, "tag", recs[1].Kind)
			assert.True(t, recs[1].UpdatedAt.Equal(time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)))

			require.NoError(t, s.Delete(ctx, "tag.env"))
			require.NoError(t, s.Delete(ctx, "never-existed"))

			recs, err = s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"level"}, keysOf(recs))
		})
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for i, key := range []string{"breadcrumb[0]", "breadcrumb[1]", "breadcrumb[10]", "breadcrumbs_other", "tag.a"} {
				require.NoError(t, s.Put(ctx, rec(key, "x", `1`, int64(i))))
			}

			require.NoError(t, s.DeletePrefix(ctx, "breadcrumb["))

			recs, err := s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"breadcrumbs_other", "tag.a"}, keysOf(recs))
		})
	}
}

func TestStore_Replace(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			require.NoError(t, s.Put(ctx, rec("tag.old", "tag", `"x"`, 1)))
			require.NoError(t, s.Put(ctx, rec("level", "level", `"info"`, 2)))

			require.NoError(t, s.Replace(ctx, []Record{
				rec("level", "level", `"fatal"`, 3),
				rec("transaction", "transaction", `"checkout"`, 4),
			}))

			recs, err := s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"level", "transaction"}, keysOf(recs))
			assert.JSONEq(t, `"fatal"`, string(recs[0].Value))
		})
	}
}

func TestStore_RejectsMalformedRecords(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			for _, bad := range []Record{
				rec("", "tag", `"x"`, 1),
				rec("tag.a", "", `"x"`, 1),
				rec("tag.a", "tag", `{not json`, 1),
			} {
				err := s.Put(ctx, bad)
				var perr *PersistError
				require.ErrorAs(t, err, &perr)
				assert.ErrorIs(t, err, ErrInvalidRecord)
				assert.True(t, Permanent(err))
			}

			recs, err := s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestStore_ConcurrentWritersKeepEveryFieldIntact(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for w := 0; w < 4; w++ {
				wg.Add(1)
				go func(worker int) {
					defer wg.Done()
					for i := 0; i < 25; i++ {
						key := "extra.shared"
						if i%2 == 0 {
							key = "extra.worker" + string(rune('a'+worker))
						}
						value, _ := json.Marshal(map[string]int{"worker": worker, "i": i})
						assert.NoError(t, s.Put(ctx, rec(key, "extra", string(value), int64(worker*100+i))))
					}
				}(w)
			}
			wg.Wait()

			recs, err := s.ReadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, recs, 5)
			for _, r := range recs {
				var decoded map[string]int
				require.NoError(t, json.Unmarshal(r.Value, &decoded), "field %s corrupted", r.Key)
				assert.Contains(t, decoded, "worker")
			}
		})
	}
}

func TestOpen_Drivers(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("", filepath.Join(dir, "default.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(DriverFiles, filepath.Join(dir, "files"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open("postgres", filepath.Join(dir, "nope"))
	assert.Error(t, err)
	assert.Nil(t, s)
}
