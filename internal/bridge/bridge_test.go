package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func clock() time.Time { return testNow }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// attach builds a scope of the given capacity mirrored into st.
func attach(t *testing.T, st store.Store, capacity int, opts ...Option) (*scope.Scope, *Bridge, *syncBuffer) {
	t.Helper()
	logger, logs := testLogger()
	sc := scope.New(scope.WithMaxBreadcrumbs(capacity), scope.WithClock(clock), scope.WithLogger(logger))
	b := New(st, capacity, append([]Option{WithLogger(logger), WithClock(clock)}, opts...)...)
	sc.AddObserver(b)
	return sc, b, logs
}

func readReport(t *testing.T, st Reader) *Report {
	t.Helper()
	report, err := ReadReport(context.Background(), st)
	require.NoError(t, err)
	return report
}

// assertSameScope compares two snapshots field by field, using Value.Equal
// for structured values.
func assertSameScope(t *testing.T, want, got scope.Snapshot) {
	t.Helper()

	assert.Equal(t, len(want.Tags), len(got.Tags), "tags")
	for k, v := range want.Tags {
		assert.Equal(t, v, got.Tags[k], "tag %s", k)
	}
	assert.Equal(t, want.User, got.User, "user")
	assert.Equal(t, want.Fingerprint, got.Fingerprint, "fingerprint")
	assert.Equal(t, want.Level, got.Level, "level")
	assert.Equal(t, want.Transaction, got.Transaction, "transaction")

	assertSameValues(t, "context", want.Contexts, got.Contexts)
	assertSameValues(t, "extra", want.Extras, got.Extras)

	require.Len(t, got.Breadcrumbs, len(want.Breadcrumbs), "breadcrumbs")
	for i := range want.Breadcrumbs {
		w, g := want.Breadcrumbs[i], got.Breadcrumbs[i]
		assert.Equal(t, w.Seq, g.Seq)
		assert.Equal(t, w.Message, g.Message)
		assert.Equal(t, w.Category, g.Category)
		assert.Equal(t, w.Level, g.Level)
		assert.True(t, w.Timestamp.Equal(g.Timestamp), "breadcrumb %d timestamp", i)
		assertSameValues(t, fmt.Sprintf("breadcrumb %d data", i), w.Data, g.Data)
	}
}

func assertSameValues(t *testing.T, what string, want, got map[string]scope.Value) {
	t.Helper()
	assert.Equal(t, len(want), len(got), what)
	for k, v := range want {
		g, ok := got[k]
		if assert.True(t, ok, "%s %s missing", what, k) {
			assert.True(t, v.Equal(g), "%s %s: want %v, got %v", what, k, v.Interface(), g.Interface())
		}
	}
}

func populate(t *testing.T, sc *scope.Scope) {
	t.Helper()
	require.NoError(t, sc.SetTag("release", "1.4.2"))
	require.NoError(t, sc.SetTag("env", "prod"))
	sc.UnsetTag("env")
	sc.SetUser(scope.User{ID: "42", Email: "a@example.com", Data: map[string]string{"plan": "pro"}})
	for i := 0; i < 5; i++ {
		require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{
			Category: "nav",
			Message:  fmt.Sprintf("step %d", i),
			Level:    scope.LevelInfo,
			Data:     map[string]scope.Value{"i": scope.Int(int64(i))},
		}))
	}
	require.NoError(t, sc.SetContext("device", scope.MustValue(map[string]any{"model": "x1", "ram": 8})))
	require.NoError(t, sc.SetExtra("cart", scope.MustValue([]any{"apple", 2, true, nil})))
	require.NoError(t, sc.SetExtra("gone", scope.String("soon")))
	sc.RemoveExtra("gone")
	sc.SetFingerprint([]string{"{{ default }}", "checkout"})
	require.NoError(t, sc.SetLevel(scope.LevelError))
	sc.SetTransaction("POST /checkout")
}

func TestBridge_RoundTrip(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "scope.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"files": func(t *testing.T) store.Store {
			s, err := store.NewFileStore(filepath.Join(t.TempDir(), "scope"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"mock": func(t *testing.T) store.Store { return store.NewMockStore() },
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			sc, b, _ := attach(t, st, 3)
			populate(t, sc)

			report := readReport(t, st)
			assert.Empty(t, report.Skipped)
			require.NotNil(t, report.Session)
			assert.Equal(t, b.Session().ID, report.Session.ID)
			assert.Equal(t, 3, report.Session.MaxBreadcrumbs)
			assert.Equal(t, store.FormatVersion, report.Session.Format)

			want := sc.Snapshot()
			require.Len(t, want.Breadcrumbs, 3)
			assertSameScope(t, want, report.Scope)
		})
	}
}

func TestBridge_OneStoreWritePerMutation(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 2)
	assert.Equal(t, 1, st.Ops(), "registration is a single replace")

	steps := []func(){
		func() { _ = sc.SetTag("a", "1") },
		func() { sc.UnsetTag("a") },
		func() { sc.SetUser(scope.User{ID: "u"}) },
		func() { sc.ClearUser() },
		func() { _ = sc.AddBreadcrumb(scope.Breadcrumb{Message: "1"}) },
		func() { _ = sc.AddBreadcrumb(scope.Breadcrumb{Message: "2"}) },
		func() { _ = sc.AddBreadcrumb(scope.Breadcrumb{Message: "3 evicts 1"}) },
		func() { sc.ClearBreadcrumbs() },
		func() { _ = sc.SetContext("os", scope.MustValue(map[string]any{"name": "linux"})) },
		func() { sc.RemoveContext("os") },
		func() { _ = sc.SetExtra("x", scope.Bool(true)) },
		func() { sc.RemoveExtra("x") },
		func() { sc.SetFingerprint([]string{"a"}) },
		func() { _ = sc.SetLevel(scope.LevelWarning) },
		func() { sc.SetTransaction("t") },
	}
	for i, step := range steps {
		before := st.Ops()
		step()
		assert.Equal(t, before+1, st.Ops(), "step %d", i)
	}
}

func TestBridge_EvictionReusesRingSlot(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 2)

	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: msg}))
	}

	recs, err := st.ReadAll(context.Background())
	require.NoError(t, err)
	var crumbKeys []string
	for _, r := range recs {
		if r.Kind == KindBreadcrumb {
			crumbKeys = append(crumbKeys, r.Key)
		}
	}
	assert.Equal(t, []string{"breadcrumb[0]", "breadcrumb[1]"}, crumbKeys)

	slot0, ok := st.Get("breadcrumb[0]")
	require.True(t, ok)
	var crumb scope.Breadcrumb
	require.NoError(t, json.Unmarshal(slot0.Value, &crumb))
	assert.Equal(t, "c", crumb.Message)
	assert.Equal(t, uint64(2), crumb.Seq)

	report := readReport(t, st)
	require.Len(t, report.Scope.Breadcrumbs, 2)
	assert.Equal(t, "b", report.Scope.Breadcrumbs[0].Message)
	assert.Equal(t, "c", report.Scope.Breadcrumbs[1].Message)
}

func TestBridge_ConcurrentAppendsKeepNewestBreadcrumbs(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 50)

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				assert.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: fmt.Sprintf("g%d-%d", g, i)}))
			}
		}(g)
	}
	wg.Wait()

	report := readReport(t, st)
	require.Len(t, report.Scope.Breadcrumbs, 50)
	for i, b := range report.Scope.Breadcrumbs {
		assert.Equal(t, uint64(150+i), b.Seq)
	}
	assertSameScope(t, sc.Snapshot(), report.Scope)
}

func TestBridge_ClearedFieldsAreDeleted(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 5)

	sc.SetUser(scope.User{ID: "1"})
	sc.SetFingerprint([]string{"fp"})
	require.NoError(t, sc.SetLevel(scope.LevelFatal))
	sc.SetTransaction("tx")

	sc.ClearUser()
	sc.SetFingerprint(nil)
	require.NoError(t, sc.SetLevel(scope.LevelNone))
	sc.SetTransaction("")

	for _, key := range []string{KeyUser, KeyFingerprint, KeyLevel, KeyTransaction} {
		_, ok := st.Get(key)
		assert.False(t, ok, "%s should be deleted", key)
	}
}

func TestBridge_SyncReplacesStaleContents(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, store.Record{Key: "tag.previous-run", Kind: KindTag, Value: json.RawMessage(`"old"`), Seq: 1}))

	sc := scope.New(scope.WithMaxBreadcrumbs(10))
	require.NoError(t, sc.SetTag("current", "yes"))
	sc.AddObserver(New(st, 10, WithClock(clock), WithSessionID("session-1")))

	_, ok := st.Get("tag.previous-run")
	assert.False(t, ok)

	report := readReport(t, st)
	assert.Equal(t, map[string]string{"current": "yes"}, report.Scope.Tags)
	require.NotNil(t, report.Session)
	assert.Equal(t, "session-1", report.Session.ID)
	assert.True(t, report.Session.StartedAt.Equal(testNow))
}

func TestBridge_RecordsCarryIncreasingSeq(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 5)

	require.NoError(t, sc.SetTag("a", "1"))
	require.NoError(t, sc.SetTag("b", "2"))
	require.NoError(t, sc.SetTag("a", "3"))

	a, _ := st.Get("tag.a")
	b, _ := st.Get("tag.b")
	assert.Greater(t, a.Seq, b.Seq)
	assert.True(t, a.UpdatedAt.Equal(testNow))
}

func TestBridge_FailedWritesAreParkedAndRetried(t *testing.T) {
	st := store.NewMockStore()
	sc, b, logs := attach(t, st, 5)

	st.FailWrites(errors.New("disk full"))
	require.NoError(t, sc.SetTag("a", "1"), "store failures never reach the caller")
	require.NoError(t, sc.SetTag("a", "2"))
	require.NoError(t, sc.SetTag("b", "x"))

	assert.Equal(t, 2, b.Pending(), "newer write to tag.a supersedes the parked one")
	assert.Contains(t, logs.String(), "store persistence failed")
	assert.Contains(t, logs.String(), "disk full")
	assert.Error(t, b.Flush())

	st.FailWrites(nil)
	require.NoError(t, sc.SetTag("c", "y"))
	assert.Equal(t, 0, b.Pending())

	report := readReport(t, st)
	assert.Equal(t, map[string]string{"a": "2", "b": "x", "c": "y"}, report.Scope.Tags)
}

func TestBridge_FlushPersistsParkedWrites(t *testing.T) {
	st := store.NewMockStore()
	sc, b, _ := attach(t, st, 5)

	st.FailWrites(errors.New("locked"))
	require.NoError(t, sc.SetLevel(scope.LevelWarning))
	sc.SetTransaction("checkout")
	sc.SetTransaction("")
	assert.Equal(t, 2, b.Pending())

	st.FailWrites(nil)
	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())

	report := readReport(t, st)
	assert.Equal(t, scope.LevelWarning, report.Scope.Level)
	assert.Empty(t, report.Scope.Transaction)
}

func TestBridge_ClearBreadcrumbsSupersedesParkedAppends(t *testing.T) {
	st := store.NewMockStore()
	sc, b, _ := attach(t, st, 5)

	st.FailWrites(errors.New("busy"))
	require.NoError(t, sc.SetTag("keep", "me"))
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "a"}))
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "b"}))
	sc.ClearBreadcrumbs()
	assert.Equal(t, 2, b.Pending())

	st.FailWrites(nil)
	require.NoError(t, b.Flush())
	report := readReport(t, st)
	assert.Empty(t, report.Scope.Breadcrumbs)
	assert.Equal(t, "me", report.Scope.Tags["keep"])
}

func TestBridge_ZeroCapacityWritesNoBreadcrumbs(t *testing.T) {
	st := store.NewMockStore()
	sc, _, _ := attach(t, st, 0)

	before := st.Ops()
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "dropped"}))
	assert.Equal(t, before, st.Ops())
}

// The native handler reads the file store while a write to another field
// was interrupted half way.
func TestBridge_ReportSurvivesInterruptedWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scope")
	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	defer st.Close()

	sc, _, _ := attach(t, st, 3)
	require.NoError(t, sc.SetTag("f", "intact"))
	require.NoError(t, sc.SetLevel(scope.LevelInfo))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-interrupted"), []byte(`{"format":1,"key":"level","val`), 0644))

	report := readReport(t, st)
	assert.Equal(t, "intact", report.Scope.Tags["f"])
	assert.Equal(t, scope.LevelInfo, report.Scope.Level)
	assert.Empty(t, report.Skipped)
}

// flakyStore fails selected writes on top of a MockStore while err is set.
type flakyStore struct {
	*store.MockStore
	failKey    string
	failPrefix bool
	err        error
}

func (f *flakyStore) Put(ctx context.Context, rec store.Record) error {
	if f.err != nil && rec.Key == f.failKey {
		return &store.PersistError{Op: "put", Key: rec.Key, Err: f.err}
	}
	return f.MockStore.Put(ctx, rec)
}

func (f *flakyStore) DeletePrefix(ctx context.Context, prefix string) error {
	if f.err != nil && f.failPrefix {
		return &store.PersistError{Op: "delete_prefix", Key: prefix, Err: f.err}
	}
	return f.MockStore.DeletePrefix(ctx, prefix)
}

func crumbMessages(crumbs []scope.Breadcrumb) []string {
	var out []string
	for _, c := range crumbs {
		out = append(out, c.Message)
	}
	return out
}

func TestBridge_UnwritableFieldDoesNotStallOtherFields(t *testing.T) {
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "scope"))
	require.NoError(t, err)
	defer st.Close()

	sc, b, logs := attach(t, st, 3)

	// The escaped file name is longer than any file system allows.
	require.NoError(t, sc.SetTag(strings.Repeat("k", 300), "v"))
	require.NoError(t, sc.SetTag("release", "1.4.2"))
	require.NoError(t, sc.SetLevel(scope.LevelWarning))
	sc.SetTransaction("checkout")

	assert.Equal(t, 0, b.Pending())
	assert.Contains(t, logs.String(), "dropping scope write")

	report := readReport(t, st)
	assert.Equal(t, map[string]string{"release": "1.4.2"}, report.Scope.Tags)
	assert.Equal(t, scope.LevelWarning, report.Scope.Level)
	assert.Equal(t, "checkout", report.Scope.Transaction)
}

func TestBridge_FailingKeyOnlyDelaysItself(t *testing.T) {
	st := &flakyStore{MockStore: store.NewMockStore(), failKey: "tag.flaky", err: errors.New("i/o error")}
	sc, b, logs := attach(t, st, 3, WithMaxAttempts(3))

	require.NoError(t, sc.SetTag("flaky", "x"))
	require.NoError(t, sc.SetTag("release", "1.4.2"))
	assert.Equal(t, 1, b.Pending())
	_, ok := st.Get("tag.release")
	assert.True(t, ok, "unrelated write must not wait for tag.flaky")

	// Third attempt on tag.flaky gives up.
	require.NoError(t, sc.SetLevel(scope.LevelError))
	assert.Equal(t, 0, b.Pending())
	assert.Contains(t, logs.String(), "dropping scope write")

	report := readReport(t, st)
	assert.Equal(t, map[string]string{"release": "1.4.2"}, report.Scope.Tags)
	assert.Equal(t, scope.LevelError, report.Scope.Level)
}

func TestBridge_PendingBoundedByFailingFields(t *testing.T) {
	st := &flakyStore{MockStore: store.NewMockStore(), failKey: "tag.flaky", err: errors.New("i/o error")}
	sc, b, _ := attach(t, st, 3)

	for i := 0; i < 20; i++ {
		require.NoError(t, sc.SetTag("flaky", fmt.Sprintf("v%d", i)))
		require.NoError(t, sc.SetTag(fmt.Sprintf("other%d", i), "ok"))
	}
	assert.Equal(t, 1, b.Pending())

	st.err = nil
	require.NoError(t, b.Flush())
	report := readReport(t, st)
	assert.Len(t, report.Scope.Tags, 21)
	assert.Equal(t, "v19", report.Scope.Tags["flaky"])
}

func TestBridge_ConflictingWritesWaitForParkedWrite(t *testing.T) {
	st := &flakyStore{MockStore: store.NewMockStore(), failPrefix: true}
	sc, b, _ := attach(t, st, 5)

	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "a"}))
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "b"}))

	st.err = errors.New("busy")
	sc.ClearBreadcrumbs()
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "c"}))
	require.NoError(t, sc.SetTag("after", "clear"))

	assert.Equal(t, 2, b.Pending(), "append waits behind the parked clear")
	report := readReport(t, st)
	assert.Equal(t, []string{"a", "b"}, crumbMessages(report.Scope.Breadcrumbs))
	assert.Equal(t, "clear", report.Scope.Tags["after"])

	st.err = nil
	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.Pending())

	report = readReport(t, st)
	assert.Equal(t, []string{"c"}, crumbMessages(report.Scope.Breadcrumbs))
}

func TestBridge_AppendIsOneWriteWhateverWasEvicted(t *testing.T) {
	st := store.NewMockStore()
	b := New(st, 5, WithClock(clock))

	before := st.Ops()
	require.NoError(t, b.AddBreadcrumb(scope.Breadcrumb{Seq: 7, Message: "new"}, &scope.Breadcrumb{Seq: 3}))
	assert.Equal(t, before+1, st.Ops())

	_, ok := st.Get("breadcrumb[2]")
	assert.True(t, ok)
}
