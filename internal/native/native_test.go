package native

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scopesync/internal/bridge"
	"github.com/2389/scopesync/internal/config"
	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

// countingOpener hands out one MockStore and counts how often it was asked.
type countingOpener struct {
	calls int
	store *store.MockStore
	err   error
}

func (c *countingOpener) open(driver, path string) (store.Store, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	c.store = store.NewMockStore()
	return c.store, nil
}

func gateConfig(enabled, scopeSync bool) *config.Config {
	cfg := config.Default("/unused/scope.db")
	cfg.Native = config.NativeConfig{Enabled: enabled, ScopeSync: scopeSync}
	return cfg
}

func exercise(t *testing.T, sc *scope.Scope) {
	t.Helper()
	require.NoError(t, sc.SetTag("a", "1"))
	require.NoError(t, sc.AddBreadcrumb(scope.Breadcrumb{Message: "m"}))
	require.NoError(t, sc.SetExtra("x", scope.Int(1)))
	sc.SetTransaction("t")
	sc.ClearBreadcrumbs()
}

func TestEnabled(t *testing.T) {
	tests := []struct {
		enabled, scopeSync, want bool
	}{
		{false, false, false},
		{false, true, false},
		{true, false, false},
		{true, true, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Enabled(gateConfig(tt.enabled, tt.scopeSync)), "enabled=%v scope_sync=%v", tt.enabled, tt.scopeSync)
	}
	assert.False(t, Enabled(nil))
}

func TestConfigure_GateClosedDoesNoStoreIO(t *testing.T) {
	for _, cfg := range []*config.Config{gateConfig(false, true), gateConfig(true, false), gateConfig(false, false)} {
		opener := &countingOpener{}
		sc := scope.New()

		sync, err := Configure(cfg, sc, nil, WithOpener(opener.open))
		require.NoError(t, err)
		assert.Nil(t, sync)
		assert.Nil(t, sync.Bridge())
		assert.Nil(t, sync.Store())

		exercise(t, sc)
		assert.NoError(t, sync.Close())
		assert.Equal(t, 0, opener.calls, "store must never be opened")
	}
}

func TestConfigure_GateOpenSyncsAndMirrors(t *testing.T) {
	opener := &countingOpener{}
	sc := scope.New(scope.WithMaxBreadcrumbs(7))
	require.NoError(t, sc.SetTag("before", "registration"))

	sync, err := Configure(gateConfig(true, true), sc, nil, WithOpener(opener.open), WithSessionID("sess-1"))
	require.NoError(t, err)
	require.NotNil(t, sync)
	assert.Equal(t, 1, opener.calls)
	assert.Equal(t, 7, sync.Bridge().Session().MaxBreadcrumbs)

	exercise(t, sc)

	report, err := bridge.ReadReport(context.Background(), opener.store)
	require.NoError(t, err)
	require.NotNil(t, report.Session)
	assert.Equal(t, "sess-1", report.Session.ID)
	assert.Equal(t, map[string]string{"before": "registration", "a": "1"}, report.Scope.Tags)
	assert.Equal(t, "t", report.Scope.Transaction)
	assert.Empty(t, report.Scope.Breadcrumbs)

	require.NoError(t, sync.Close())
	assert.True(t, opener.store.Closed())

	// Detached: no more writes after Close.
	ops := opener.store.Ops()
	require.NoError(t, sc.SetTag("after", "close"))
	assert.Equal(t, ops, opener.store.Ops())
}

func TestConfigure_OpenFailure(t *testing.T) {
	opener := &countingOpener{err: errors.New("permission denied")}
	sc := scope.New()

	sync, err := Configure(gateConfig(true, true), sc, nil, WithOpener(opener.open))
	assert.Nil(t, sync)
	assert.ErrorContains(t, err, "permission denied")

	// The scope still works without native sync.
	require.NoError(t, sc.SetTag("k", "v"))
	assert.Equal(t, "v", sc.Snapshot().Tags["k"])
}

func TestConfigure_NilScope(t *testing.T) {
	opener := &countingOpener{}
	_, err := Configure(gateConfig(true, true), nil, nil, WithOpener(opener.open))
	assert.Error(t, err)
	assert.Equal(t, 0, opener.calls)
}

func TestClose_ReportsLostParkedWrites(t *testing.T) {
	opener := &countingOpener{}
	sc := scope.New()

	sync, err := Configure(gateConfig(true, true), sc, nil, WithOpener(opener.open))
	require.NoError(t, err)

	opener.store.FailWrites(errors.New("read-only filesystem"))
	require.NoError(t, sc.SetTag("k", "v"))

	err = sync.Close()
	assert.ErrorContains(t, err, "read-only filesystem")
	assert.True(t, opener.store.Closed())
}

func TestConfigure_RealSQLiteStore(t *testing.T) {
	cfg := gateConfig(true, true)
	cfg.Store.Path = filepath.Join(t.TempDir(), "state", "scope.db")
	sc := scope.New(scope.WithMaxBreadcrumbs(3))

	sync, err := Configure(cfg, sc, nil)
	require.NoError(t, err)
	sc.SetUser(scope.User{ID: "u1"})
	require.NoError(t, sync.Close())

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()

	report, err := bridge.ReadReport(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, report.Scope.User)
	assert.Equal(t, "u1", report.Scope.User.ID)
}
