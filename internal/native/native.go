// ABOUTME: Sync gate deciding at startup whether the scope is mirrored to native storage
// ABOUTME: Owns the store and bridge for the process lifetime when the gate is open

package native

import (
	"fmt"
	"log/slog"

	"github.com/2389/scopesync/internal/bridge"
	"github.com/2389/scopesync/internal/config"
	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

// Opener opens the durable store for a driver and path.
type Opener func(driver, path string) (store.Store, error)

// Sync is an attached native bridge. The zero of *Sync (nil) means the gate
// was closed; its methods are safe to call.
type Sync struct {
	scope  *scope.Scope
	bridge *bridge.Bridge
	store  store.Store
	logger *slog.Logger
}

type options struct {
	open      Opener
	sessionID string
}

// Option configures Configure.
type Option func(*options)

// WithOpener replaces store.Open.
func WithOpener(open Opener) Option {
	return func(o *options) {
		if open != nil {
			o.open = open
		}
	}
}

// WithSessionID fixes the session id written to the store.
func WithSessionID(id string) Option {
	return func(o *options) {
		o.sessionID = id
	}
}

// Enabled reports whether the scope should be mirrored: native support and
// scope sync must both be switched on.
func Enabled(cfg *config.Config) bool {
	return cfg != nil && cfg.Native.Enabled && cfg.Native.ScopeSync
}

// Configure evaluates the gate once. When it is closed nothing is opened and
// a nil *Sync is returned. Otherwise the store is opened and a bridge is
// registered on sc, which writes the full current scope before returning.
func Configure(cfg *config.Config, sc *scope.Scope, logger *slog.Logger, opts ...Option) (*Sync, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "native")

	if !Enabled(cfg) {
		logger.Info("native scope sync disabled",
			"native_enabled", cfg != nil && cfg.Native.Enabled,
			"scope_sync", cfg != nil && cfg.Native.ScopeSync)
		return nil, nil
	}
	if sc == nil {
		return nil, fmt.Errorf("native scope sync: no scope to observe")
	}

	o := options{open: store.Open}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	st, err := o.open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening scope store: %w", err)
	}

	b := bridge.New(st, sc.MaxBreadcrumbs(),
		bridge.WithLogger(logger),
		bridge.WithWriteTimeout(cfg.Store.WriteTimeout),
		bridge.WithSessionID(o.sessionID),
	)
	sc.AddObserver(b)

	logger.Info("native scope sync enabled",
		"driver", cfg.Store.Driver,
		"path", cfg.Store.Path,
		"session", b.Session().ID,
		"max_breadcrumbs", sc.MaxBreadcrumbs())

	return &Sync{scope: sc, bridge: b, store: st, logger: logger}, nil
}

// Bridge returns the registered bridge, or nil when the gate was closed.
func (s *Sync) Bridge() *bridge.Bridge {
	if s == nil {
		return nil
	}
	return s.bridge
}

// Store returns the open store, or nil when the gate was closed.
func (s *Sync) Store() store.Store {
	if s == nil {
		return nil
	}
	return s.store
}

// Close detaches the bridge, retries parked writes and closes the store.
func (s *Sync) Close() error {
	if s == nil {
		return nil
	}

	s.scope.RemoveObserver(s.bridge)

	flushErr := s.bridge.Flush()
	if flushErr != nil {
		s.logger.Error("parked scope writes lost", "pending", s.bridge.Pending(), "error", flushErr)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing scope store: %w", err)
	}
	return flushErr
}
