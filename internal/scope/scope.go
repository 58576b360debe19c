// ABOUTME: In-memory diagnostic scope owned by the application for its lifetime
// ABOUTME: Every mutation is applied and fanned out to observers under one lock

package scope

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultMaxBreadcrumbs is the breadcrumb capacity used when none is given.
const DefaultMaxBreadcrumbs = 100

// Scope is the current diagnostic context attached to future crash reports.
// A process normally owns exactly one, constructed at startup and passed by
// reference; Clone forks an isolated copy.
type Scope struct {
	mu          sync.RWMutex
	tags        map[string]string
	user        *User
	breadcrumbs *breadcrumbBuffer
	contexts    map[string]Value
	extras      map[string]Value
	fingerprint []string
	level       Level
	transaction string

	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Scope at construction.
type Option func(*Scope)

// WithMaxBreadcrumbs sets the breadcrumb capacity. Zero disables breadcrumbs;
// negative values are treated as zero.
func WithMaxBreadcrumbs(n int) Option {
	return func(s *Scope) {
		if n < 0 {
			n = 0
		}
		s.breadcrumbs = newBreadcrumbBuffer(n)
	}
}

// WithLogger sets the logger used for observer failures. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used to stamp breadcrumbs.
func WithClock(now func() time.Time) Option {
	return func(s *Scope) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Scope with no observers.
func New(opts ...Option) *Scope {
	s := &Scope{
		tags:        make(map[string]string),
		contexts:    make(map[string]Value),
		extras:      make(map[string]Value),
		breadcrumbs: newBreadcrumbBuffer(DefaultMaxBreadcrumbs),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "scope")
	return s
}

// MaxBreadcrumbs returns the breadcrumb capacity.
func (s *Scope) MaxBreadcrumbs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.breadcrumbs.max
}

// AddObserver registers o. Registering the same observer twice is a no-op.
// If o implements Syncer it first receives the current snapshot.
func (s *Scope) AddObserver(o Observer) {
	if o == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.observers, o) {
		return
	}

	if syncer, ok := o.(Syncer); ok {
		snap := s.snapshotLocked()
		s.deliver("SyncScope", o, func(Observer) error {
			return syncer.SyncScope(snap)
		})
	}

	s.observers = append(s.observers, o)
	s.logger.Debug("observer added", "observer", observerName(o), "count", len(s.observers))
}

// RemoveObserver unregisters o and reports whether it was registered.
func (s *Scope) RemoveObserver(o Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.Index(s.observers, o)
	if i < 0 {
		return false
	}
	s.observers = slices.Delete(s.observers, i, i+1)
	s.logger.Debug("observer removed", "observer", observerName(o), "count", len(s.observers))
	return true
}

// SetTag sets a tag. The key must not be empty.
func (s *Scope) SetTag(key, value string) error {
	if key == "" {
		return invalid("tag", "empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[key] = value
	s.notifyLocked("SetTag", func(o Observer) error { return o.SetTag(key, value) })
	return nil
}

// UnsetTag removes a tag. Observers are notified even if the tag was absent.
func (s *Scope) UnsetTag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tags, key)
	s.notifyLocked("UnsetTag", func(o Observer) error { return o.UnsetTag(key) })
}

// SetUser replaces the current user. The record is stored as given.
func (s *Scope) SetUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := user.clone()
	s.user = &stored
	s.notifyLocked("SetUser", func(o Observer) error {
		u := stored.clone()
		return o.SetUser(&u)
	})
}

// ClearUser removes the current user.
func (s *Scope) ClearUser() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	s.notifyLocked("SetUser", func(o Observer) error { return o.SetUser(nil) })
}

// AddBreadcrumb appends a breadcrumb, evicting the oldest one when the
// buffer is full. A zero Timestamp is replaced by the current time. With a
// capacity of zero the breadcrumb is dropped.
func (s *Scope) AddBreadcrumb(crumb Breadcrumb) error {
	if !crumb.Level.Valid() {
		return invalid("breadcrumb.level", "out of range %d", uint8(crumb.Level))
	}
	if err := validateMap("breadcrumb.data", crumb.Data); err != nil {
		return err
	}

	stored := crumb.clone()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.breadcrumbs.max == 0 {
		return nil
	}

	appended, evicted := s.breadcrumbs.push(stored)
	s.notifyLocked("AddBreadcrumb", func(o Observer) error {
		var ev *Breadcrumb
		if evicted != nil {
			c := evicted.clone()
			ev = &c
		}
		return o.AddBreadcrumb(appended.clone(), ev)
	})
	return nil
}

// ClearBreadcrumbs drops every breadcrumb.
func (s *Scope) ClearBreadcrumbs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.breadcrumbs.clear()
	s.notifyLocked("ClearBreadcrumbs", func(o Observer) error { return o.ClearBreadcrumbs() })
}

// SetContext sets a named sub-context such as "device" or "app". The value
// must be a map.
func (s *Scope) SetContext(key string, value Value) error {
	if key == "" {
		return invalid("context", "empty key")
	}
	if value.Kind() != KindMap {
		return invalid("context."+key, "expected map, got %s", value.Kind())
	}
	if err := value.validate("context." + key); err != nil {
		return err
	}

	stored := value.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.contexts[key] = stored
	s.notifyLocked("SetContext", func(o Observer) error { return o.SetContext(key, stored.Clone()) })
	return nil
}

// RemoveContext removes a named sub-context.
func (s *Scope) RemoveContext(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts, key)
	s.notifyLocked("RemoveContext", func(o Observer) error { return o.RemoveContext(key) })
}

// SetExtra sets an arbitrary extra value.
func (s *Scope) SetExtra(key string, value Value) error {
	if key == "" {
		return invalid("extra", "empty key")
	}
	if err := value.validate("extra." + key); err != nil {
		return err
	}

	stored := value.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.extras[key] = stored
	s.notifyLocked("SetExtra", func(o Observer) error { return o.SetExtra(key, stored.Clone()) })
	return nil
}

// RemoveExtra removes an extra value.
func (s *Scope) RemoveExtra(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.extras, key)
	s.notifyLocked("RemoveExtra", func(o Observer) error { return o.RemoveExtra(key) })
}

// SetFingerprint overrides event grouping. An empty fingerprint clears it.
func (s *Scope) SetFingerprint(fingerprint []string) {
	var stored []string
	if len(fingerprint) > 0 {
		stored = slices.Clone(fingerprint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fingerprint = stored
	s.notifyLocked("SetFingerprint", func(o Observer) error { return o.SetFingerprint(slices.Clone(stored)) })
}

// SetLevel sets the scope level. LevelNone clears it.
func (s *Scope) SetLevel(level Level) error {
	if !level.Valid() {
		return invalid("level", "out of range %d", uint8(level))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.level = level
	s.notifyLocked("SetLevel", func(o Observer) error { return o.SetLevel(level) })
	return nil
}

// SetTransaction names the current logical operation. An empty name clears it.
func (s *Scope) SetTransaction(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transaction = name
	s.notifyLocked("SetTransaction", func(o Observer) error { return o.SetTransaction(name) })
}

// Clear resets every field. Observers get one removal callback per field
// that was set.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range sortedKeys(s.tags) {
		delete(s.tags, key)
		s.notifyLocked("UnsetTag", func(o Observer) error { return o.UnsetTag(key) })
	}
	if s.user != nil {
		s.user = nil
		s.notifyLocked("SetUser", func(o Observer) error { return o.SetUser(nil) })
	}
	if s.breadcrumbs.len() > 0 {
		s.breadcrumbs.clear()
		s.notifyLocked("ClearBreadcrumbs", func(o Observer) error { return o.ClearBreadcrumbs() })
	}
	for _, key := range sortedKeys(s.contexts) {
		delete(s.contexts, key)
		s.notifyLocked("RemoveContext", func(o Observer) error { return o.RemoveContext(key) })
	}
	for _, key := range sortedKeys(s.extras) {
		delete(s.extras, key)
		s.notifyLocked("RemoveExtra", func(o Observer) error { return o.RemoveExtra(key) })
	}
	if len(s.fingerprint) > 0 {
		s.fingerprint = nil
		s.notifyLocked("SetFingerprint", func(o Observer) error { return o.SetFingerprint(nil) })
	}
	if s.level != LevelNone {
		s.level = LevelNone
		s.notifyLocked("SetLevel", func(o Observer) error { return o.SetLevel(LevelNone) })
	}
	if s.transaction != "" {
		s.transaction = ""
		s.notifyLocked("SetTransaction", func(o Observer) error { return o.SetTransaction("") })
	}
}

// Snapshot returns a deep copy of the current state. No observer is called.
func (s *Scope) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Scope) snapshotLocked() Snapshot {
	snap := Snapshot{
		Breadcrumbs: s.breadcrumbs.items(),
		Level:       s.level,
		Transaction: s.transaction,
	}
	if len(s.tags) > 0 {
		snap.Tags = make(map[string]string, len(s.tags))
		for k, v := range s.tags {
			snap.Tags[k] = v
		}
	}
	if s.user != nil {
		u := s.user.clone()
		snap.User = &u
	}
	if len(s.contexts) > 0 {
		snap.Contexts = cloneValues(s.contexts)
	}
	if len(s.extras) > 0 {
		snap.Extras = cloneValues(s.extras)
	}
	if len(s.fingerprint) > 0 {
		snap.Fingerprint = slices.Clone(s.fingerprint)
	}
	return snap
}

// Clone forks an isolated scope with the same state, capacity and logger but
// no observers. Breadcrumb sequence numbers continue from the parent's.
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshotLocked()
	c := &Scope{
		tags:        make(map[string]string, len(snap.Tags)),
		contexts:    make(map[string]Value, len(snap.Contexts)),
		extras:      make(map[string]Value, len(snap.Extras)),
		breadcrumbs: newBreadcrumbBuffer(s.breadcrumbs.max),
		user:        snap.User,
		fingerprint: snap.Fingerprint,
		level:       snap.Level,
		transaction: snap.Transaction,
		logger:      s.logger,
		now:         s.now,
	}
	for k, v := range snap.Tags {
		c.tags[k] = v
	}
	for k, v := range snap.Contexts {
		c.contexts[k] = v
	}
	for k, v := range snap.Extras {
		c.extras[k] = v
	}
	c.breadcrumbs.restore(snap.Breadcrumbs, s.breadcrumbs.nextSeq)
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
