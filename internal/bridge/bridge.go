// ABOUTME: Scope observer that writes every mutation through to the durable store
// ABOUTME: Failed writes are logged and parked per field; unrelated fields keep flowing

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

// DefaultWriteTimeout bounds a single store write.
const DefaultWriteTimeout = 2 * time.Second

// DefaultMaxAttempts is how often a parked write is tried before it is dropped.
const DefaultMaxAttempts = 8

// Session describes the process that owns the persisted scope.
type Session struct {
	ID             string    `json:"id"`
	Format         int       `json:"format"`
	StartedAt      time.Time `json:"started_at"`
	MaxBreadcrumbs int       `json:"max_breadcrumbs"`
}

type writeOp int

const (
	opPut writeOp = iota
	opDelete
	opDeletePrefix
	opReplace
)

func (o writeOp) String() string {
	switch o {
	case opPut:
		return "put"
	case opDelete:
		return "delete"
	case opDeletePrefix:
		return "delete_prefix"
	case opReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// write is one store operation, kept so that it can be retried.
type write struct {
	op       writeOp
	key      string // record key, or the prefix for opDeletePrefix
	rec      store.Record
	recs     []store.Record
	attempts int
}

// supersedes reports whether w makes an older parked write p pointless.
func (w write) supersedes(p write) bool {
	switch w.op {
	case opReplace:
		return true
	case opDeletePrefix:
		return p.op != opReplace && strings.HasPrefix(p.key, w.key)
	default:
		return p.op != opReplace && p.op != opDeletePrefix && p.key == w.key
	}
}

// conflicts reports whether the order of w and p matters: they touch at
// least one common key.
func (w write) conflicts(p write) bool {
	switch {
	case w.op == opReplace || p.op == opReplace:
		return true
	case w.op == opDeletePrefix:
		return strings.HasPrefix(p.key, w.key) || (p.op == opDeletePrefix && strings.HasPrefix(w.key, p.key))
	case p.op == opDeletePrefix:
		return strings.HasPrefix(w.key, p.key)
	default:
		return w.key == p.key
	}
}

// Bridge mirrors a Scope into a store.Store. Register it with
// Scope.AddObserver; the registration performs a full sync and every later
// mutation becomes exactly one store write.
type Bridge struct {
	mu          sync.Mutex
	store       store.Store
	capacity    int
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	session     Session

	seq     int64
	pending []write
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithWriteTimeout bounds each store write. Zero or negative means DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithMaxAttempts sets how often a failing write is tried before it is
// dropped. Zero or negative means DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(b *Bridge) {
		if id != "" {
			b.session.ID = id
		}
	}
}

// New creates a bridge writing to st. capacity must equal MaxBreadcrumbs of
// the Scope it will observe: breadcrumb slots are derived from it, and an
// eviction is only folded into the append's write when both agree.
func New(st store.Store, capacity int, opts ...Option) *Bridge {
	if capacity < 0 {
		capacity = 0
	}
	b := &Bridge{
		store:       st,
		capacity:    capacity,
		timeout:     DefaultWriteTimeout,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.session.ID == "" {
		b.session.ID = uuid.NewString()
	}
	b.session.Format = store.FormatVersion
	b.session.StartedAt = b.now().UTC()
	b.session.MaxBreadcrumbs = capacity
	b.logger = b.logger.With("component", "bridge", "session", b.session.ID)
	return b
}

// Session returns the session record this bridge writes.
func (b *Bridge) Session() Session {
	return b.session
}

// Pending returns the number of parked writes.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush retries every parked write and returns the first failure.
func (b *Bridge) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.drainLocked(); err != nil {
		return fmt.Errorf("flushing parked writes (%d left): %w", len(b.pending), err)
	}
	return nil
}

// SyncScope replaces the whole store contents with snap.
func (b *Bridge) SyncScope(snap scope.Snapshot) error {
	recs, err := b.snapshotRecords(snap)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range recs {
		recs[i].Seq = b.nextSeqLocked()
	}
	b.submitLocked(write{op: opReplace, recs: recs})
	return nil
}

func (b *Bridge) SetTag(key, value string) error {
	return b.put(tagKey(key), KindTag, value)
}

func (b *Bridge) UnsetTag(key string) error {
	return b.delete(tagKey(key))
}

func (b *Bridge) SetUser(user *scope.User) error {
	if user == nil {
		return b.delete(KeyUser)
	}
	return b.put(KeyUser, KindUser, user)
}

// AddBreadcrumb writes crumb into its ring slot. The evicted breadcrumb
// lived in the same slot, so the single upsert also removes it.
func (b *Bridge) AddBreadcrumb(crumb scope.Breadcrumb, _ *scope.Breadcrumb) error {
	if b.capacity == 0 {
		return nil
	}
	return b.put(breadcrumbKey(crumb.Seq, b.capacity), KindBreadcrumb, crumb)
}

func (b *Bridge) ClearBreadcrumbs() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitLocked(write{op: opDeletePrefix, key: breadcrumbPrefix})
	return nil
}

func (b *Bridge) SetContext(key string, value scope.Value) error {
	return b.put(contextKey(key), KindContext, value)
}

func (b *Bridge) RemoveContext(key string) error {
	return b.delete(contextKey(key))
}

func (b *Bridge) SetExtra(key string, value scope.Value) error {
	return b.put(extraKey(key), KindExtra, value)
}

func (b *Bridge) RemoveExtra(key string) error {
	return b.delete(extraKey(key))
}

func (b *Bridge) SetFingerprint(fingerprint []string) error {
	if len(fingerprint) == 0 {
		return b.delete(KeyFingerprint)
	}
	return b.put(KeyFingerprint, KindFingerprint, fingerprint)
}

func (b *Bridge) SetLevel(level scope.Level) error {
	if level == scope.LevelNone {
		return b.delete(KeyLevel)
	}
	return b.put(KeyLevel, KindLevel, level)
}

func (b *Bridge) SetTransaction(name string) error {
	if name == "" {
		return b.delete(KeyTransaction)
	}
	return b.put(KeyTransaction, KindTransaction, name)
}

var (
	_ scope.Observer = (*Bridge)(nil)
	_ scope.Syncer   = (*Bridge)(nil)
)

// put encodes v and upserts it. Encoding errors are returned to the scope,
// which logs them as delivery failures; store errors never are.
func (b *Bridge) put(key, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.submitLocked(write{op: opPut, key: key, rec: store.Record{
		Key:       key,
		Kind:      kind,
		Value:     data,
		Seq:       b.nextSeqLocked(),
		UpdatedAt: b.now().UTC(),
	}})
	return nil
}

func (b *Bridge) delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitLocked(write{op: opDelete, key: key})
	return nil
}

func (b *Bridge) nextSeqLocked() int64 {
	b.seq++
	return b.seq
}

// submitLocked queues w behind the parked writes and drains the queue. A
// parked write only holds back later writes that conflict with it, so a
// field that keeps failing never stalls the others.
func (b *Bridge) submitLocked(w write) {
	kept := b.pending[:0]
	for _, p := range b.pending {
		if !w.supersedes(p) {
			kept = append(kept, p)
		}
	}
	b.pending = append(kept, w)
	_ = b.drainLocked()
}

// drainLocked tries every parked write in order and returns the first
// failure. A write waits while an earlier conflicting write is still parked.
// Writes that fail permanently or exhaust their attempts are dropped.
func (b *Bridge) drainLocked() error {
	var firstErr error
	var parked []write

	for _, w := range b.pending {
		if blocked(parked, w) {
			parked = append(parked, w)
			continue
		}

		err := b.apply(w)
		if err == nil {
			if w.attempts > 0 {
				b.logger.Info("parked write persisted", "op", w.op.String(), "key", w.key, "attempts", w.attempts+1)
			}
			continue
		}

		w.attempts++
		if firstErr == nil {
			firstErr = err
		}

		if store.Permanent(err) || w.attempts >= b.maxAttempts {
			b.logger.Error("dropping scope write",
				"op", w.op.String(),
				"key", w.key,
				"attempts", w.attempts,
				"permanent", store.Permanent(err),
				"error", err)
			continue
		}

		if w.attempts == 1 {
			b.logger.Warn("store persistence failed",
				"op", w.op.String(),
				"key", w.key,
				"error", err)
		} else {
			b.logger.Debug("parked write still failing",
				"op", w.op.String(),
				"key", w.key,
				"attempts", w.attempts,
				"error", err)
		}
		parked = append(parked, w)
	}

	b.pending = parked
	return firstErr
}

func blocked(parked []write, w write) bool {
	for _, p := range parked {
		if p.conflicts(w) {
			return true
		}
	}
	return false
}

func (b *Bridge) apply(w write) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	switch w.op {
	case opPut:
		return b.store.Put(ctx, w.rec)
	case opDelete:
		return b.store.Delete(ctx, w.key)
	case opDeletePrefix:
		return b.store.DeletePrefix(ctx, w.key)
	case opReplace:
		return b.store.Replace(ctx, w.recs)
	default:
		return fmt.Errorf("unknown write op %d", w.op)
	}
}

// snapshotRecords encodes every set field of snap plus the session record.
func (b *Bridge) snapshotRecords(snap scope.Snapshot) ([]store.Record, error) {
	now := b.now().UTC()
	var recs []store.Record
	add := func(key, kind string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		recs = append(recs, store.Record{Key: key, Kind: kind, Value: data, UpdatedAt: now})
		return nil
	}

	if err := add(KeySession, KindMeta, b.session); err != nil {
		return nil, err
	}
	for k, v := range snap.Tags {
		if err := add(tagKey(k), KindTag, v); err != nil {
			return nil, err
		}
	}
	if snap.User != nil {
		if err := add(KeyUser, KindUser, snap.User); err != nil {
			return nil, err
		}
	}
	if b.capacity > 0 {
		for _, crumb := range snap.Breadcrumbs {
			if err := add(breadcrumbKey(crumb.Seq, b.capacity), KindBreadcrumb, crumb); err != nil {
				return nil, err
			}
		}
	}
	for k, v := range snap.Contexts {
		if err := add(contextKey(k), KindContext, v); err != nil {
			return nil, err
		}
	}
	for k, v := range snap.Extras {
		if err := add(extraKey(k), KindExtra, v); err != nil {
			return nil, err
		}
	}
	if len(snap.Fingerprint) > 0 {
		if err := add(KeyFingerprint, KindFingerprint, snap.Fingerprint); err != nil {
			return nil, err
		}
	}
	if snap.Level != scope.LevelNone {
		if err := add(KeyLevel, KindLevel, snap.Level); err != nil {
			return nil, err
		}
	}
	if snap.Transaction != "" {
		if err := add(KeyTransaction, KindTransaction, snap.Transaction); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
