// ABOUTME: Recording observers shared by the scope package tests
// ABOUTME: Captures every callback with its arguments in call order

package scope

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type call struct {
	Op      string
	Key     string
	Value   any
	Evicted *Breadcrumb
}

type recordingObserver struct {
	mu     sync.Mutex
	calls  []call
	synced *Snapshot
}

func (r *recordingObserver) record(c call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return nil
}

func (r *recordingObserver) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recordingObserver) Ops() []string {
	var ops []string
	for _, c := range r.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

func (r *recordingObserver) SetTag(key, value string) error {
	return r.record(call{Op: "SetTag", Key: key, Value: value})
}

func (r *recordingObserver) UnsetTag(key string) error {
	return r.record(call{Op: "UnsetTag", Key: key})
}

func (r *recordingObserver) SetUser(user *User) error {
	return r.record(call{Op: "SetUser", Value: user})
}

func (r *recordingObserver) AddBreadcrumb(crumb Breadcrumb, evicted *Breadcrumb) error {
	return r.record(call{Op: "AddBreadcrumb", Value: crumb, Evicted: evicted})
}

func (r *recordingObserver) ClearBreadcrumbs() error {
	return r.record(call{Op: "ClearBreadcrumbs"})
}

func (r *recordingObserver) SetContext(key string, value Value) error {
	return r.record(call{Op: "SetContext", Key: key, Value: value})
}

func (r *recordingObserver) RemoveContext(key string) error {
	return r.record(call{Op: "RemoveContext", Key: key})
}

func (r *recordingObserver) SetExtra(key string, value Value) error {
	return r.record(call{Op: "SetExtra", Key: key, Value: value})
}

func (r *recordingObserver) RemoveExtra(key string) error {
	return r.record(call{Op: "RemoveExtra", Key: key})
}

func (r *recordingObserver) SetFingerprint(fingerprint []string) error {
	return r.record(call{Op: "SetFingerprint", Value: fingerprint})
}

func (r *recordingObserver) SetLevel(level Level) error {
	return r.record(call{Op: "SetLevel", Value: level})
}

func (r *recordingObserver) SetTransaction(name string) error {
	return r.record(call{Op: "SetTransaction", Value: name})
}

// syncingObserver additionally records the registration snapshot.
type syncingObserver struct {
	recordingObserver
}

func (s *syncingObserver) SyncScope(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = &snap
	return nil
}

// failingObserver fails SetTag by error or by panic.
type failingObserver struct {
	NoopObserver
	panics bool
}

func (f *failingObserver) SetTag(key, value string) error {
	if f.panics {
		panic(fmt.Sprintf("boom on %s", key))
	}
	return errors.New("tag sink unavailable")
}

// logBuffer is a goroutine-safe text log sink for asserting logged failures.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *logBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *logBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func (l *logBuffer) Contains(s string) bool {
	return strings.Contains(l.String(), s)
}

func newTestLogger() (*slog.Logger, *logBuffer) {
	lb := &logBuffer{}
	return slog.New(slog.NewTextHandler(lb, &slog.HandlerOptions{Level: slog.LevelDebug})), lb
}
