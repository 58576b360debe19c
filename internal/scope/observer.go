// ABOUTME: Observer capability interface notified of every scope mutation
// ABOUTME: Dispatch isolates observers so one failure never reaches the caller or the others

package scope

import "fmt"

// Observer receives one callback per scope mutation, synchronously, on the
// goroutine that performed the mutation and while the scope's lock is held.
// Implementations must not call back into the Scope that notifies them.
//
// Returned errors and panics are caught by the Scope, logged and dropped.
type Observer interface {
	SetTag(key, value string) error
	UnsetTag(key string) error
	// SetUser receives nil when the user is cleared.
	SetUser(user *User) error
	// AddBreadcrumb receives the appended breadcrumb and, when the append
	// exceeded capacity, the breadcrumb that was evicted to make room.
	AddBreadcrumb(crumb Breadcrumb, evicted *Breadcrumb) error
	ClearBreadcrumbs() error
	SetContext(key string, value Value) error
	RemoveContext(key string) error
	SetExtra(key string, value Value) error
	RemoveExtra(key string) error
	SetFingerprint(fingerprint []string) error
	SetLevel(level Level) error
	SetTransaction(name string) error
}

// Syncer is implemented by observers that want the complete scope state at
// registration time. SyncScope is called under the scope lock before the
// observer is added, so no mutation falls between the sync and the first
// callback.
type Syncer interface {
	SyncScope(snapshot Snapshot) error
}

// NoopObserver ignores every callback. Embed it to implement a subset.
type NoopObserver struct{}

func (NoopObserver) SetTag(string, string) error { return nil }
func (NoopObserver) UnsetTag(string) error { return nil }
func (NoopObserver) SetUser(*User) error { return nil }
func (NoopObserver) AddBreadcrumb(Breadcrumb, *Breadcrumb) error { return nil }
func (NoopObserver) ClearBreadcrumbs() error { return nil }
func (NoopObserver) SetContext(string, Value) error { return nil }
func (NoopObserver) RemoveContext(string) error { return nil }
func (NoopObserver) SetExtra(string, Value) error { return nil }
func (NoopObserver) RemoveExtra(string) error { return nil }
func (NoopObserver) SetFingerprint([]string) error { return nil }
func (NoopObserver) SetLevel(Level) error { return nil }
func (NoopObserver) SetTransaction(string) error { return nil }

var _ Observer = NoopObserver{}

// notifyLocked delivers fn to every registered observer. Must be called with
// s.mu held for writing.
func (s *Scope) notifyLocked(op string, fn func(Observer) error) {
	for _, o := range s.observers {
		s.deliver(op, o, fn)
	}
}

// deliver runs one callback, converting errors and panics into logged
// DeliveryErrors.
func (s *Scope) deliver(op string, o Observer, fn func(Observer) error) {
	defer func() {
		if r := recover(); r != nil {
			derr := &DeliveryError{Op: op, Observer: observerName(o), Err: fmt.Errorf("panic: %v", r)}
			s.logger.Error("observer panicked",
				"op", op,
				"observer", derr.Observer,
				"error", derr)
		}
	}()

	if err := fn(o); err != nil {
		derr := &DeliveryError{Op: op, Observer: observerName(o), Err: err}
		s.logger.Warn("observer delivery failed",
			"op", op,
			"observer", derr.Observer,
			"error", derr)
	}
}

func observerName(o Observer) string {
	return fmt.Sprintf("%T", o)
}
