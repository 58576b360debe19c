// ABOUTME: Error kinds surfaced by the scope model and its observer dispatch
// ABOUTME: ValueError is returned to callers, DeliveryError is only ever logged

package scope

import (
	"errors"
	"fmt"
)

// ErrInvalidValue is matched by every structural validation failure of a setter.
var ErrInvalidValue = errors.New("invalid scope value")

// ValueError describes a malformed argument passed to a Scope setter.
type ValueError struct {
	Field  string // e.g. "tag", "context.device", "breadcrumb.data.count"
	Reason string
}

func (e *ValueError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scope: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidValue.
func (e *ValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

func invalid(field, format string, args ...any) *ValueError {
	return &ValueError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DeliveryError wraps a failure raised by a single observer callback.
// It is caught at the dispatch boundary and logged.
type DeliveryError struct {
	Op       string
	Observer string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("scope: observer %s failed on %s: %v", e.Observer, e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
