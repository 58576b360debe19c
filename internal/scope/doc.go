// Package scope holds the application's current diagnostic scope and notifies
// observers of every change.
//
// # Overview
//
// A Scope carries the context that gets attached to the next crash report:
// tags, user, breadcrumbs, named contexts, extras, fingerprint, level and
// transaction name. The process owns one Scope for its lifetime:
//
//	sc := scope.New(scope.WithMaxBreadcrumbs(100), scope.WithLogger(logger))
//	sc.SetTag("release", "1.4.2")
//	sc.AddBreadcrumb(scope.Breadcrumb{Category: "nav", Message: "opened settings"})
//
// # Observers
//
// Observers implement one callback per mutation kind. Callbacks run
// synchronously on the mutating goroutine while the scope lock is held, so
// every observer sees mutations in exactly the order they were applied.
// An observer that returns an error or panics is logged as a DeliveryError;
// the remaining observers still run and the caller never sees the failure.
//
// # Values
//
// Contexts, extras and breadcrumb data use Value, a tagged union of null,
// bool, number, string, list and map. ValueOf converts plain Go values.
//
// # Errors
//
// Setters return a *ValueError matching ErrInvalidValue when given
// structurally malformed input (empty keys, non-map contexts, non-finite
// numbers, out of range levels). Nothing else is ever returned.
package scope
