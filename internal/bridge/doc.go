// Package bridge keeps a durable copy of the scope for the native crash
// handler.
//
// A Bridge is a scope.Observer. Each callback turns into exactly one store
// write, performed before the mutating call returns:
//
//	tag.<name>        SetTag / UnsetTag
//	user              SetUser (nil deletes)
//	breadcrumb[<n>]   AddBreadcrumb, n = Seq mod capacity
//	context.<name>    SetContext / RemoveContext
//	extra.<name>      SetExtra / RemoveExtra
//	fingerprint       SetFingerprint (empty deletes)
//	level             SetLevel (LevelNone deletes)
//	transaction       SetTransaction (empty deletes)
//	meta.session      written by SyncScope
//
// ClearBreadcrumbs is a single prefix delete and SyncScope a single Replace.
//
// Store failures are logged and the write is parked. Parked writes are
// retried on every later write and on Flush; a new write waits only behind a
// parked write touching the same key, so one failing field never stalls the
// rest. A newer write to the same field drops the parked one. Writes that
// fail permanently or keep failing are dropped with an error log.
//
// ReadReport is the reader side: it rebuilds a scope.Snapshot from one
// ReadAll and reports records it could not decode instead of failing.
package bridge
