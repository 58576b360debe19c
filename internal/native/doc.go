// Package native implements the startup gate that decides whether the
// application scope is mirrored into crash-survivable storage.
//
// The gate is evaluated once, from config:
//
//	native.enabled && native.scope_sync
//
// When closed, Configure opens nothing and returns a nil *Sync, and scope
// mutations cause no store I/O at all. When open, it opens the configured
// store, builds a bridge sized to the scope's breadcrumb capacity and
// registers it:
//
//	sync, err := native.Configure(cfg, sc, logger)
//	if err != nil {
//	    return err
//	}
//	defer sync.Close()
package native
