// Package config handles configuration loading for scopesync.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The format follows the file extension: ".toml" is TOML,
// anything else is YAML. Defaults are applied before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SCOPESYNC_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/scopesync/config.yaml
//  3. ~/.config/scopesync/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	store:
//	  path: "${APP_STATE_DIR}/scope.db"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Native sync gate. The scope is mirrored into the store only when both
// switches are on:
//
//	native:
//	  enabled: true
//	  scope_sync: true
//
// Scope:
//
//	scope:
//	  max_breadcrumbs: 100   # 0 disables breadcrumbs
//
// Store:
//
//	store:
//	  driver: "sqlite"        # sqlite, sqlite3, files
//	  path: "/var/lib/app/scope.db"
//	  write_timeout: "2s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The same in TOML:
//
//	[native]
//	enabled = true
//	scope_sync = true
//
//	[store]
//	path = "/var/lib/app/scope.db"
//
// # Validation
//
// Load() validates:
//
//   - store.path is set when the sync gate is open
//   - store.driver is a known driver
//   - scope.max_breadcrumbs is not negative
//   - duration format validity
//   - logging level and format values
package config
