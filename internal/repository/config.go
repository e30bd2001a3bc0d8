// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import "time"

// RepositoryConfig holds configuration for repository operations. All
// fields have sensible defaults, so this configuration is optional.
type RepositoryConfig struct {
	// MaxOpenConnections is the maximum number of open database
	// connections. Default: 4. Connect does not read it: the sqlite3
	// handle is always limited to one open connection.
	MaxOpenConnections int

	// MaxIdleConnections is the maximum number of idle database
	// connections. Default: 4.
	MaxIdleConnections int

	// ConnectionMaxLifetime is the maximum amount of time a connection
	// may be reused. Default: 1 hour.
	ConnectionMaxLifetime time.Duration

	// AuditLogPageSize bounds how many rows AUDIT_LOG_UPDATE carries,
	// per spec.md §4.7 ("last 20 audit rows"). Default: 20.
	AuditLogPageSize int
}

// DefaultConfig returns the default repository configuration.
func DefaultConfig() *RepositoryConfig {
	return &RepositoryConfig{
		MaxOpenConnections:    4,
		MaxIdleConnections:    4,
		ConnectionMaxLifetime: time.Hour,
		AuditLogPageSize:      20,
	}
}

var repoConfig = DefaultConfig()

// SetConfig overrides the package-level repository configuration. Must
// be called before Connect.
func SetConfig(cfg *RepositoryConfig) {
	if cfg != nil {
		repoConfig = cfg
	}
}

// GetConfig returns the current repository configuration.
func GetConfig() *RepositoryConfig {
	return repoConfig
}
