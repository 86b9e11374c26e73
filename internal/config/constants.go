package config

import "time"

// DefaultPort is the default port for the project browser server
const DefaultPort = ":3000"

const (
	// DefaultCacheTTL bounds how long a catalog query result stays cached.
	DefaultCacheTTL = time.Hour

	// DefaultLockOwner is the marker written into the stage lock by this installer.
	DefaultLockOwner = "project_browser"

	// DefaultGCSchedule runs expired key/value garbage collection.
	DefaultGCSchedule = "@every 1h"

	// DefaultMinFreeDiskMB is the free space required on the staging volume.
	DefaultMinFreeDiskMB = 512

	// DefaultSessionKey is public and only fit for local development.
	DefaultSessionKey = "insecure-development-session-key-change-me"
)

// Cache backends
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendMemory = "memory"
)
