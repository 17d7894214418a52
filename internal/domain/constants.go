package domain

import "time"

// Compiled defaults. All of them can be overridden via configuration.
const (
	// Timeout contracts
	RequestTimeout      = 15 * time.Second // Deadline for one authenticated request
	RefreshTimeout      = 10 * time.Second // Deadline for the single refresh call of a cycle
	HostWriteTimeout    = 5 * time.Second  // Deadline for one outbound host message
	RedisTimeout        = 2 * time.Second  // Max time for Redis operations
	StorageTimeout      = 2 * time.Second  // Max time for one persisted record read/write
	ShutdownHTTPTimeout = 10 * time.Second // Health server drain budget
	ShutdownOTELTimeout = 5 * time.Second  // OTEL flush budget

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second // Max time to drain on shutdown

	// Response limits
	MaxResponseBytes    = 1 << 20 // 1 MiB cap on a response body read by the coordinator
	MaxHostMessageBytes = 64 * 1024

	// Persisted session record
	StorageKeyAccessToken = "accessToken"
	StorageKeyInApp       = "inApp"
	SessionRecordTTL      = 24 * time.Hour // Redis records do not outlive a client session

	// Routes
	DefaultLoginPath   = "/login"
	DefaultRefreshPath = "/auth/refresh"
	DefaultVerifyPath  = "/auth/verify"
)

// DefaultPublicPaths are the routes reachable without a session.
var DefaultPublicPaths = []string{
	"/",
	"/login",
	"/verify",
	"/unauthorized",
}
