package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "reclock"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	// DefaultLockLeaseDuration is the window during which a lock stays
	// valid without a heartbeat. Callers cannot override it per request.
	DefaultLockLeaseDuration = 5 * time.Minute

	// DefaultSweepInterval controls the storage-hygiene pass that marks
	// lapsed rows inactive. Zero disables the sweeper; validity is lazy
	// at read time either way.
	DefaultSweepInterval = 1 * time.Minute

	DefaultRateLimitRequests = 120
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRequestSize = 64 * 1024 // 64KB; lock payloads are tiny

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)
