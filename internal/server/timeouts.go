package server

import "time"

const (
	readTimeout       = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	// writeTimeout covers POST /admin/run, which holds the connection for a whole run.
	writeTimeout = 5 * time.Minute
	idleTimeout  = 60 * time.Second
)

// shutdownTimeout remains a var for tests to override.
var shutdownTimeout = 30 * time.Second
