package auth

import "time"

var (
	adminUsername string
	adminPassword string
	sessionTTL    = time.Hour
)

// Configure installs the admin credentials and session lifetime. Call once at
// startup before the router starts serving.
func Configure(username, password string, ttl time.Duration) {
	adminUsername = username
	adminPassword = password
	if ttl > 0 {
		sessionTTL = ttl
	}
}
