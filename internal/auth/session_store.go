package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sessions are held in memory only. A restart logs everyone out, which is
// acceptable for a single-admin tool.
var (
	mu       sync.Mutex
	sessions = map[string]time.Time{}
)

// newSession mints a session token valid for the configured TTL. Expired
// sessions are pruned on the way, so the map stays bounded by login count
// within one TTL window.
func newSession() string {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	for token, expiry := range sessions {
		if now.After(expiry) {
			delete(sessions, token)
		}
	}

	token := uuid.New().String()
	sessions[token] = now.Add(sessionTTL)
	return token
}

// validSession reports whether the token belongs to a live session.
func validSession(token string) bool {
	if token == "" {
		return false
	}
	mu.Lock()
	defer mu.Unlock()

	expiry, ok := sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(sessions, token)
		return false
	}
	return true
}

// revokeSession ends a session. Unknown tokens are a no-op.
func revokeSession(token string) {
	mu.Lock()
	defer mu.Unlock()
	delete(sessions, token)
}
