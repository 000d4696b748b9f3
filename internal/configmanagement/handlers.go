package configmanagement

import (
	"database/sql"

	"voice-order-eval-platform/backend/internal/coreengine/authoring"
)

// Authoring services are optional: the endpoints that need them answer 503
// until InitAuthoring provides configured clients.
var (
	transcriber    *authoring.Transcriber
	orderGenerator *authoring.OrderGenerator
	maxUploadBytes int64 = 50 << 20
)

// InitAuthoring wires the Gemini-backed authoring services into the handlers.
// Either service may be nil when no API key is configured.
func InitAuthoring(t *authoring.Transcriber, g *authoring.OrderGenerator) {
	transcriber = t
	orderGenerator = g
}

// SetMaxUploadMB caps voice-file uploads. Values below one keep the default.
func SetMaxUploadMB(mb int) {
	if mb >= 1 {
		maxUploadBytes = int64(mb) << 20
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
