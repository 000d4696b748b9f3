package modeladapters

import "strings"

// One adapter instance serves every model id of its family, so session
// history is keyed by scenario and model together.
func sessionKey(scenarioID, modelID string) string {
	return scenarioID + "|" + modelID
}

// dropScenarioSessions removes every session belonging to scenarioID across
// all model ids. Caller holds the adapter's mutex.
func dropScenarioSessions[V any](sessions map[string]V, scenarioID string) {
	prefix := scenarioID + "|"
	for key := range sessions {
		if strings.HasPrefix(key, prefix) {
			delete(sessions, key)
		}
	}
}
