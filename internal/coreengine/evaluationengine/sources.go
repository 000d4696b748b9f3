package evaluationengine

import (
	"context"
	"fmt"

	"voice-order-eval-platform/backend/internal/datastore"
	"voice-order-eval-platform/backend/internal/objectstore"
)

// DatastoreSource backs ScenarioSource and PromptSource with the database.
type DatastoreSource struct{}

func (DatastoreSource) GetScenario(id string) (*datastore.Scenario, error) {
	return datastore.GetScenario(id)
}

func (DatastoreSource) ClearResults(scenarioID string) error {
	return datastore.ClearScenarioResults(scenarioID)
}

func (DatastoreSource) SaveStepModelResult(scenarioID, stepID, modelID string, res datastore.ModelExecutionResult) error {
	return datastore.SaveStepModelResult(scenarioID, stepID, modelID, res)
}

func (DatastoreSource) GetSystemPrompt() (string, error) {
	return datastore.GetSystemPrompt()
}

func (DatastoreSource) ListProducts() ([]*datastore.Product, error) {
	return datastore.ListProducts()
}

// MinioAudioSource fetches voice recordings from the shared object store.
type MinioAudioSource struct{}

func (MinioAudioSource) GetAudio(ctx context.Context, objectPath string) ([]byte, string, error) {
	client, err := objectstore.GetGlobalMinioClient()
	if err != nil {
		return nil, "", fmt.Errorf("object store unavailable: %w", err)
	}
	data, err := client.GetFileBytes(ctx, objectPath)
	if err != nil {
		return nil, "", err
	}
	return data, objectstore.AudioContentType(objectPath), nil
}
