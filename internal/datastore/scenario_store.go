package datastore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const stepColumns = "id, scenario_id, step_number, voice_file_path, voice_text, ground_truth_cart, model_results, created_at, updated_at"

// CreateScenario inserts a scenario and its steps in one transaction and
// returns the scenario id. Missing scenario/step ids are generated.
func CreateScenario(s *Scenario) (string, error) {
	if DB == nil {
		return "", errors.New("database connection not initialized")
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	tx, err := DB.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO scenarios (id, name, description, system_prompt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Name, s.Description, s.SystemPrompt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create scenario: %w", err)
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.ScenarioID = s.ID
		step.CreatedAt = now
		step.UpdatedAt = now
		if err := insertStep(tx, step); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit scenario creation: %w", err)
	}
	return s.ID, nil
}

func insertStep(tx *sql.Tx, step *ScenarioStep) error {
	cartJSON, err := MarshalCartToJSON(step.GroundTruthCart)
	if err != nil {
		return fmt.Errorf("failed to marshal ground truth cart for step %d: %w", step.StepNumber, err)
	}
	resultsJSON, err := MarshalModelResultsToJSON(step.ModelResults)
	if err != nil {
		return fmt.Errorf("failed to marshal model results for step %d: %w", step.StepNumber, err)
	}

	_, err = tx.Exec(
		`INSERT INTO scenario_steps (id, scenario_id, step_number, voice_file_path, voice_text, ground_truth_cart, model_results, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		step.ID, step.ScenarioID, step.StepNumber, step.VoiceFilePath, step.VoiceText,
		[]byte(cartJSON), []byte(resultsJSON), step.CreatedAt, step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.StepNumber, err)
	}
	return nil
}

// GetScenario retrieves a scenario with its steps ordered by step_number.
func GetScenario(id string) (*Scenario, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	s := &Scenario{}
	err := DB.QueryRow(
		`SELECT id, name, description, system_prompt, created_at, updated_at FROM scenarios WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.SystemPrompt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}

	steps, err := getStepsForScenario(id)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return s, nil
}

func getStepsForScenario(scenarioID string) ([]ScenarioStep, error) {
	rows, err := DB.Query(
		`SELECT `+stepColumns+` FROM scenario_steps WHERE scenario_id = $1 ORDER BY step_number ASC`,
		scenarioID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps for scenario %s: %w", scenarioID, err)
	}
	defer rows.Close()

	steps := []ScenarioStep{}
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for steps: %w", err)
	}
	return steps, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStep(row rowScanner) (*ScenarioStep, error) {
	step := &ScenarioStep{}
	var cartJSON, resultsJSON []byte
	if err := row.Scan(
		&step.ID,
		&step.ScenarioID,
		&step.StepNumber,
		&step.VoiceFilePath,
		&step.VoiceText,
		&cartJSON,
		&resultsJSON,
		&step.CreatedAt,
		&step.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cart, err := UnmarshalJSONToCart(json.RawMessage(cartJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ground truth cart for step %s: %w", step.ID, err)
	}
	step.GroundTruthCart = cart

	results, err := UnmarshalJSONToModelResults(json.RawMessage(resultsJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode model results for step %s: %w", step.ID, err)
	}
	step.ModelResults = results
	return step, nil
}

// ListScenarios lists all scenarios with their steps, newest first.
func ListScenarios() ([]*Scenario, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	rows, err := DB.Query(`SELECT id, name, description, system_prompt, created_at, updated_at FROM scenarios ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	defer rows.Close()

	scenarios := []*Scenario{}
	for rows.Next() {
		s := &Scenario{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.SystemPrompt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		scenarios = append(scenarios, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for scenarios: %w", err)
	}

	for _, s := range scenarios {
		steps, err := getStepsForScenario(s.ID)
		if err != nil {
			return nil, err
		}
		s.Steps = steps
	}
	return scenarios, nil
}

// UpdateScenario updates the scenario's own fields. Steps are managed through
// the step functions.
func UpdateScenario(id string, name string, description, systemPrompt sql.NullString) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(
		`UPDATE scenarios SET name = $1, description = $2, system_prompt = $3, updated_at = $4 WHERE id = $5`,
		name, description, systemPrompt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update scenario %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteScenario deletes a scenario; its steps go with it via the foreign
// key cascade.
func DeleteScenario(id string) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(`DELETE FROM scenarios WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scenario %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearScenarioResults wipes every step's model results for a scenario.
func ClearScenarioResults(id string) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	_, err := DB.Exec(
		`UPDATE scenario_steps SET model_results = '{}', updated_at = $1 WHERE scenario_id = $2`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to clear results for scenario %s: %w", id, err)
	}
	return nil
}

// AddStep inserts one step into an existing scenario and returns the step id.
func AddStep(step *ScenarioStep) (string, error) {
	if DB == nil {
		return "", errors.New("database connection not initialized")
	}

	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	now := time.Now()
	step.CreatedAt = now
	step.UpdatedAt = now

	tx, err := DB.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertStep(tx, step); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit step insert: %w", err)
	}
	return step.ID, nil
}

// GetStep retrieves one step of a scenario.
func GetStep(scenarioID, stepID string) (*ScenarioStep, error) {
	if DB == nil {
		return nil, errors.New("database connection not initialized")
	}

	row := DB.QueryRow(
		`SELECT `+stepColumns+` FROM scenario_steps WHERE scenario_id = $1 AND id = $2`,
		scenarioID, stepID,
	)
	step, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("step %s of scenario %s: %w", stepID, scenarioID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// UpdateStep updates the editable step fields (step number, voice text,
// ground-truth cart). Voice file and model results have dedicated writers.
func UpdateStep(scenarioID, stepID string, stepNumber int, voiceText sql.NullString, groundTruthCart []CartItem) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	cartJSON, err := MarshalCartToJSON(groundTruthCart)
	if err != nil {
		return fmt.Errorf("failed to marshal ground truth cart: %w", err)
	}

	result, err := DB.Exec(
		`UPDATE scenario_steps SET step_number = $1, voice_text = $2, ground_truth_cart = $3, updated_at = $4
		 WHERE scenario_id = $5 AND id = $6`,
		stepNumber, voiceText, []byte(cartJSON), time.Now(), scenarioID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to update step %s: %w", stepID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("step %s of scenario %s: %w", stepID, scenarioID, ErrNotFound)
	}
	return nil
}

// DeleteStep removes one step from a scenario.
func DeleteStep(scenarioID, stepID string) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(`DELETE FROM scenario_steps WHERE scenario_id = $1 AND id = $2`, scenarioID, stepID)
	if err != nil {
		return fmt.Errorf("failed to delete step %s: %w", stepID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("step %s of scenario %s: %w", stepID, scenarioID, ErrNotFound)
	}
	return nil
}

// SetStepVoiceFile records the object-storage key of a step's uploaded audio.
// An invalid NullString clears the reference.
func SetStepVoiceFile(scenarioID, stepID string, voiceFilePath sql.NullString) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	result, err := DB.Exec(
		`UPDATE scenario_steps SET voice_file_path = $1, updated_at = $2 WHERE scenario_id = $3 AND id = $4`,
		voiceFilePath, time.Now(), scenarioID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to set voice file for step %s: %w", stepID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("step %s of scenario %s: %w", stepID, scenarioID, ErrNotFound)
	}
	return nil
}

// CountVoiceFileRefs reports how many steps reference a voice object. Cloned
// scenarios share uploaded objects, so deletion has to check for other holders.
func CountVoiceFileRefs(objectPath string) (int, error) {
	if DB == nil {
		return 0, errors.New("database connection not initialized")
	}

	var n int
	err := DB.QueryRow(`SELECT COUNT(*) FROM scenario_steps WHERE voice_file_path = $1`, objectPath).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count voice file references: %w", err)
	}
	return n, nil
}

// SaveStepModelResult merges one model's execution result into the step's
// model_results map. The read-modify-write runs in a transaction with the
// row locked so concurrent pollers never observe a half-written map.
func SaveStepModelResult(scenarioID, stepID, modelID string, res ModelExecutionResult) error {
	if DB == nil {
		return errors.New("database connection not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var resultsJSON []byte
	err = tx.QueryRow(
		`SELECT model_results FROM scenario_steps WHERE scenario_id = $1 AND id = $2 FOR UPDATE`,
		scenarioID, stepID,
	).Scan(&resultsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("step %s of scenario %s: %w", stepID, scenarioID, ErrNotFound)
		}
		return fmt.Errorf("failed to read model results for step %s: %w", stepID, err)
	}

	results, err := UnmarshalJSONToModelResults(json.RawMessage(resultsJSON))
	if err != nil {
		return fmt.Errorf("failed to decode model results for step %s: %w", stepID, err)
	}
	results[modelID] = res

	merged, err := MarshalModelResultsToJSON(results)
	if err != nil {
		return fmt.Errorf("failed to marshal model results for step %s: %w", stepID, err)
	}

	_, err = tx.Exec(
		`UPDATE scenario_steps SET model_results = $1, updated_at = $2 WHERE scenario_id = $3 AND id = $4`,
		[]byte(merged), time.Now(), scenarioID, stepID,
	)
	if err != nil {
		return fmt.Errorf("failed to save model result for step %s: %w", stepID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit model result for step %s: %w", stepID, err)
	}
	return nil
}
