package configmanagement

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/datastore"
)

// CreateScenarioRequest creates a scenario preloaded with empty steps.
type CreateScenarioRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	NumSteps    int    `json:"num_steps"`
}

// UpdateScenarioRequest updates scenario metadata. Absent fields are left
// unchanged.
type UpdateScenarioRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	SystemPrompt *string `json:"system_prompt"`
}

// CreateStepRequest appends a step to a scenario.
type CreateStepRequest struct {
	StepNumber      int                  `json:"step_number" binding:"required,min=1"`
	GroundTruthCart []datastore.CartItem `json:"ground_truth_cart"`
}

// UpdateStepRequest edits a step. Absent fields are left unchanged; a non-nil
// ground_truth_cart replaces the whole cart.
type UpdateStepRequest struct {
	StepNumber      *int                 `json:"step_number"`
	VoiceText       *string              `json:"voice_text"`
	GroundTruthCart []datastore.CartItem `json:"ground_truth_cart"`
}

// CreateScenarioHandler creates a scenario with the requested number of empty
// steps, seeded with the current default system prompt.
func CreateScenarioHandler(c *gin.Context) {
	var req CreateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	if req.NumSteps < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "num_steps cannot be negative"})
		return
	}

	prompt, err := datastore.GetSystemPrompt()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load default system prompt: " + err.Error()})
		return
	}

	scenario := &datastore.Scenario{
		Name:         req.Name,
		Description:  nullable(req.Description),
		SystemPrompt: nullable(prompt),
	}
	for i := 0; i < req.NumSteps; i++ {
		scenario.Steps = append(scenario.Steps, datastore.ScenarioStep{
			StepNumber:      i + 1,
			GroundTruthCart: []datastore.CartItem{},
			ModelResults:    map[string]datastore.ModelExecutionResult{},
		})
	}

	if _, err := datastore.CreateScenario(scenario); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create scenario: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scenario": scenario})
}

// ListScenariosHandler lists all scenarios with their steps.
func ListScenariosHandler(c *gin.Context) {
	scenarios, err := datastore.ListScenarios()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scenarios: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": scenarios, "total": len(scenarios)})
}

// GetScenarioHandler retrieves one scenario.
func GetScenarioHandler(c *gin.Context) {
	scenario, err := datastore.GetScenario(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenario": scenario})
}

// UpdateScenarioHandler updates scenario metadata.
func UpdateScenarioHandler(c *gin.Context) {
	id := c.Param("id")
	var req UpdateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	scenario, err := datastore.GetScenario(id)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}

	if req.Name != nil && *req.Name != "" {
		scenario.Name = *req.Name
	}
	if req.Description != nil {
		scenario.Description = nullable(*req.Description)
	}
	if req.SystemPrompt != nil {
		scenario.SystemPrompt = nullable(*req.SystemPrompt)
	}

	if err := datastore.UpdateScenario(id, scenario.Name, scenario.Description, scenario.SystemPrompt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update scenario: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenario": scenario})
}

// DeleteScenarioHandler deletes a scenario and its steps, then releases voice
// objects no surviving step references.
func DeleteScenarioHandler(c *gin.Context) {
	id := c.Param("id")

	scenario, err := datastore.GetScenario(id)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}

	if err := datastore.DeleteScenario(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete scenario: " + err.Error()})
		}
		return
	}

	released := map[string]bool{}
	for _, step := range scenario.Steps {
		if step.HasVoiceFile() && !released[step.VoiceFilePath.String] {
			released[step.VoiceFilePath.String] = true
			releaseVoiceObject(c.Request.Context(), step.VoiceFilePath.String)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Scenario deleted successfully"})
}

// CloneScenarioHandler duplicates a scenario with all its steps. The clone
// gets fresh ids, keeps audio references and ground truth, and starts with no
// execution results. Replaced uploads are never garbage-collected, so shared
// audio references stay valid.
func CloneScenarioHandler(c *gin.Context) {
	original, err := datastore.GetScenario(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}

	name := c.Query("new_name")
	if name == "" {
		name = original.Name + " (Copy)"
	}

	clone := &datastore.Scenario{
		Name:         name,
		Description:  original.Description,
		SystemPrompt: original.SystemPrompt,
	}
	for _, step := range original.Steps {
		cart := make([]datastore.CartItem, len(step.GroundTruthCart))
		copy(cart, step.GroundTruthCart)
		clone.Steps = append(clone.Steps, datastore.ScenarioStep{
			StepNumber:      step.StepNumber,
			VoiceFilePath:   step.VoiceFilePath,
			VoiceText:       step.VoiceText,
			GroundTruthCart: cart,
			ModelResults:    map[string]datastore.ModelExecutionResult{},
		})
	}

	if _, err := datastore.CreateScenario(clone); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clone scenario: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scenario": clone})
}

// ClearResultsHandler wipes every step's stored model results.
func ClearResultsHandler(c *gin.Context) {
	id := c.Param("id")
	if _, err := datastore.GetScenario(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}
	if err := datastore.ClearScenarioResults(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear results: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Execution results cleared", "scenario_id": id})
}

// AddStepHandler appends a step to a scenario. Step numbers are unique within
// a scenario.
func AddStepHandler(c *gin.Context) {
	id := c.Param("id")
	var req CreateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	scenario, err := datastore.GetScenario(id)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}
	for _, step := range scenario.Steps {
		if step.StepNumber == req.StepNumber {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A step with step number %d already exists", req.StepNumber)})
			return
		}
	}

	cart := req.GroundTruthCart
	if cart == nil {
		cart = []datastore.CartItem{}
	}
	step := &datastore.ScenarioStep{
		ScenarioID:      id,
		StepNumber:      req.StepNumber,
		GroundTruthCart: cart,
		ModelResults:    map[string]datastore.ModelExecutionResult{},
	}
	if _, err := datastore.AddStep(step); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add step: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"step": step})
}

// UpdateStepHandler edits a step's number, reference transcript, or ground
// truth cart.
func UpdateStepHandler(c *gin.Context) {
	scenarioID := c.Param("id")
	stepID := c.Param("stepID")

	var req UpdateStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	step, err := datastore.GetStep(scenarioID, stepID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get step: " + err.Error()})
		}
		return
	}

	if req.StepNumber != nil && *req.StepNumber != step.StepNumber {
		if *req.StepNumber < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step_number must be positive"})
			return
		}
		scenario, err := datastore.GetScenario(scenarioID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
			return
		}
		for _, other := range scenario.Steps {
			if other.ID != stepID && other.StepNumber == *req.StepNumber {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("A step with step number %d already exists", *req.StepNumber)})
				return
			}
		}
		step.StepNumber = *req.StepNumber
	}
	if req.VoiceText != nil {
		step.VoiceText = nullable(*req.VoiceText)
	}
	if req.GroundTruthCart != nil {
		step.GroundTruthCart = req.GroundTruthCart
	}

	if err := datastore.UpdateStep(scenarioID, stepID, step.StepNumber, step.VoiceText, step.GroundTruthCart); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update step: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": step})
}

// DeleteStepHandler removes a step from a scenario and releases its voice
// object if nothing else references it.
func DeleteStepHandler(c *gin.Context) {
	scenarioID := c.Param("id")
	stepID := c.Param("stepID")

	step, err := datastore.GetStep(scenarioID, stepID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get step: " + err.Error()})
		}
		return
	}

	if err := datastore.DeleteStep(scenarioID, stepID); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete step: " + err.Error()})
		}
		return
	}
	if step.HasVoiceFile() {
		releaseVoiceObject(c.Request.Context(), step.VoiceFilePath.String)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Step deleted successfully"})
}
