package configmanagement

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/datastore"
	"voice-order-eval-platform/backend/internal/objectstore"
)

// TranscribeRequest carries optional hints for transcription.
type TranscribeRequest struct {
	Language string `json:"language"`
}

// TranscribeStepHandler re-runs transcription on a step's stored audio and
// saves the resulting text on the step.
func TranscribeStepHandler(c *gin.Context) {
	if transcriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transcription service is not configured"})
		return
	}

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
	if !step.HasVoiceFile() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Step has no audio file"})
		return
	}

	var req TranscribeRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	client, err := objectstore.GetGlobalMinioClient()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Object storage is not available: " + err.Error()})
		return
	}
	objectPath := step.VoiceFilePath.String
	audio, err := client.GetFileBytes(c.Request.Context(), objectPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch voice file: " + err.Error()})
		return
	}

	text, err := transcriber.Transcribe(c.Request.Context(), audio, objectstore.AudioContentType(objectPath), req.Language)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Transcription failed: " + err.Error()})
		return
	}

	if text != "" {
		if err := datastore.UpdateStep(scenarioID, stepID, step.StepNumber, nullable(text), step.GroundTruthCart); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save transcription: " + err.Error()})
			return
		}
	}

	updated, err := datastore.GetStep(scenarioID, stepID)
	if err != nil {
		updated = step
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Step transcribed successfully",
		"transcription": text,
		"step":          updated,
	})
}

// GenerateOrderHandler synthesizes a voice_text and ground-truth cart for a
// step from the product catalog and the preceding steps, then saves both on
// the step.
func GenerateOrderHandler(c *gin.Context) {
	if orderGenerator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Order generation service is not configured"})
		return
	}

	scenarioID := c.Param("id")
	stepID := c.Param("stepID")

	scenario, err := datastore.GetScenario(scenarioID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get scenario: " + err.Error()})
		}
		return
	}

	// Steps come back ordered by step number, so everything before the
	// target is its conversation history.
	var target *datastore.ScenarioStep
	var previous []datastore.ScenarioStep
	for i := range scenario.Steps {
		if scenario.Steps[i].ID == stepID {
			target = &scenario.Steps[i]
			break
		}
		previous = append(previous, scenario.Steps[i])
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Step not found"})
		return
	}

	products, err := datastore.ListProducts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load products: " + err.Error()})
		return
	}
	if len(products) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Product catalog is empty. Import products before generating orders."})
		return
	}

	generated, err := orderGenerator.GenerateOrder(c.Request.Context(), target.StepNumber, previous, products)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Order generation failed: " + err.Error()})
		return
	}

	if err := datastore.UpdateStep(scenarioID, stepID, target.StepNumber, nullable(generated.VoiceText), generated.Cart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save generated order: " + err.Error()})
		return
	}

	updated, err := datastore.GetScenario(scenarioID)
	if err != nil {
		updated = scenario
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       fmt.Sprintf("Generated transcription and %d cart items", len(generated.Cart)),
		"transcription": generated.VoiceText,
		"cart_items":    generated.Cart,
		"scenario":      updated,
	})
}
