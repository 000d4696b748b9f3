package jobmanagement

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/coreengine/evaluationengine"
	"voice-order-eval-platform/backend/internal/datastore"
)

// BatchAddRequest is the payload for queueing scenarios for batch execution.
type BatchAddRequest struct {
	ScenarioIDs []string `json:"scenario_ids" binding:"required,min=1"`
}

// ReorderRequest is the payload for rearranging the batch queue.
type ReorderRequest struct {
	ScenarioIDs []string `json:"scenario_ids" binding:"required"`
}

// ExecutionHandlers exposes the execution service over HTTP.
type ExecutionHandlers struct {
	service *ExecutionService
}

func NewExecutionHandlers(service *ExecutionService) *ExecutionHandlers {
	return &ExecutionHandlers{service: service}
}

// RegisterScenarioRoutes attaches the per-scenario execution endpoints.
func (h *ExecutionHandlers) RegisterScenarioRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/execute", h.StartScenarioHandler)
	rg.POST("/:id/steps/:stepID/execute", h.StartStepHandler)
	rg.GET("/:id/execution-status", h.StatusHandler)
	rg.POST("/:id/cancel", h.CancelHandler)
	rg.GET("/:id/comparison", h.ComparisonHandler)
	rg.GET("/:id/execution-logs", h.LogsHandler)
	rg.DELETE("/:id/execution-logs", h.ClearLogsHandler)
}

// RegisterBatchRoutes attaches the batch queue endpoints.
func (h *ExecutionHandlers) RegisterBatchRoutes(rg *gin.RouterGroup) {
	rg.POST("/batch", h.BatchAddHandler)
	rg.POST("/batch/cancel", h.CancelAllHandler)
	rg.GET("/queue", h.QueueStatusHandler)
	rg.POST("/queue/reorder", h.ReorderHandler)
	rg.DELETE("/queue/:id", h.RemoveFromQueueHandler)
}

// StartScenarioHandler launches a full background execution of a scenario.
func (h *ExecutionHandlers) StartScenarioHandler(c *gin.Context) {
	resp, err := h.service.StartScenario(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, datastore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		case errors.Is(err, ErrNoAudioSteps):
			c.JSON(http.StatusBadRequest, gin.H{"error": "No steps have audio files. Please upload audio recordings before executing."})
		case errors.Is(err, ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Scenario execution already in progress"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start execution: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StartStepHandler re-runs a single step across all configured models.
func (h *ExecutionHandlers) StartStepHandler(c *gin.Context) {
	resp, err := h.service.StartStep(c.Param("id"), c.Param("stepID"))
	if err != nil {
		switch {
		case errors.Is(err, datastore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		case errors.Is(err, evaluationengine.ErrStepNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Step not found"})
		case errors.Is(err, evaluationengine.ErrStepHasNoAudio):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Step has no audio file"})
		case errors.Is(err, ErrAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Scenario execution already in progress"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start step execution: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// StatusHandler reports execution progress for polling. The scenario document
// rides along so clients can refresh step results in the same request.
func (h *ExecutionHandlers) StatusHandler(c *gin.Context) {
	scenarioID := c.Param("id")
	status, scenario, err := h.service.Status(scenarioID)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get execution status: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scenario_id":      scenarioID,
		"execution_status": status,
		"scenario":         scenario,
	})
}

// CancelHandler requests cancellation of a running execution. Cancelling a
// scenario that is not running is acknowledged, not an error.
func (h *ExecutionHandlers) CancelHandler(c *gin.Context) {
	resp, err := h.service.Cancel(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel execution: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ComparisonHandler returns the accuracy/cost/latency report across models.
func (h *ExecutionHandlers) ComparisonHandler(c *gin.Context) {
	comparison, err := h.service.Comparison(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build comparison: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, comparison)
}

// LogsHandler returns the newest execution log lines, 50 by default.
func (h *ExecutionHandlers) LogsHandler(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	resp, err := h.service.Logs(c.Param("id"), limit)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get execution logs: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ClearLogsHandler discards a scenario's execution log.
func (h *ExecutionHandlers) ClearLogsHandler(c *gin.Context) {
	if err := h.service.ClearLogs(c.Param("id")); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear execution logs: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Execution logs cleared", "scenario_id": c.Param("id")})
}

// BatchAddHandler queues scenarios for sequential execution. Individual ids
// that cannot be queued are reported as skipped rather than failing the batch.
func (h *ExecutionHandlers) BatchAddHandler(c *gin.Context) {
	var req BatchAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.service.BatchAdd(req.ScenarioIDs))
}

// QueueStatusHandler reports the batch queue and the running scenario.
func (h *ExecutionHandlers) QueueStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.QueueStatus())
}

// ReorderHandler replaces the queue ordering with the given permutation.
func (h *ExecutionHandlers) ReorderHandler(c *gin.Context) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	queue, err := h.service.ReorderQueue(req.ScenarioIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reorder list must contain exactly the queued scenario ids"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Queue reordered", "queue": queue})
}

// RemoveFromQueueHandler drops a waiting scenario from the queue.
func (h *ExecutionHandlers) RemoveFromQueueHandler(c *gin.Context) {
	scenarioID := c.Param("id")
	queueLength, err := h.service.RemoveFromQueue(scenarioID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scenario not in queue"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Scenario removed from queue",
		"scenario_id":  scenarioID,
		"queue_length": queueLength,
	})
}

// CancelAllHandler cancels the running execution and clears the queue.
func (h *ExecutionHandlers) CancelAllHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.CancelAll())
}
