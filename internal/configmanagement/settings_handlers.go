package configmanagement

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/datastore"
)

// SystemPromptRequest updates the default system prompt used by new
// scenarios and by scenarios without a prompt of their own.
type SystemPromptRequest struct {
	SystemPrompt string `json:"system_prompt"`
}

// GetSystemPromptHandler returns the effective default system prompt.
func GetSystemPromptHandler(c *gin.Context) {
	prompt, err := datastore.GetSystemPrompt()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get system prompt: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"system_prompt": prompt})
}

// UpdateSystemPromptHandler replaces the default system prompt.
func UpdateSystemPromptHandler(c *gin.Context) {
	var req SystemPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.SystemPrompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "System prompt cannot be empty"})
		return
	}

	if err := datastore.SetSystemPrompt(req.SystemPrompt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save system prompt: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"system_prompt": req.SystemPrompt})
}
