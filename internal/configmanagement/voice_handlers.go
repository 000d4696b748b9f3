package configmanagement

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/datastore"
	"voice-order-eval-platform/backend/internal/objectstore"
)

// UploadVoiceHandler stores a step's audio recording in object storage and
// transcribes it inline when a transcriber is configured. Transcription
// failures do not fail the upload.
func UploadVoiceHandler(c *gin.Context) {
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

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds the maximum upload size"})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an audio file"})
		return
	}

	// The declared size is client-supplied; re-check while reading.
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file: " + err.Error()})
		return
	}
	if int64(len(data)) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File exceeds the maximum upload size"})
		return
	}

	client, err := objectstore.GetGlobalMinioClient()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Object storage is not available: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	objectName, err := client.UploadFile(ctx, header.Filename, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store voice file: " + err.Error()})
		return
	}

	// A replaced object is kept in storage: cloned scenarios may still
	// reference it.
	if err := datastore.SetStepVoiceFile(scenarioID, stepID, nullable(objectName)); err != nil {
		if delErr := client.DeleteFile(context.Background(), objectName); delErr != nil {
			slog.Warn("failed to remove orphaned voice object", "object", objectName, "error", delErr)
		}
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save voice file reference: " + err.Error()})
		}
		return
	}

	var transcription any
	if transcriber != nil {
		text, err := transcriber.Transcribe(ctx, data, contentType, "")
		if err != nil {
			slog.Error("voice transcription failed", "scenario", scenarioID, "step", stepID, "error", err)
		} else if text != "" {
			if err := datastore.UpdateStep(scenarioID, stepID, step.StepNumber, nullable(text), step.GroundTruthCart); err != nil {
				slog.Error("failed to save transcription", "scenario", scenarioID, "step", stepID, "error", err)
			} else {
				transcription = text
			}
		}
	}

	updated, err := datastore.GetStep(scenarioID, stepID)
	if err != nil {
		updated = step
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Voice file uploaded successfully",
		"file_path":     objectName,
		"transcription": transcription,
		"step":          updated,
	})
}

// DownloadVoiceHandler streams a step's audio recording.
func DownloadVoiceHandler(c *gin.Context) {
	step, err := datastore.GetStep(c.Param("id"), c.Param("stepID"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Scenario or step not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get step: " + err.Error()})
		}
		return
	}
	if !step.HasVoiceFile() {
		c.JSON(http.StatusNotFound, gin.H{"error": "Step has no voice file"})
		return
	}

	client, err := objectstore.GetGlobalMinioClient()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Object storage is not available: " + err.Error()})
		return
	}

	objectPath := step.VoiceFilePath.String
	reader, size, err := client.GetFileReader(c.Request.Context(), objectPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch voice file: " + err.Error()})
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, size, objectstore.AudioContentType(objectPath), reader, nil)
}

// DeleteVoiceHandler clears a step's audio reference and removes the stored
// object once no other step references it. Clones share uploaded objects.
func DeleteVoiceHandler(c *gin.Context) {
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
		c.JSON(http.StatusNotFound, gin.H{"error": "Step has no voice file"})
		return
	}

	if err := datastore.SetStepVoiceFile(scenarioID, stepID, sql.NullString{}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear voice file reference: " + err.Error()})
		return
	}
	releaseVoiceObject(c.Request.Context(), step.VoiceFilePath.String)

	c.JSON(http.StatusOK, gin.H{"message": "Voice file removed", "step_id": stepID})
}

// releaseVoiceObject deletes a voice object unless steps still reference it.
// Cleanup is best-effort: failures are logged, never surfaced to the client.
func releaseVoiceObject(ctx context.Context, objectPath string) {
	if objectPath == "" {
		return
	}
	refs, err := datastore.CountVoiceFileRefs(objectPath)
	if err != nil {
		slog.Warn("failed to count voice file references", "object", objectPath, "error", err)
		return
	}
	if refs > 0 {
		return
	}
	client, err := objectstore.GetGlobalMinioClient()
	if err != nil {
		return
	}
	if err := client.DeleteFile(ctx, objectPath); err != nil {
		slog.Warn("failed to delete voice object", "object", objectPath, "error", err)
	}
}
