package api

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/yourorg/bird-survey/internal/archive"
	"github.com/yourorg/bird-survey/internal/storage"
	"github.com/yourorg/bird-survey/internal/types"
)

// uploadPrefix is where raw uploads land before the pipeline touches them.
const uploadPrefix = "uploads/"

// maxUploadSize matches the per-entry cap enforced during extraction.
const maxUploadSize = 5 << 30

type SurveyHandler struct {
	store          storage.ObjectStore
	temporalClient client.Client
	bucket         string
	taskQueue      string
	log            *zap.Logger
}

func NewSurveyHandler(store storage.ObjectStore, temporalClient client.Client, bucket, taskQueue string, log *zap.Logger) *SurveyHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SurveyHandler{
		store:          store,
		temporalClient: temporalClient,
		bucket:         bucket,
		taskQueue:      taskQueue,
		log:            log,
	}
}

type StartSurveyResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	Key        string `json:"key"`
}

// acceptable reports whether an uploaded filename is something the pipeline
// can process: a zip archive or a single allow-listed image.
func acceptable(name string) bool {
	if strings.HasSuffix(strings.ToLower(name), ".zip") {
		return true
	}
	return archive.IsImage(name)
}

// StartSurvey accepts one multipart upload, stores it, and starts a workflow
// for it.
func (h *SurveyHandler) StartSurvey(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload error: " + err.Error()})
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}
	if !archive.CheckFilename(header.Filename) || !acceptable(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	name := archive.SanitizeFilename(path.Base(header.Filename))
	key := uploadPrefix + uuid.NewString() + "-" + name
	uri := fmt.Sprintf("s3://%s/%s", h.bucket, key)
	if _, err := h.store.Put(c.Request.Context(), uri, file, header.Header.Get("Content-Type")); err != nil {
		h.log.Error("error storing upload", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	options := client.StartWorkflowOptions{TaskQueue: h.taskQueue}
	workflowRun, err := h.temporalClient.ExecuteWorkflow(
		c.Request.Context(),
		options,
		"BirdSurveyWorkflow",
		types.SurveyParams{Bucket: h.bucket, Key: key},
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start workflow: " + err.Error()})
		return
	}

	h.log.Info("survey started",
		zap.String("workflow_id", workflowRun.GetID()), zap.String("key", key))
	c.JSON(http.StatusOK, StartSurveyResponse{
		WorkflowID: workflowRun.GetID(),
		RunID:      workflowRun.GetRunID(),
		Key:        key,
	})
}

// GetSurveyStatus reports a workflow's state, including the summary once it
// has completed.
func (h *SurveyHandler) GetSurveyStatus(c *gin.Context) {
	workflowID := c.Param("id")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Workflow ID is required"})
		return
	}

	describe, err := h.temporalClient.DescribeWorkflowExecution(c.Request.Context(), workflowID, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to describe workflow: " + err.Error()})
		return
	}
	status := describe.WorkflowExecutionInfo.Status.String()

	if status != "Completed" {
		c.JSON(http.StatusOK, gin.H{
			"workflow_id": workflowID,
			"status":      status,
			"start_time":  describe.WorkflowExecutionInfo.StartTime,
		})
		return
	}

	var result types.SurveyResult
	if err := h.temporalClient.GetWorkflow(c.Request.Context(), workflowID, "").Get(c.Request.Context(), &result); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch result: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflow_id": workflowID,
		"status":      status,
		"result":      result,
	})
}
