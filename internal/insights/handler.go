package insights

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"insight-gateway/internal/shared/server/middleware"
	"insight-gateway/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the insights service.
type Handler struct {
	Svc   *Service
	polls *pollLimiter
}

// NewHandler constructs a Handler. statusWindow throttles per-job status
// polling; zero takes the default.
func NewHandler(svc *Service, statusWindow time.Duration) *Handler {
	return &Handler{
		Svc:   svc,
		polls: newPollLimiter(statusWindow, nil),
	}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyses", middleware.RequireAdmin(), h.startAnalysis)
	rg.POST("/analyses/bulk", middleware.RequireAdmin(), h.startBulk)
	rg.GET("/analyses", h.listAnalyses)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.GET("/analyses/:id/visualization", h.getVisualization)
	rg.PATCH("/analyses/:id/visibility", middleware.RequireAdmin(), h.setVisibility)
	rg.GET("/jobs/:id", h.getJob)
}

type startAnalysisRequest struct {
	FileID           string `json:"fileId"`
	Prompt           string `json:"prompt"`
	QueryType        string `json:"queryType"`
	Model            string `json:"model"`
	EnableCodeReview bool   `json:"enableCodeReview"`
}

func (h *Handler) startAnalysis(c *gin.Context) {
	var req startAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if details := validateSubmit(req.FileID, req.Prompt); details != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid analysis request", details)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	job, err := h.Svc.Launch(ctx, SubmitInput{
		FileID:           req.FileID,
		Prompt:           req.Prompt,
		QueryType:        req.QueryType,
		Model:            req.Model,
		EnableCodeReview: req.EnableCodeReview,
	})
	if err != nil {
		respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to submit analysis", nil)
		return
	}

	c.Set("jobId", job.JobID)
	respond.Accepted(c, gin.H{
		"jobId":  job.JobID,
		"status": job.Status,
	})
}

type bulkAnalysisRequest struct {
	FileID  string   `json:"fileId"`
	Prompts []string `json:"prompts"`
}

func (h *Handler) startBulk(c *gin.Context) {
	var req bulkAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if len(req.Prompts) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "at least one prompt is required", []map[string]string{
			{"field": "prompts", "issue": "required"},
		})
		return
	}
	for _, prompt := range req.Prompts {
		if details := validateSubmit(req.FileID, prompt); details != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid analysis request", details)
			return
		}
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	jobs := make([]gin.H, 0, len(req.Prompts))
	for _, prompt := range req.Prompts {
		job, err := h.Svc.Launch(ctx, SubmitInput{FileID: req.FileID, Prompt: prompt})
		if err != nil {
			respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to submit analysis", nil)
			return
		}
		jobs = append(jobs, gin.H{"jobId": job.JobID, "prompt": prompt})
	}

	respond.Accepted(c, gin.H{"jobs": jobs})
}

func validateSubmit(fileID, prompt string) []map[string]string {
	if strings.TrimSpace(fileID) == "" {
		return []map[string]string{{"field": "fileId", "issue": "required"}}
	}
	if len(strings.TrimSpace(prompt)) < MinPromptLength {
		return []map[string]string{{"field": "prompt", "issue": "too_short"}}
	}
	return nil
}

func (h *Handler) getJob(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job id is required", nil)
		return
	}
	c.Set("jobId", jobID)

	if !h.polls.Allow(c.ClientIP(), jobID) {
		c.Header("Retry-After", strconv.Itoa(h.polls.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "polling too fast", nil)
		return
	}

	job, ok := h.Svc.Job(jobID)
	if !ok {
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		return
	}

	resp := gin.H{
		"jobId":    job.JobID,
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.AnalysisID != "" {
		resp["analysisId"] = job.AnalysisID
	}
	if job.Reason != "" {
		resp["reason"] = job.Reason
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	includeInactive := middleware.RoleFromContext(c) == middleware.RoleAdmin
	refresh := c.Query("refresh") == "1"

	limit := 0
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	records, err := h.Svc.ListRecords(ctx, includeInactive, refresh, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{"analyses": records})
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}
	c.Set("analysisId", analysisID)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	record, err := h.Svc.GetRecord(ctx, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to fetch analysis", nil)
		}
		return
	}

	if !record.IsActive && middleware.RoleFromContext(c) != middleware.RoleAdmin {
		respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		return
	}

	respond.JSON(c, http.StatusOK, record)
}

func (h *Handler) getVisualization(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}
	c.Set("analysisId", analysisID)

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	payload, placeholder, err := h.Svc.Visualization(ctx, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to fetch visualization", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"analysisId":  analysisID,
		"payload":     string(payload),
		"placeholder": placeholder,
	})
}

type visibilityRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) setVisibility(c *gin.Context) {
	analysisID := c.Param("id")
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}
	c.Set("analysisId", analysisID)

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsActive == nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "isActive is required", []map[string]string{
			{"field": "isActive", "issue": "required"},
		})
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	if err := h.Svc.ToggleVisibility(ctx, analysisID, *req.IsActive); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
		default:
			// The optimistic value has already been rolled back.
			respond.Error(c, http.StatusBadGateway, "upstream_error", "failed to update visibility", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"analysisId": analysisID,
		"isActive":   *req.IsActive,
	})
}
