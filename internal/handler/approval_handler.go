package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deployops/approval-gate/internal/dto"
	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/service"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
	"github.com/deployops/approval-gate/pkg/response"
)

type approvalService interface {
	CreateAndWait(ctx context.Context, req dto.WaitRequest) (*models.DecisionResult, error)
	SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error)
	Status(ctx context.Context, approvalID string) (*models.ApprovalRequest, error)
	List(ctx context.Context, query dto.ApprovalListQuery) ([]models.ApprovalRequest, error)
	History(ctx context.Context, approvalID string) ([]models.HistoryEntry, error)
	Stats(ctx context.Context) (*models.ApprovalStats, error)
	DecisionURL(approvalID string) string
}

type exportService interface {
	History(ctx context.Context, format service.ExportFormat, from, to time.Time) (*service.ExportResult, error)
}

// ApprovalHandler exposes the approval lifecycle endpoints.
type ApprovalHandler struct {
	service approvalService
	export  exportService
}

// NewApprovalHandler builds a new handler.
func NewApprovalHandler(svc approvalService, export exportService) *ApprovalHandler {
	return &ApprovalHandler{service: svc, export: export}
}

// Wait godoc
// @Summary Request an approval and block until it resolves
// @Description Called by the pipeline step. Responds only after the approval is approved, rejected or timed out.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.WaitRequest true "Approval request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /api/v1/approvals/wait [post]
func (h *ApprovalHandler) Wait(c *gin.Context) {
	var req dto.WaitRequest
	// Pipeline scripts may call with query parameters instead of a body.
	var err error
	if c.Request.Method == http.MethodGet {
		err = c.ShouldBindQuery(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid wait request"))
		return
	}
	result, err := h.service.CreateAndWait(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Approve godoc
// @Summary Approve a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, models.ActionApprove)
}

// Reject godoc
// @Summary Reject a pending request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Approval ID"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, models.ActionReject)
}

func (h *ApprovalHandler) decide(c *gin.Context, action models.DecisionAction) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload"))
		return
	}
	rec, err := h.service.SubmitDecision(c.Request.Context(), c.Param("id"), action, req.Username, req.Comment, service.SourceAPI)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec)
}

// Get godoc
// @Summary Get one approval
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /api/v1/approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	rec, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := dto.ApprovalResponse{ApprovalRequest: *rec}
	if rec.Status == models.StatusPending {
		resp.DecisionURL = h.service.DecisionURL(rec.ID)
	}
	response.JSON(c, http.StatusOK, resp)
}

// List godoc
// @Summary List approvals
// @Tags Approvals
// @Produce json
// @Param status query string false "Comma separated status filter"
// @Param project query string false "Project filter"
// @Param env query string false "Environment filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /api/v1/approvals [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	var query dto.ApprovalListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid list query"))
		return
	}
	items, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, map[string]interface{}{"count": len(items)})
}

// History godoc
// @Summary Audit trail for one approval
// @Tags Approvals
// @Produce json
// @Param id path string true "Approval ID"
// @Success 200 {object} response.Envelope
// @Router /api/v1/approvals/{id}/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}

// Stats godoc
// @Summary Approval counts by status
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /api/v1/approvals/stats [get]
func (h *ApprovalHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}

// Export godoc
// @Summary Export the audit trail
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param days query int false "Window size in days" default(30)
// @Success 200 {file} file
// @Router /api/v1/approvals/history/export [get]
func (h *ApprovalHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.FormatCSV)))
	if format != service.FormatCSV && format != service.FormatPDF {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 || days > 365 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "days must be between 1 and 365"))
		return
	}
	to := time.Now()
	from := to.AddDate(0, 0, -days)

	result, err := h.export.History(c.Request.Context(), format, from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
