package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/deployops/approval-gate/internal/models"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
	"github.com/deployops/approval-gate/pkg/response"
)

type buildService interface {
	RecordBuildOutcome(ctx context.Context, outcome models.BuildOutcome) error
	BuildLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error)
}

// BuildHandler receives post-gate build reports and serves console logs.
type BuildHandler struct {
	service buildService
}

// NewBuildHandler builds a new handler.
func NewBuildHandler(svc buildService) *BuildHandler {
	return &BuildHandler{service: svc}
}

// Result godoc
// @Summary Report the outcome of an approved build
// @Tags Builds
// @Accept json
// @Produce json
// @Param payload body models.BuildOutcome true "Build outcome"
// @Success 200 {object} response.Envelope
// @Router /api/v1/builds/result [post]
func (h *BuildHandler) Result(c *gin.Context) {
	var outcome models.BuildOutcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid build outcome"))
		return
	}
	if outcome.Project == "" || outcome.BuildRef == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "project and build are required"))
		return
	}
	if err := h.service.RecordBuildOutcome(c.Request.Context(), outcome); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"recorded": true})
}

// Logs godoc
// @Summary Fetch console output for a build
// @Tags Builds
// @Produce json
// @Param job path string true "Job name"
// @Param build path string true "Build number"
// @Param tail query int false "Tail line count" default(100)
// @Success 200 {object} response.Envelope
// @Router /api/v1/builds/{job}/{build}/logs [get]
func (h *BuildHandler) Logs(c *gin.Context) {
	tail, err := strconv.Atoi(c.DefaultQuery("tail", "100"))
	if err != nil || tail < 0 || tail > 5000 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "tail must be between 0 and 5000"))
		return
	}
	logs, err := h.service.BuildLogs(c.Request.Context(), c.Param("job"), c.Param("build"), tail)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs)
}
