package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployops/approval-gate/internal/models"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type buildServiceMock struct {
	outcome   *models.BuildOutcome
	recordErr error
	logs      *models.BuildLog
	logsErr   error
	lastJob   string
	lastBuild string
	lastTail  int
}

func (m *buildServiceMock) RecordBuildOutcome(ctx context.Context, outcome models.BuildOutcome) error {
	m.outcome = &outcome
	return m.recordErr
}

func (m *buildServiceMock) BuildLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error) {
	m.lastJob = job
	m.lastBuild = build
	m.lastTail = tail
	return m.logs, m.logsErr
}

func TestBuildResultRecordsOutcome(t *testing.T) {
	mock := &buildServiceMock{}
	h := NewBuildHandler(mock)

	w := performRequest(t, h.Result, http.MethodPost, "/api/v1/builds/result", map[string]interface{}{
		"project": "payments",
		"env":     "prod",
		"build":   "42",
		"job":     "payments-deploy",
		"status":  "SUCCESS",
	}, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.outcome)
	assert.Equal(t, "payments", mock.outcome.Project)
	assert.Equal(t, "SUCCESS", mock.outcome.Status)
}

func TestBuildResultRequiresProjectAndBuild(t *testing.T) {
	mock := &buildServiceMock{}
	h := NewBuildHandler(mock)

	w := performRequest(t, h.Result, http.MethodPost, "/api/v1/builds/result", map[string]interface{}{
		"env": "prod",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, mock.outcome)
}

func TestBuildLogsPassesTail(t *testing.T) {
	mock := &buildServiceMock{logs: &models.BuildLog{Status: "SUCCESS", Console: "done"}}
	h := NewBuildHandler(mock)

	w := performRequest(t, h.Logs, http.MethodGet, "/api/v1/builds/payments-deploy/42/logs?tail=25", nil,
		gin.Params{{Key: "job", Value: "payments-deploy"}, {Key: "build", Value: "42"}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payments-deploy", mock.lastJob)
	assert.Equal(t, "42", mock.lastBuild)
	assert.Equal(t, 25, mock.lastTail)
}

func TestBuildLogsRejectsHugeTail(t *testing.T) {
	mock := &buildServiceMock{}
	h := NewBuildHandler(mock)

	w := performRequest(t, h.Logs, http.MethodGet, "/api/v1/builds/j/1/logs?tail=9999", nil,
		gin.Params{{Key: "job", Value: "j"}, {Key: "build", Value: "1"}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.lastJob)
}

func TestBuildLogsUpstreamError(t *testing.T) {
	mock := &buildServiceMock{logsErr: appErrors.Clone(appErrors.ErrInternal, "jenkins unreachable")}
	h := NewBuildHandler(mock)

	w := performRequest(t, h.Logs, http.MethodGet, "/api/v1/builds/j/1/logs", nil,
		gin.Params{{Key: "job", Value: "j"}, {Key: "build", Value: "1"}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
