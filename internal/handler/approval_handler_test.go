package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployops/approval-gate/internal/dto"
	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/service"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type approvalServiceMock struct {
	waitResp     *models.DecisionResult
	waitErr      error
	lastWaitReq  dto.WaitRequest
	decideResp   *models.ApprovalRequest
	decideErr    error
	lastAction   models.DecisionAction
	lastUsername string
	lastSource   string
	statusResp   *models.ApprovalRequest
	statusErr    error
	listResp     []models.ApprovalRequest
	listErr      error
	historyResp  []models.HistoryEntry
	statsResp    *models.ApprovalStats
}

func (m *approvalServiceMock) CreateAndWait(ctx context.Context, req dto.WaitRequest) (*models.DecisionResult, error) {
	m.lastWaitReq = req
	return m.waitResp, m.waitErr
}

func (m *approvalServiceMock) SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error) {
	m.lastAction = action
	m.lastUsername = username
	m.lastSource = source
	return m.decideResp, m.decideErr
}

func (m *approvalServiceMock) Status(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return m.statusResp, m.statusErr
}

func (m *approvalServiceMock) List(ctx context.Context, query dto.ApprovalListQuery) ([]models.ApprovalRequest, error) {
	return m.listResp, m.listErr
}

func (m *approvalServiceMock) History(ctx context.Context, approvalID string) ([]models.HistoryEntry, error) {
	return m.historyResp, nil
}

func (m *approvalServiceMock) Stats(ctx context.Context) (*models.ApprovalStats, error) {
	return m.statsResp, nil
}

func (m *approvalServiceMock) DecisionURL(approvalID string) string {
	return "https://gate.test/approve/" + approvalID
}

type exportServiceMock struct {
	result *service.ExportResult
	err    error
}

func (m *exportServiceMock) History(ctx context.Context, format service.ExportFormat, from, to time.Time) (*service.ExportResult, error) {
	return m.result, m.err
}

func performRequest(t *testing.T, handler gin.HandlerFunc, method, target string, body any, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = params

	handler(c)
	return w
}

func TestWaitEndpointReturnsDecision(t *testing.T) {
	mockSvc := &approvalServiceMock{
		waitResp: &models.DecisionResult{
			ApprovalID: "approval-payments-prod-42-1",
			Status:     models.StatusApproved,
			DecidedBy:  "alice",
		},
	}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	payload := dto.WaitRequest{Project: "payments", Environment: "prod", Build: "42"}
	w := performRequest(t, h.Wait, http.MethodPost, "/api/v1/approvals/wait", payload, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data models.DecisionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, models.StatusApproved, envelope.Data.Status)
	assert.Equal(t, "alice", envelope.Data.DecidedBy)
	assert.Equal(t, "payments", mockSvc.lastWaitReq.Project)
}

func TestWaitEndpointRejectsBadPayload(t *testing.T) {
	h := NewApprovalHandler(&approvalServiceMock{}, &exportServiceMock{})
	w := performRequest(t, h.Wait, http.MethodPost, "/api/v1/approvals/wait", map[string]string{"env": "prod"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWaitEndpointNoOwners(t *testing.T) {
	mockSvc := &approvalServiceMock{waitErr: appErrors.ErrNoOwners}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	payload := dto.WaitRequest{Project: "ghost", Environment: "prod", Build: "1"}
	w := performRequest(t, h.Wait, http.MethodPost, "/api/v1/approvals/wait", payload, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApproveEndpoint(t *testing.T) {
	decided := "alice"
	mockSvc := &approvalServiceMock{
		decideResp: &models.ApprovalRequest{
			ID:        "approval-payments-prod-42-1",
			Status:    models.StatusApproved,
			DecidedBy: &decided,
		},
	}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	w := performRequest(t, h.Approve, http.MethodPost, "/api/v1/approvals/approval-payments-prod-42-1/approve",
		dto.DecisionRequest{Username: "alice", Comment: "lgtm"},
		gin.Params{{Key: "id", Value: "approval-payments-prod-42-1"}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ActionApprove, mockSvc.lastAction)
	assert.Equal(t, "alice", mockSvc.lastUsername)
	assert.Equal(t, service.SourceAPI, mockSvc.lastSource)
}

func TestRejectEndpointConflict(t *testing.T) {
	mockSvc := &approvalServiceMock{decideErr: appErrors.ErrAlreadyProcessed}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	w := performRequest(t, h.Reject, http.MethodPost, "/api/v1/approvals/x/reject",
		dto.DecisionRequest{Username: "bob"},
		gin.Params{{Key: "id", Value: "x"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetEndpointIncludesDecisionURLWhilePending(t *testing.T) {
	mockSvc := &approvalServiceMock{
		statusResp: &models.ApprovalRequest{
			ID:     "approval-payments-prod-42-1",
			Status: models.StatusPending,
		},
	}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	w := performRequest(t, h.Get, http.MethodGet, "/api/v1/approvals/approval-payments-prod-42-1", nil,
		gin.Params{{Key: "id", Value: "approval-payments-prod-42-1"}})

	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data dto.ApprovalResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Data.DecisionURL, "approval-payments-prod-42-1")
}

func TestGetEndpointNotFound(t *testing.T) {
	mockSvc := &approvalServiceMock{statusErr: appErrors.ErrNotFound}
	h := NewApprovalHandler(mockSvc, &exportServiceMock{})

	w := performRequest(t, h.Get, http.MethodGet, "/api/v1/approvals/ghost", nil,
		gin.Params{{Key: "id", Value: "ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportEndpointRejectsUnknownFormat(t *testing.T) {
	h := NewApprovalHandler(&approvalServiceMock{}, &exportServiceMock{})
	w := performRequest(t, h.Export, http.MethodGet, "/api/v1/approvals/history/export?format=xlsx", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportEndpointServesCSV(t *testing.T) {
	export := &exportServiceMock{
		result: &service.ExportResult{
			Filename:    "approval-history-x.csv",
			ContentType: "text/csv",
			Data:        []byte("Timestamp,Approval ID\n"),
		},
	}
	h := NewApprovalHandler(&approvalServiceMock{}, export)

	w := performRequest(t, h.Export, http.MethodGet, "/api/v1/approvals/history/export?format=csv", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "approval-history-x.csv")
}
