package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type telegramServiceMock struct {
	identities map[int64]models.Identity
	decideResp *models.ApprovalRequest
	decideErr  error
	lastID     string
	lastAction models.DecisionAction
	lastUser   string
	called     bool
}

func (m *telegramServiceMock) SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error) {
	m.called = true
	m.lastID = approvalID
	m.lastAction = action
	m.lastUser = username
	return m.decideResp, m.decideErr
}

func (m *telegramServiceMock) LookupByTelegramID(id int64) (models.Identity, bool) {
	identity, ok := m.identities[id]
	return identity, ok
}

type answererMock struct {
	texts []string
}

func (a *answererMock) AnswerCallback(ctx context.Context, callbackID, text string) error {
	a.texts = append(a.texts, text)
	return nil
}

func postUpdate(t *testing.T, h *TelegramHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(http.MethodPost, "/api/v1/telegram/webhook", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	h.Webhook(c)
	return w
}

func callbackUpdate(data string, fromID int64) string {
	return fmt.Sprintf(`{
		"update_id": 7,
		"callback_query": {
			"id": "cb-1",
			"from": {"id": %d, "is_bot": false, "first_name": "A"},
			"chat_instance": "ci",
			"data": %q
		}
	}`, fromID, data)
}

func TestWebhookApproveCallback(t *testing.T) {
	svc := &telegramServiceMock{
		identities: map[int64]models.Identity{1001: {Username: "alice", Role: "lead"}},
		decideResp: &models.ApprovalRequest{ID: "approval-payments-prod-42-1", Status: models.StatusApproved},
	}
	answerer := &answererMock{}
	h := NewTelegramHandler(svc, answerer, zap.NewNop())

	w := postUpdate(t, h, callbackUpdate("approve:approval-payments-prod-42-1", 1001))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.called)
	assert.Equal(t, "approval-payments-prod-42-1", svc.lastID)
	assert.Equal(t, models.ActionApprove, svc.lastAction)
	assert.Equal(t, "alice", svc.lastUser)
	require.Len(t, answerer.texts, 1)
	assert.Contains(t, answerer.texts[0], "approved")
}

func TestWebhookUnknownAccount(t *testing.T) {
	svc := &telegramServiceMock{identities: map[int64]models.Identity{}}
	answerer := &answererMock{}
	h := NewTelegramHandler(svc, answerer, zap.NewNop())

	w := postUpdate(t, h, callbackUpdate("reject:approval-x-y-1-1", 9999))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.called)
	require.Len(t, answerer.texts, 1)
	assert.Contains(t, answerer.texts[0], "not linked")
}

func TestWebhookAlreadyDecided(t *testing.T) {
	svc := &telegramServiceMock{
		identities: map[int64]models.Identity{1001: {Username: "alice"}},
		decideErr:  appErrors.Clone(appErrors.ErrAlreadyProcessed, "already decided: approved by bob"),
	}
	answerer := &answererMock{}
	h := NewTelegramHandler(svc, answerer, zap.NewNop())

	postUpdate(t, h, callbackUpdate("approve:approval-x-y-1-1", 1001))
	require.Len(t, answerer.texts, 1)
	assert.Equal(t, "already decided: approved by bob.", answerer.texts[0])
}

func TestWebhookIgnoresNonCallbackUpdates(t *testing.T) {
	svc := &telegramServiceMock{}
	h := NewTelegramHandler(svc, nil, zap.NewNop())

	w := postUpdate(t, h, `{"update_id": 8, "message": {"message_id": 1, "date": 0, "chat": {"id": 1, "type": "private"}}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.called)
}

func TestWebhookMalformedBodyStill200(t *testing.T) {
	h := NewTelegramHandler(&telegramServiceMock{}, nil, zap.NewNop())
	w := postUpdate(t, h, `{not json`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseCallbackData(t *testing.T) {
	action, id, ok := parseCallbackData("approve:approval-a-b-1-1")
	require.True(t, ok)
	assert.Equal(t, models.ActionApprove, action)
	assert.Equal(t, "approval-a-b-1-1", id)

	_, _, ok = parseCallbackData("noop")
	assert.False(t, ok)
}
