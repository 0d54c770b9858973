package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tg "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/notify"
	"github.com/deployops/approval-gate/internal/service"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type telegramDecisionService interface {
	SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error)
	LookupByTelegramID(id int64) (models.Identity, bool)
}

type callbackAnswerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// TelegramHandler receives webhook updates and turns inline button presses
// into decisions.
type TelegramHandler struct {
	service  telegramDecisionService
	answerer callbackAnswerer
	logger   *zap.Logger
}

// NewTelegramHandler builds the handler. answerer may be nil in tests.
func NewTelegramHandler(svc telegramDecisionService, answerer callbackAnswerer, logger *zap.Logger) *TelegramHandler {
	return &TelegramHandler{service: svc, answerer: answerer, logger: logger}
}

// Webhook godoc
// @Summary Telegram webhook receiver
// @Tags Telegram
// @Accept json
// @Success 200
// @Router /api/v1/telegram/webhook [post]
func (h *TelegramHandler) Webhook(c *gin.Context) {
	var update tg.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Sugar().Warnw("unparseable telegram update", "error", err)
		// Always 200: Telegram retries non-2xx responses forever.
		c.Status(http.StatusOK)
		return
	}
	if update.CallbackQuery != nil {
		h.handleCallback(c.Request.Context(), update.CallbackQuery)
	}
	c.Status(http.StatusOK)
}

func (h *TelegramHandler) handleCallback(ctx context.Context, query *tg.CallbackQuery) {
	action, approvalID, ok := parseCallbackData(query.Data)
	if !ok {
		h.answer(ctx, query.ID, "Unrecognized action.")
		return
	}

	identity, known := h.service.LookupByTelegramID(query.From.ID)
	if !known {
		h.logger.Sugar().Warnw("callback from unknown telegram account",
			"telegram_id", query.From.ID, "username", query.From.Username)
		h.answer(ctx, query.ID, "Your Telegram account is not linked to an approver.")
		return
	}

	rec, err := h.service.SubmitDecision(ctx, approvalID, action, identity.Username, "", service.SourceChat)
	if err != nil {
		h.answer(ctx, query.ID, decisionFailureText(err))
		return
	}
	h.answer(ctx, query.ID, "Recorded: "+string(rec.Status)+".")
}

func (h *TelegramHandler) answer(ctx context.Context, callbackID, text string) {
	if h.answerer == nil {
		return
	}
	if err := h.answerer.AnswerCallback(ctx, callbackID, text); err != nil {
		h.logger.Sugar().Warnw("answer callback failed", "error", err)
	}
}

func parseCallbackData(data string) (models.DecisionAction, string, bool) {
	switch {
	case strings.HasPrefix(data, notify.CallbackApprovePrefix):
		return models.ActionApprove, strings.TrimPrefix(data, notify.CallbackApprovePrefix), true
	case strings.HasPrefix(data, notify.CallbackRejectPrefix):
		return models.ActionReject, strings.TrimPrefix(data, notify.CallbackRejectPrefix), true
	default:
		return "", "", false
	}
}

func decisionFailureText(err error) string {
	switch {
	case appErrors.Is(err, appErrors.ErrAlreadyProcessed.Code):
		// The service attaches who decided and when.
		return appErrors.FromError(err).Message + "."
	case appErrors.Is(err, appErrors.ErrForbidden.Code):
		return "You may not decide this approval."
	case appErrors.Is(err, appErrors.ErrInProgress.Code):
		return "Another decision is in flight, try again."
	case appErrors.Is(err, appErrors.ErrNotFound.Code):
		return "Approval not found."
	default:
		return "Something went wrong, try again."
	}
}
