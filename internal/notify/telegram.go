package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tg "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/pkg/config"
)

// Callback data prefixes for the inline keyboard buttons.
const (
	CallbackApprovePrefix = "approve:"
	CallbackRejectPrefix  = "reject:"
)

// botClient wraps the bot.Bot methods the notifier uses, so tests can
// inject a fake.
type botClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tg.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type realBotClient struct {
	bot *bot.Bot
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tg.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return r.bot.AnswerCallbackQuery(ctx, params)
}

// TelegramNotifier delivers approval messages to a Telegram chat with
// inline approve/reject buttons and a link to the web decision page.
type TelegramNotifier struct {
	client botClient
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier builds the notifier and validates the token against
// the Telegram API lazily on first send.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	b, err := bot.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{
		client: &realBotClient{bot: b},
		chatID: cfg.ChatID,
		logger: logger,
	}, nil
}

// NotifyRequested announces a new pending approval.
func (n *TelegramNotifier) NotifyRequested(ctx context.Context, rec *models.ApprovalRequest, decisionURL string) error {
	var sb strings.Builder
	sb.WriteString("⚠️ <b>Deploy approval needed</b>\n\n")
	writeSummary(&sb, rec)
	if rec.Description != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", html.EscapeString(rec.Description)))
	}
	sb.WriteString(fmt.Sprintf("\nExpires in %s.", formatDuration(time.Until(rec.Deadline()))))

	return n.send(ctx, rec, sb.String(), n.keyboard(rec.ID, decisionURL))
}

// NotifyReminder nudges the owners about a still-pending approval.
func (n *TelegramNotifier) NotifyReminder(ctx context.Context, rec *models.ApprovalRequest, decisionURL string, elapsed time.Duration) error {
	var sb strings.Builder
	sb.WriteString("⏰ <b>Still waiting for a decision</b>\n\n")
	writeSummary(&sb, rec)
	remaining := time.Until(rec.Deadline())
	sb.WriteString(fmt.Sprintf("\nWaiting for %s, %s left before automatic timeout.",
		formatDuration(elapsed), formatDuration(remaining)))

	return n.send(ctx, rec, sb.String(), n.keyboard(rec.ID, decisionURL))
}

// NotifyResolved broadcasts the final outcome.
func (n *TelegramNotifier) NotifyResolved(ctx context.Context, rec *models.ApprovalRequest) error {
	var sb strings.Builder
	switch rec.Status {
	case models.StatusApproved:
		sb.WriteString("✅ <b>Deploy approved</b>\n\n")
	case models.StatusRejected:
		sb.WriteString("❌ <b>Deploy rejected</b>\n\n")
	case models.StatusTimeout:
		sb.WriteString("⏱ <b>Approval timed out</b>\n\n")
	default:
		return nil
	}
	writeSummary(&sb, rec)
	if by := rec.DecidedByName(); by != "" && by != models.SystemActor {
		sb.WriteString(fmt.Sprintf("\nDecided by %s", html.EscapeString(by)))
		if rec.DecidedByRole != nil && *rec.DecidedByRole != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", html.EscapeString(*rec.DecidedByRole)))
		}
		sb.WriteString(".")
	}
	if rec.Comment != nil && *rec.Comment != "" {
		sb.WriteString(fmt.Sprintf("\nComment: %s", html.EscapeString(*rec.Comment)))
	}

	return n.send(ctx, rec, sb.String(), nil)
}

// NotifyBuildOutcome reports how the deploy went after the gate opened.
func (n *TelegramNotifier) NotifyBuildOutcome(ctx context.Context, rec *models.ApprovalRequest, outcome models.BuildOutcome) error {
	var sb strings.Builder
	if strings.EqualFold(outcome.Status, "success") {
		sb.WriteString("🚀 <b>Deploy finished successfully</b>\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("💥 <b>Deploy finished: %s</b>\n\n", html.EscapeString(strings.ToUpper(outcome.Status))))
	}
	writeSummary(&sb, rec)
	if outcome.DurationSeconds > 0 {
		sb.WriteString(fmt.Sprintf("\nTook %s.", formatDuration(time.Duration(outcome.DurationSeconds*float64(time.Second)))))
	}
	if outcome.BuildURL != "" {
		sb.WriteString(fmt.Sprintf("\n<a href=%q>Build log</a>", outcome.BuildURL))
	}

	return n.send(ctx, rec, sb.String(), nil)
}

// AnswerCallback acknowledges an inline button press.
func (n *TelegramNotifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := n.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("answer callback query: %w", err)
	}
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, rec *models.ApprovalRequest, text string, markup tg.ReplyMarkup) error {
	for _, chatID := range n.targets(rec) {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: tg.ParseModeHTML,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		if _, err := n.client.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send telegram message to %d: %w", chatID, err)
		}
	}
	return nil
}

// targets resolves delivery chats: the configured group chat when set,
// otherwise a direct message to every owner with a known Telegram account.
func (n *TelegramNotifier) targets(rec *models.ApprovalRequest) []int64 {
	if n.chatID != 0 {
		return []int64{n.chatID}
	}
	var ids []int64
	for _, owner := range rec.OwnerList {
		if owner.TelegramID != 0 {
			ids = append(ids, owner.TelegramID)
		}
	}
	if len(ids) == 0 {
		n.logger.Sugar().Warnw("no telegram delivery target", "approval_id", rec.ID)
	}
	return ids
}

func (n *TelegramNotifier) keyboard(approvalID, decisionURL string) tg.ReplyMarkup {
	row := []tg.InlineKeyboardButton{
		{Text: "✅ Approve", CallbackData: CallbackApprovePrefix + approvalID},
		{Text: "❌ Reject", CallbackData: CallbackRejectPrefix + approvalID},
	}
	rows := [][]tg.InlineKeyboardButton{row}
	if decisionURL != "" {
		rows = append(rows, []tg.InlineKeyboardButton{
			{Text: "\U0001f50d Review in browser", URL: decisionURL},
		})
	}
	return &tg.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func writeSummary(sb *strings.Builder, rec *models.ApprovalRequest) {
	sb.WriteString(fmt.Sprintf("Project: <b>%s</b>\n", html.EscapeString(rec.Project)))
	sb.WriteString(fmt.Sprintf("Environment: <b>%s</b>\n", html.EscapeString(rec.Environment)))
	sb.WriteString(fmt.Sprintf("Build: <b>%s</b>\n", html.EscapeString(rec.BuildRef)))
	if rec.Version != "" {
		sb.WriteString(fmt.Sprintf("Version: <b>%s</b>\n", html.EscapeString(rec.Version)))
	}
	sb.WriteString(fmt.Sprintf("ID: <code>%s</code>\n", html.EscapeString(rec.ID)))
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
