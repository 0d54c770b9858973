package handler

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/service"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type decisionPageService interface {
	DecisionPageData(ctx context.Context, approvalID string) (*models.ApprovalRequest, *models.BuildLog, error)
	VerifyLink(token, approvalID string) error
	SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error)
}

// DecisionPageHandler serves the server-rendered web decision page linked
// from notifications.
type DecisionPageHandler struct {
	service decisionPageService
	tmpl    *template.Template
	logger  *zap.Logger
}

// NewDecisionPageHandler builds the handler; the template is parsed once.
func NewDecisionPageHandler(svc decisionPageService, logger *zap.Logger) *DecisionPageHandler {
	return &DecisionPageHandler{
		service: svc,
		tmpl:    template.Must(template.New("decision").Parse(decisionPageTemplate)),
		logger:  logger,
	}
}

type decisionPageView struct {
	Approval *models.ApprovalRequest
	Logs     *models.BuildLog
	Token    string
	Message  string
	Error    string
	Deadline string
}

// Show renders the decision page for a signed link.
func (h *DecisionPageHandler) Show(c *gin.Context) {
	id := c.Param("id")
	token := c.Query("token")
	if err := h.service.VerifyLink(token, id); err != nil {
		h.renderError(c, http.StatusUnauthorized, "This decision link is invalid or has expired. Use the chat buttons instead.")
		return
	}
	rec, logs, err := h.service.DecisionPageData(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, appErrors.FromError(err).Status, "Approval not found.")
		return
	}
	h.render(c, decisionPageView{
		Approval: rec,
		Logs:     logs,
		Token:    token,
		Deadline: rec.Deadline().UTC().Format(time.RFC1123),
	})
}

// Submit handles the form post from the decision page.
func (h *DecisionPageHandler) Submit(c *gin.Context) {
	id := c.Param("id")
	token := c.PostForm("token")
	if err := h.service.VerifyLink(token, id); err != nil {
		h.renderError(c, http.StatusUnauthorized, "This decision link is invalid or has expired.")
		return
	}

	action := models.DecisionAction(c.PostForm("action"))
	username := c.PostForm("username")
	comment := c.PostForm("comment")
	if username == "" {
		h.reshow(c, id, token, "", "Enter your username to decide.")
		return
	}

	rec, err := h.service.SubmitDecision(c.Request.Context(), id, action, username, comment, service.SourceWeb)
	if err != nil {
		appErr := appErrors.FromError(err)
		h.reshow(c, id, token, "", appErr.Message)
		return
	}
	h.reshow(c, rec.ID, token, "Decision recorded: "+string(rec.Status)+".", "")
}

func (h *DecisionPageHandler) reshow(c *gin.Context, id, token, message, errMessage string) {
	rec, logs, err := h.service.DecisionPageData(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, appErrors.FromError(err).Status, "Approval not found.")
		return
	}
	h.render(c, decisionPageView{
		Approval: rec,
		Logs:     logs,
		Token:    token,
		Message:  message,
		Error:    errMessage,
		Deadline: rec.Deadline().UTC().Format(time.RFC1123),
	})
}

func (h *DecisionPageHandler) render(c *gin.Context, view decisionPageView) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.tmpl.Execute(c.Writer, view); err != nil {
		h.logger.Sugar().Errorw("render decision page", "error", err)
	}
}

func (h *DecisionPageHandler) renderError(c *gin.Context, status int, message string) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := h.tmpl.Execute(c.Writer, decisionPageView{Error: message}); err != nil {
		h.logger.Sugar().Errorw("render decision page", "error", err)
	}
}

const decisionPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Deploy approval</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 2rem auto; max-width: 46rem; padding: 0 1rem; color: #1f2430; }
h1 { font-size: 1.4rem; }
table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
td { padding: .4rem .6rem; border-bottom: 1px solid #e4e7ee; }
td:first-child { color: #6b7280; width: 10rem; }
.status { font-weight: 600; text-transform: uppercase; }
.status.pending { color: #b45309; }
.status.approved { color: #15803d; }
.status.rejected, .status.timeout { color: #b91c1c; }
.banner { padding: .7rem 1rem; border-radius: 6px; margin: 1rem 0; }
.banner.ok { background: #ecfdf5; color: #065f46; }
.banner.err { background: #fef2f2; color: #991b1b; }
form { display: inline-block; margin-right: .6rem; }
button { padding: .55rem 1.4rem; border: 0; border-radius: 6px; font-size: 1rem; cursor: pointer; }
button.approve { background: #16a34a; color: #fff; }
button.reject { background: #dc2626; color: #fff; }
input, textarea { width: 100%; padding: .45rem; margin: .25rem 0 .75rem; border: 1px solid #cbd2dd; border-radius: 4px; box-sizing: border-box; }
pre { background: #0f172a; color: #d7dde8; padding: 1rem; border-radius: 6px; overflow-x: auto; font-size: .8rem; }
</style>
</head>
<body>
<h1>Deploy approval</h1>
{{if .Message}}<div class="banner ok">{{.Message}}</div>{{end}}
{{if .Error}}<div class="banner err">{{.Error}}</div>{{end}}
{{with .Approval}}
<table>
<tr><td>Project</td><td>{{.Project}}</td></tr>
<tr><td>Environment</td><td>{{.Environment}}</td></tr>
<tr><td>Build</td><td>{{.BuildRef}}</td></tr>
{{if .Version}}<tr><td>Version</td><td>{{.Version}}</td></tr>{{end}}
{{if .Description}}<tr><td>Description</td><td>{{.Description}}</td></tr>{{end}}
<tr><td>Status</td><td><span class="status {{.Status}}">{{.Status}}</span></td></tr>
{{if .DecidedBy}}<tr><td>Decided by</td><td>{{.DecidedByName}}</td></tr>{{end}}
<tr><td>Deadline</td><td>{{$.Deadline}}</td></tr>
<tr><td>ID</td><td><code>{{.ID}}</code></td></tr>
</table>
{{if eq (printf "%s" .Status) "pending"}}
<form method="post" action="/approve/{{.ID}}">
<input type="hidden" name="token" value="{{$.Token}}">
<label>Your username</label>
<input type="text" name="username" required>
<label>Comment (optional)</label>
<textarea name="comment" rows="2"></textarea>
<button class="approve" type="submit" name="action" value="approve">Approve</button>
<button class="reject" type="submit" name="action" value="reject">Reject</button>
</form>
{{end}}
{{end}}
{{with .Logs}}
<h2>Console output ({{.Status}})</h2>
<pre>{{.Console}}</pre>
{{end}}
</body>
</html>`
