package dto

import "github.com/deployops/approval-gate/internal/models"

// WaitRequest is posted by the pipeline step that blocks on an approval.
type WaitRequest struct {
	Project        string `json:"project" form:"project" binding:"required"`
	Environment    string `json:"env" form:"env" binding:"required"`
	Build          string `json:"build" form:"build" binding:"required"`
	Job            string `json:"job" form:"job"`
	Version        string `json:"version" form:"version"`
	Description    string `json:"description" form:"description"`
	Action         string `json:"action" form:"action"`
	CallbackURL    string `json:"callback_url" form:"callback_url"`
	TimeoutSeconds int    `json:"timeout_seconds" form:"timeout_seconds"`
}

// DecisionRequest carries a human decision arriving over the API or the
// web decision page.
type DecisionRequest struct {
	Username string `json:"username" binding:"required"`
	Comment  string `json:"comment"`
	Token    string `json:"token"`
}

// ApprovalListQuery captures list filters from query parameters.
type ApprovalListQuery struct {
	Status      string `form:"status"`
	Project     string `form:"project"`
	Environment string `form:"env"`
	Limit       int    `form:"limit"`
	Offset      int    `form:"offset"`
}

// ApprovalResponse is the API shape of one approval.
type ApprovalResponse struct {
	models.ApprovalRequest
	DecisionURL string `json:"decision_url,omitempty"`
}

// BuildOutcomeRequest reports how the build went after the gate opened.
type BuildOutcomeRequest = models.BuildOutcome
