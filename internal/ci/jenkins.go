package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/pkg/config"
)

// JenkinsClient resumes, aborts and inspects Jenkins builds. Builds block
// on an input step; approving posts to the step's proceed URL, rejecting
// posts its abort URL or stops the run outright.
type JenkinsClient struct {
	baseURL  string
	user     string
	apiToken string
	http     *http.Client
	logger   *zap.Logger
}

// NewJenkinsClient wires the client.
func NewJenkinsClient(cfg config.JenkinsConfig, logger *zap.Logger) *JenkinsClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JenkinsClient{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		user:     cfg.User,
		apiToken: cfg.APIToken,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ContinueBuild resumes the paused pipeline through its callback URL.
func (c *JenkinsClient) ContinueBuild(ctx context.Context, rec *models.ApprovalRequest) error {
	if rec.CallbackURL == "" {
		return fmt.Errorf("approval %s has no callback url", rec.ID)
	}
	if err := c.post(ctx, rec.CallbackURL); err != nil {
		return fmt.Errorf("continue build for %s: %w", rec.ID, err)
	}
	c.logger.Sugar().Infow("build continued", "approval_id", rec.ID, "url", rec.CallbackURL)
	return nil
}

// AbortBuild stops the paused pipeline. Input-step callbacks get their
// abort endpoint; anything else falls back to stopping the run.
func (c *JenkinsClient) AbortBuild(ctx context.Context, rec *models.ApprovalRequest) error {
	target := abortURL(rec.CallbackURL)
	if target == "" {
		if c.baseURL == "" || rec.JobRef == "" {
			return fmt.Errorf("approval %s has no abort target", rec.ID)
		}
		target = fmt.Sprintf("%s/job/%s/%s/stop",
			c.baseURL, url.PathEscape(rec.JobRef), url.PathEscape(buildNumber(rec.BuildRef)))
	}
	if err := c.post(ctx, target); err != nil {
		return fmt.Errorf("abort build for %s: %w", rec.ID, err)
	}
	c.logger.Sugar().Infow("build aborted", "approval_id", rec.ID, "url", target)
	return nil
}

// buildInfo is the subset of the Jenkins build API the gate reads.
type buildInfo struct {
	Result    string `json:"result"`
	Building  bool   `json:"building"`
	Timestamp int64  `json:"timestamp"`
	Duration  int64  `json:"duration"`
	URL       string `json:"url"`
}

// FetchLogs returns build metadata and the last tail lines of console
// output for the decision page.
func (c *JenkinsClient) FetchLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("jenkins url not configured")
	}
	buildPath := fmt.Sprintf("%s/job/%s/%s", c.baseURL, url.PathEscape(job), url.PathEscape(buildNumber(build)))

	var info buildInfo
	if err := c.getJSON(ctx, buildPath+"/api/json", &info); err != nil {
		return nil, fmt.Errorf("fetch build info for %s/%s: %w", job, build, err)
	}
	console, err := c.getText(ctx, buildPath+"/consoleText")
	if err != nil {
		return nil, fmt.Errorf("fetch console for %s/%s: %w", job, build, err)
	}

	status := info.Result
	if info.Building {
		status = "RUNNING"
	}
	return &models.BuildLog{
		JobRef:     job,
		BuildRef:   build,
		Status:     status,
		Duration:   time.Duration(info.Duration) * time.Millisecond,
		StartedAt:  time.UnixMilli(info.Timestamp),
		URL:        info.URL,
		ConsoleURL: buildPath + "/console",
		Console:    tailLines(console, tail),
		Running:    info.Building,
	}, nil
}

func (c *JenkinsClient) post(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *JenkinsClient) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, func(body io.Reader) error {
		return json.NewDecoder(body).Decode(out)
	})
}

func (c *JenkinsClient) getText(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	var text string
	err = c.do(req, func(body io.Reader) error {
		raw, readErr := io.ReadAll(io.LimitReader(body, 1<<20))
		if readErr != nil {
			return readErr
		}
		text = string(raw)
		return nil
	})
	return text, err
}

func (c *JenkinsClient) do(req *http.Request, read func(io.Reader) error) error {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.apiToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if read != nil {
		return read(resp.Body)
	}
	return nil
}

// abortURL derives the input-step abort endpoint from a proceed callback,
// or "" when the callback is not an input-step URL.
func abortURL(callback string) string {
	if callback == "" || !strings.Contains(callback, "/input/") {
		return ""
	}
	for _, suffix := range []string{"/proceedEmpty", "/proceed"} {
		if strings.HasSuffix(callback, suffix) {
			return strings.TrimSuffix(callback, suffix) + "/abort"
		}
	}
	return strings.TrimRight(callback, "/") + "/abort"
}

func buildNumber(build string) string {
	return strings.TrimPrefix(build, "#")
}

func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
