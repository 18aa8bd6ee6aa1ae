// Package generation talks to the MusicAPI.ai song generation endpoints.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// client is the HTTP plumbing shared by the Sonic and Nuro providers.
type client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	throttle *resilience.Throttle
	logger   *slog.Logger
}

func newClient(cfg config.GenerationConfig, throttle *resilience.Throttle, logger *slog.Logger) *client {
	return &client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     resilience.NewHTTPClient(cfg.HTTP),
		throttle: throttle,
		logger:   logger,
	}
}

func (c *client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	return resilience.DoJSON(ctx, c.http, method, c.baseURL+path, payload, headers)
}

// create submits payload and returns the task id. A 4xx answer or a reply
// without a task id is a rejection.
func (c *client) create(ctx context.Context, provider, path string, payload any) (string, error) {
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		if resilience.ClientError(err) {
			return "", fmt.Errorf("%s create: %w: %w", provider, domain.ErrProviderRejected, err)
		}
		return "", fmt.Errorf("%s create: %w", provider, err)
	}

	var resp struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s create: decode response: %w", provider, err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("%s create: %w: no task id (%s)", provider, domain.ErrProviderRejected, resp.Message)
	}
	c.logger.Info("generation job submitted", "provider", provider, "job_id", resp.TaskID)
	return resp.TaskID, nil
}

// taskData is the per-clip status payload both providers return.
type taskData struct {
	State    string  `json:"state"`
	Status   string  `json:"status"`
	Progress int     `json:"progress"`
	AudioURL string  `json:"audio_url"`
	VideoURL string  `json:"video_url"`
	ImageURL string  `json:"image_url"`
	Duration float64 `json:"duration"`
	Title    string  `json:"title"`
	Tags     string  `json:"tags"`
	Error    string  `json:"error_message"`
}

func (d taskData) toStatus() domain.JobStatus {
	state := d.State
	if state == "" {
		state = d.Status
	}
	st := domain.JobStatus{State: mapState(state), Progress: d.Progress}
	if d.AudioURL != "" {
		st.Result = &domain.GenerationResult{
			AudioURL: d.AudioURL,
			VideoURL: d.VideoURL,
			ImageURL: d.ImageURL,
			Duration: d.Duration,
			Title:    d.Title,
			Tags:     d.Tags,
		}
	}
	if st.State == domain.JobFailed {
		st.Reason = d.Error
		if st.Reason == "" {
			st.Reason = "provider reported " + state
		}
	}
	return st
}

func mapState(s string) domain.JobState {
	switch strings.ToLower(s) {
	case "succeeded", "success", "complete", "completed":
		return domain.JobSucceeded
	case "failed", "failure", "error":
		return domain.JobFailed
	default:
		return domain.JobPending
	}
}
