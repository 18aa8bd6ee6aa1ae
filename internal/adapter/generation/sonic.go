package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// maxDescriptionLen is the longest description Sonic accepts without a 400.
const maxDescriptionLen = 199

// Sonic is the prompt-driven MusicAPI provider. It accepts lyrics of any length.
type Sonic struct {
	c     *client
	model string
}

// NewSonic creates a Sonic provider.
func NewSonic(cfg config.GenerationConfig, throttle *resilience.Throttle, logger *slog.Logger) *Sonic {
	model := cfg.SonicModel
	if model == "" {
		model = "sonic-v4"
	}
	return &Sonic{c: newClient(cfg, throttle, logger), model: model}
}

func (s *Sonic) Name() string { return "sonic" }

type sonicCreate struct {
	CustomMode     bool   `json:"custom_mode"`
	Prompt         string `json:"prompt"`
	Model          string `json:"mv"`
	Instrumental   bool   `json:"make_instrumental"`
	Title          string `json:"title,omitempty"`
	Tags           string `json:"tags,omitempty"`
	GPTDescription string `json:"gpt_description_prompt,omitempty"`
}

// Create implements domain.GenerationProvider.
func (s *Sonic) Create(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return s.c.create(ctx, s.Name(), "/api/v1/sonic/create", sonicPayload(req, s.model))
}

func sonicPayload(req domain.GenerationRequest, model string) sonicCreate {
	desc := cutRunes(req.Description, maxDescriptionLen)
	return sonicCreate{
		CustomMode:     true,
		Prompt:         req.Lyrics,
		Model:          model,
		Instrumental:   req.Instrumental,
		Title:          req.Title,
		Tags:           sonicTags(req.Style, req.Gender),
		GPTDescription: desc,
	}
}

// sonicTags appends the voice gender to the style unless it is already there.
func sonicTags(style, gender string) string {
	if gender == "" {
		gender = "female"
	}
	voice := strings.ToLower(gender) + " voice"
	switch {
	case style == "":
		return voice
	case strings.Contains(strings.ToLower(style), voice):
		return style
	default:
		return style + ", " + voice
	}
}

// Status implements domain.GenerationProvider. Sonic wraps clips in a data
// array; an empty array means the job is still queued.
func (s *Sonic) Status(ctx context.Context, jobID string) (domain.JobStatus, error) {
	body, err := s.c.do(ctx, http.MethodGet, "/api/v1/sonic/task/"+url.PathEscape(jobID), nil)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("sonic status: %w", err)
	}
	var resp struct {
		Data []taskData `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.JobStatus{}, fmt.Errorf("sonic status: decode: %w", err)
	}
	if len(resp.Data) == 0 {
		return domain.JobStatus{State: domain.JobPending}, nil
	}
	return resp.Data[0].toStatus(), nil
}

var _ domain.GenerationProvider = (*Sonic)(nil)
