package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
)

// followUpTimeout bounds the delivery of an async song result.
const followUpTimeout = 30 * time.Second

// SongJobs runs generation jobs.
type SongJobs interface {
	Run(ctx context.Context, req domain.GenerationRequest) (domain.JobOutcome, error)
	Start(ctx context.Context, req domain.GenerationRequest, onDone func(domain.JobOutcome)) (*domain.GenerationJob, error)
	Check(ctx context.Context, provider, jobID string) (domain.JobOutcome, error)
}

// CreateSongTool turns lyrics into a song. In async mode it returns right
// after submission and posts the result to the thread later.
type CreateSongTool struct {
	jobs   SongJobs
	hub    HubConn
	async  bool
	logger *slog.Logger
}

// NewCreateSongTool creates the tool. hub is only used in async mode.
func NewCreateSongTool(jobs SongJobs, hub HubConn, async bool, logger *slog.Logger) *CreateSongTool {
	return &CreateSongTool{jobs: jobs, hub: hub, async: async, logger: logger}
}

func (t *CreateSongTool) Name() string { return "create_song" }
func (t *CreateSongTool) Description() string {
	return "Generate a song from a title and lyrics. Returns the audio URL once the song is ready."
}

func (t *CreateSongTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "minLength": 1},
				"lyrics": {"type": "string", "minLength": 1},
				"style": {"type": "string", "description": "Comma separated style tags, e.g. 'dreamy synthwave'"},
				"description": {"type": "string"},
				"instrumental": {"type": "boolean"},
				"gender": {"type": "string", "enum": ["female", "male"]},
				"genre": {"type": "string"},
				"mood": {"type": "string"},
				"duration": {"type": "integer", "minimum": 0}
			},
			"required": ["title", "lyrics"],
			"additionalProperties": false
		}`),
	}
}

type createSongParams struct {
	Title        string `json:"title"`
	Lyrics       string `json:"lyrics"`
	Style        string `json:"style"`
	Description  string `json:"description"`
	Instrumental bool   `json:"instrumental"`
	Gender       string `json:"gender"`
	Genre        string `json:"genre"`
	Mood         string `json:"mood"`
	Duration     int    `json:"duration"`
}

func (t *CreateSongTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p createSongParams) (any, error) {
			if strings.TrimSpace(p.Title) == "" || strings.TrimSpace(p.Lyrics) == "" {
				return ErrResult("title and lyrics are required")
			}
			req := domain.GenerationRequest{
				Title:        p.Title,
				Lyrics:       p.Lyrics,
				Style:        p.Style,
				Description:  p.Description,
				Instrumental: p.Instrumental,
				Gender:       p.Gender,
				Genre:        p.Genre,
				Mood:         p.Mood,
				Duration:     p.Duration,
				PersonaID:    domain.AgentIDFromContext(ctx),
			}
			span.SetAttributes(tracer.BoolAttr("song.async", t.async))

			if mention, ok := domain.MentionFromContext(ctx); ok && t.async && t.hub != nil {
				return t.startAsync(ctx, req, mention)
			}

			out, err := t.jobs.Run(ctx, req)
			if err != nil {
				return nil, err
			}
			if out.State == domain.JobFailed {
				return nil, fmt.Errorf("%w: %s", domain.ErrJobFailed, out.Reason)
			}
			return describeOutcome(req.Title, out), nil
		},
	)
}

func (t *CreateSongTool) startAsync(ctx context.Context, req domain.GenerationRequest, mention domain.InboundMessage) (any, error) {
	onDone := func(out domain.JobOutcome) {
		reply := domain.ReplyTo(mention, describeOutcome(req.Title, out))
		reply.IsError = out.State == domain.JobFailed
		sendCtx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
		defer cancel()
		if err := t.hub.Send(sendCtx, reply); err != nil {
			t.logger.Error("song follow-up not delivered", "job_id", out.JobID, "thread", mention.ThreadID, "error", err)
		}
	}

	job, err := t.jobs.Start(ctx, req, onDone)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Song %q was submitted as job %s (%s). The result will be posted to this thread when it is ready.",
		req.Title, job.ID, job.Provider), nil
}

// CheckSongStatusTool looks up a generation job by id.
type CheckSongStatusTool struct {
	jobs            SongJobs
	defaultProvider string
	logger          *slog.Logger
}

func NewCheckSongStatusTool(jobs SongJobs, defaultProvider string, logger *slog.Logger) *CheckSongStatusTool {
	return &CheckSongStatusTool{jobs: jobs, defaultProvider: defaultProvider, logger: logger}
}

func (t *CheckSongStatusTool) Name() string { return "check_song_status" }
func (t *CheckSongStatusTool) Description() string {
	return "Check the progress of a song generation job by its job id."
}

func (t *CheckSongStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"job_id": {"type": "string", "minLength": 1},
				"provider": {"type": "string", "enum": ["sonic", "nuro"]}
			},
			"required": ["job_id"],
			"additionalProperties": false
		}`),
	}
}

type checkSongParams struct {
	JobID    string `json:"job_id"`
	Provider string `json:"provider"`
}

func (t *CheckSongStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p checkSongParams) (any, error) {
			if p.JobID == "" {
				return ErrResult("job_id is required")
			}
			provider := p.Provider
			if provider == "" {
				provider = t.defaultProvider
			}
			out, err := t.jobs.Check(ctx, provider, p.JobID)
			if err != nil {
				return nil, err
			}
			return describeOutcome("", out), nil
		},
	)
}

func describeOutcome(title string, out domain.JobOutcome) string {
	var b strings.Builder
	switch out.State {
	case domain.JobSucceeded:
		if out.Result != nil && out.Result.Title != "" {
			title = out.Result.Title
		}
		if title != "" {
			fmt.Fprintf(&b, "Song %q is ready.\n", title)
		} else {
			b.WriteString("Song is ready.\n")
		}
		if r := out.Result; r != nil {
			if r.AudioURL != "" {
				fmt.Fprintf(&b, "Audio: %s\n", r.AudioURL)
			}
			if r.VideoURL != "" {
				fmt.Fprintf(&b, "Video: %s\n", r.VideoURL)
			}
			if r.ImageURL != "" {
				fmt.Fprintf(&b, "Cover: %s\n", r.ImageURL)
			}
			if r.Duration > 0 {
				fmt.Fprintf(&b, "Duration: %.0fs\n", r.Duration)
			}
		}
		fmt.Fprintf(&b, "Job: %s (%s)", out.JobID, out.Provider)
		if out.RecordID != "" {
			fmt.Fprintf(&b, "\nCatalog id: %s", out.RecordID)
		}
		if out.Unsaved {
			b.WriteString("\nNote: the song could not be saved to the catalog.")
		}
	case domain.JobFailed:
		fmt.Fprintf(&b, "Song job %s (%s) failed: %s", out.JobID, out.Provider, out.Reason)
	case domain.JobTimedOut:
		fmt.Fprintf(&b, "Song job %s (%s) is still processing. Check again later with check_song_status.", out.JobID, out.Provider)
	default:
		fmt.Fprintf(&b, "Song job %s (%s) is still processing.", out.JobID, out.Provider)
	}
	return b.String()
}
