package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
)

// FeedbackTool records listener feedback on a song and logs the action.
type FeedbackTool struct {
	catalog domain.Catalog
	logger  *slog.Logger
}

func NewFeedbackTool(catalog domain.Catalog, logger *slog.Logger) *FeedbackTool {
	return &FeedbackTool{catalog: catalog, logger: logger}
}

func (t *FeedbackTool) Name() string { return "process_feedback" }
func (t *FeedbackTool) Description() string {
	return "Store listener feedback for a song in the catalog. Rating is 1 to 5, or 0 when not given."
}

func (t *FeedbackTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"song_id": {"type": "string", "minLength": 1},
				"feedback": {"type": "string", "minLength": 1},
				"rating": {"type": "integer", "minimum": 0, "maximum": 5}
			},
			"required": ["song_id", "feedback"],
			"additionalProperties": false
		}`),
	}
}

type feedbackParams struct {
	SongID   string `json:"song_id"`
	Feedback string `json:"feedback"`
	Rating   int    `json:"rating"`
}

func (t *FeedbackTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p feedbackParams) (any, error) {
			feedback := strings.TrimSpace(p.Feedback)
			if p.SongID == "" || feedback == "" {
				return ErrResult("song_id and feedback are required")
			}
			if p.Rating < 0 || p.Rating > 5 {
				return ErrResult("rating must be between 0 and 5, got %d", p.Rating)
			}

			id, err := t.catalog.InsertFeedback(ctx, domain.FeedbackRecord{
				SongID:   p.SongID,
				Feedback: feedback,
				Rating:   p.Rating,
			})
			if err != nil {
				return nil, err
			}

			// The feedback is already stored; a failed log entry is not worth failing the call.
			if _, err := t.catalog.InsertAgentLog(ctx, domain.AgentLogRecord{
				AgentID: domain.AgentIDFromContext(ctx),
				Action:  t.Name(),
				Details: fmt.Sprintf("song=%s feedback=%s rating=%d", p.SongID, id, p.Rating),
			}); err != nil {
				t.logger.Warn("agent log not written", "action", t.Name(), "error", err)
			}

			return map[string]any{
				"feedback_id": id,
				"song_id":     p.SongID,
				"rating":      p.Rating,
			}, nil
		},
	)
}
