package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/tracer"
)

// songSummary is a catalog entry without its lyrics.
type songSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	PersonaID string `json:"persona_id,omitempty"`
	AudioURL  string `json:"audio_url"`
	APIUsed   string `json:"api_used,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func summarizeSongs(songs []domain.SongRecord) []songSummary {
	out := make([]songSummary, len(songs))
	for i, s := range songs {
		out[i] = songSummary{
			ID:        s.ID,
			Title:     s.Title,
			PersonaID: s.PersonaID,
			AudioURL:  s.AudioURL,
			APIUsed:   s.APIUsed,
		}
		if !s.CreatedAt.IsZero() {
			out[i].CreatedAt = s.CreatedAt.UTC().Format(time.RFC3339)
		}
	}
	return out
}

// clampLimit applies def when n is unset and caps it at most.
func clampLimit(n, def, most int) int {
	if n <= 0 {
		return def
	}
	return min(n, most)
}

// ListSongsTool shows the newest songs in the catalog.
type ListSongsTool struct {
	library domain.SongLibrary
	logger  *slog.Logger
}

func NewListSongsTool(library domain.SongLibrary, logger *slog.Logger) *ListSongsTool {
	return &ListSongsTool{library: library, logger: logger}
}

func (t *ListSongsTool) Name() string { return "list_songs" }
func (t *ListSongsTool) Description() string {
	return "List the most recent songs in the catalog with their ids and audio URLs."
}

func (t *ListSongsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Defaults to 10"}
			},
			"additionalProperties": false
		}`),
	}
}

type listSongsParams struct {
	Limit int `json:"limit"`
}

func (t *ListSongsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p listSongsParams) (any, error) {
			songs, err := t.library.ListSongs(ctx, clampLimit(p.Limit, 10, 50))
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("songs.count", len(songs)))
			if len(songs) == 0 {
				return TextResult("The catalog has no songs yet."), nil
			}
			return map[string]any{"count": len(songs), "songs": summarizeSongs(songs)}, nil
		},
	)
}

// GetSongTool returns one song with its lyrics.
type GetSongTool struct {
	library domain.SongLibrary
	logger  *slog.Logger
}

func NewGetSongTool(library domain.SongLibrary, logger *slog.Logger) *GetSongTool {
	return &GetSongTool{library: library, logger: logger}
}

func (t *GetSongTool) Name() string { return "get_song_by_id" }
func (t *GetSongTool) Description() string {
	return "Fetch one catalog song by id, including its lyrics and media URLs."
}

func (t *GetSongTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"song_id": {"type": "string", "minLength": 1}
			},
			"required": ["song_id"],
			"additionalProperties": false
		}`),
	}
}

type getSongParams struct {
	SongID string `json:"song_id"`
}

func (t *GetSongTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p getSongParams) (any, error) {
			id := strings.TrimSpace(p.SongID)
			if id == "" {
				return ErrResult("song_id is required")
			}
			song, err := t.library.GetSong(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return ErrResult("no song with id %s", id)
			}
			if err != nil {
				return nil, err
			}
			return song, nil
		},
	)
}

// SearchSongsTool finds songs by words in their title or lyrics.
type SearchSongsTool struct {
	library domain.SongLibrary
	logger  *slog.Logger
}

func NewSearchSongsTool(library domain.SongLibrary, logger *slog.Logger) *SearchSongsTool {
	return &SearchSongsTool{library: library, logger: logger}
}

func (t *SearchSongsTool) Name() string { return "search_songs" }
func (t *SearchSongsTool) Description() string {
	return "Search the catalog for songs whose title or lyrics contain the query."
}

func (t *SearchSongsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "minLength": 1},
				"limit": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Defaults to 5"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
	}
}

type searchSongsParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *SearchSongsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p searchSongsParams) (any, error) {
			query := strings.TrimSpace(p.Query)
			if query == "" {
				return ErrResult("query is required")
			}
			songs, err := t.library.SearchSongs(ctx, query, clampLimit(p.Limit, 5, 20))
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("songs.count", len(songs)))
			if len(songs) == 0 {
				return TextResult("No songs match " + query + "."), nil
			}
			return map[string]any{"query": query, "count": len(songs), "songs": summarizeSongs(songs)}, nil
		},
	)
}
