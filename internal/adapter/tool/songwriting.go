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

const defaultSongGenre = "K-pop"

// SongConcept is the plan a song is written from.
type SongConcept struct {
	Title       string   `json:"title"`
	Theme       string   `json:"theme"`
	Mood        string   `json:"mood"`
	Tempo       string   `json:"tempo"`
	StyleTags   string   `json:"style_tags"`
	Instruments []string `json:"instruments"`
	Description string   `json:"description"`
	Genre       string   `json:"genre"`
	Prompt      string   `json:"prompt"`
}

// fill completes fields the model left out.
func (c *SongConcept) fill(prompt, genre string) {
	c.Prompt, c.Genre = prompt, genre
	if c.Title == "" {
		c.Title = genre + " Inspiration"
	}
	if c.Theme == "" {
		c.Theme = fmt.Sprintf("A %s song inspired by: %s", genre, prompt)
	}
	if c.Mood == "" {
		c.Mood = "Dynamic and engaging"
	}
	if c.Tempo == "" {
		c.Tempo = "Medium"
	}
	if c.StyleTags == "" {
		c.StyleTags = strings.ToLower(genre) + ", upbeat, modern"
	}
	if len(c.Instruments) == 0 {
		c.Instruments = []string{"Synths", "Drums", "Bass", "Vocals"}
	}
	if c.Description == "" {
		c.Description = fmt.Sprintf("An energetic %s song about %s", genre, prompt)
	}
}

// SongConceptTool sketches a song before any lyrics exist.
type SongConceptTool struct {
	llm     domain.LLMProvider
	model   string
	persona string
	logger  *slog.Logger
}

func NewSongConceptTool(llm domain.LLMProvider, model, persona string, logger *slog.Logger) *SongConceptTool {
	return &SongConceptTool{llm: llm, model: model, persona: persona, logger: logger}
}

func (t *SongConceptTool) Name() string { return "generate_song_concept" }
func (t *SongConceptTool) Description() string {
	return "Sketch a song concept from a prompt: title, theme, mood, tempo, style tags and instruments."
}

func (t *SongConceptTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "minLength": 1},
				"genre": {"type": "string", "description": "Defaults to K-pop"}
			},
			"required": ["prompt"],
			"additionalProperties": false
		}`),
	}
}

type conceptParams struct {
	Prompt string `json:"prompt"`
	Genre  string `json:"genre"`
}

func (t *SongConceptTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p conceptParams) (any, error) {
			prompt := strings.TrimSpace(p.Prompt)
			if prompt == "" {
				return ErrResult("prompt is required")
			}
			genre := strings.TrimSpace(p.Genre)
			if genre == "" {
				genre = defaultSongGenre
			}

			resp, err := t.llm.Chat(ctx, domain.ChatRequest{
				Model: t.model,
				Messages: []domain.Message{
					{Role: domain.RoleSystem, Content: t.persona},
					{Role: domain.RoleUser, Content: fmt.Sprintf(
						"Create a %s song concept for: %s\n"+
							"Answer with one JSON object with the keys title, theme, mood, tempo, "+
							"style_tags (comma separated), instruments (array) and description. No other text.",
						genre, prompt)},
				},
				MaxTokens: 500,
			})
			if err != nil {
				return nil, fmt.Errorf("song concept: %w", err)
			}

			var concept SongConcept
			if err := json.Unmarshal([]byte(stripFence(resp.Message.Content)), &concept); err != nil {
				// Keep the prose as the description rather than fail the call.
				t.logger.Debug("concept reply was not JSON", "error", err)
				concept = SongConcept{Description: strings.TrimSpace(resp.Message.Content)}
			}
			concept.fill(prompt, genre)
			return concept, nil
		},
	)
}

// LyricsTool writes lyrics from a concept.
type LyricsTool struct {
	llm     domain.LLMProvider
	model   string
	persona string
	logger  *slog.Logger
}

func NewLyricsTool(llm domain.LLMProvider, model, persona string, logger *slog.Logger) *LyricsTool {
	return &LyricsTool{llm: llm, model: model, persona: persona, logger: logger}
}

func (t *LyricsTool) Name() string { return "generate_lyrics" }
func (t *LyricsTool) Description() string {
	return "Write song lyrics for a concept, with verse, pre-chorus and chorus sections ready for create_song."
}

func (t *LyricsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"concept": {"type": "string", "minLength": 1},
				"style": {"type": "string", "description": "Defaults to K-pop"},
				"language": {"type": "string", "description": "Language to write in, e.g. Korean"}
			},
			"required": ["concept"],
			"additionalProperties": false
		}`),
	}
}

type lyricsParams struct {
	Concept  string `json:"concept"`
	Style    string `json:"style"`
	Language string `json:"language"`
}

func (t *LyricsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p lyricsParams) (any, error) {
			concept := strings.TrimSpace(p.Concept)
			if concept == "" {
				return ErrResult("concept is required")
			}
			style := strings.TrimSpace(p.Style)
			if style == "" {
				style = defaultSongGenre
			}
			ask := fmt.Sprintf("Write %s lyrics for this concept: %s\n"+
				"Use [Verse], [Pre-Chorus] and [Chorus] section labels, 8 to 16 lines in all. Only the lyrics.",
				style, concept)
			if p.Language != "" {
				ask += " Write them in " + p.Language + "."
			}

			resp, err := t.llm.Chat(ctx, domain.ChatRequest{
				Model: t.model,
				Messages: []domain.Message{
					{Role: domain.RoleSystem, Content: t.persona},
					{Role: domain.RoleUser, Content: ask},
				},
				MaxTokens: 600,
			})
			if err != nil {
				return nil, fmt.Errorf("lyrics: %w", err)
			}
			lyrics := strings.TrimSpace(stripFence(resp.Message.Content))
			if lyrics == "" {
				return ErrResult("no lyrics were written, try a more specific concept")
			}
			return map[string]any{
				"lyrics": lyrics,
				"style":  style,
				"lines":  lyricLines(lyrics),
			}, nil
		},
	)
}

// lyricLines counts sung lines, skipping blanks and [Section] labels.
func lyricLines(lyrics string) int {
	n := 0
	for _, line := range strings.Split(lyrics, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			continue
		}
		n++
	}
	return n
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
