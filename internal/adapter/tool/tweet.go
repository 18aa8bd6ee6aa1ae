package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
)

// maxTweetLength is the platform limit.
const maxTweetLength = 280

// TweetTool writes a short post in the persona's voice.
type TweetTool struct {
	llm     domain.LLMProvider
	model   string
	persona string
	logger  *slog.Logger
}

// NewTweetTool creates the tool. persona describes the voice to write in.
func NewTweetTool(llm domain.LLMProvider, model, persona string, logger *slog.Logger) *TweetTool {
	return &TweetTool{llm: llm, model: model, persona: persona, logger: logger}
}

func (t *TweetTool) Name() string { return "compose_tweet" }
func (t *TweetTool) Description() string {
	return "Write a tweet about a topic in your own voice, with optional hashtags. Never longer than 280 characters."
}

func (t *TweetTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"topic": {"type": "string", "minLength": 1},
				"include_hashtags": {"type": "boolean", "description": "Defaults to true"},
				"hashtags": {"type": "array", "items": {"type": "string"}, "maxItems": 3},
				"max_length": {"type": "integer", "minimum": 20, "maximum": 280}
			},
			"required": ["topic"],
			"additionalProperties": false
		}`),
	}
}

type tweetParams struct {
	Topic           string   `json:"topic"`
	IncludeHashtags *bool    `json:"include_hashtags"`
	Hashtags        []string `json:"hashtags"`
	MaxLength       int      `json:"max_length"`
}

func (t *TweetTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, _ trace.Span, p tweetParams) (any, error) {
			topic := strings.TrimSpace(p.Topic)
			if topic == "" {
				return ErrResult("topic is required")
			}
			maxLen := p.MaxLength
			if maxLen <= 0 || maxLen > maxTweetLength {
				maxLen = maxTweetLength
			}

			resp, err := t.llm.Chat(ctx, domain.ChatRequest{
				Model: t.model,
				Messages: []domain.Message{
					{Role: domain.RoleSystem, Content: t.persona},
					{Role: domain.RoleUser, Content: fmt.Sprintf(
						"Write a single tweet about %s. Keep it under %d characters, stay in character, no hashtags.", topic, maxLen-40)},
				},
				MaxTokens: 150,
			})
			if err != nil {
				return nil, fmt.Errorf("compose tweet: %w", err)
			}

			var tags []string
			if p.IncludeHashtags == nil || *p.IncludeHashtags {
				tags = hashtags(topic, p.Hashtags)
			}
			tweet := formatTweet(resp.Message.Content, tags, maxLen)
			return map[string]any{
				"tweet":  tweet,
				"topic":  topic,
				"length": len([]rune(tweet)),
			}, nil
		},
	)
}

// hashtags turns the topic and extra words into unique #Tags.
func hashtags(topic string, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{topic}, extra...) {
		tag := toHashtag(s)
		if tag == "" || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		out = append(out, tag)
	}
	return out
}

func toHashtag(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(strings.TrimSpace(s), "#") {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "#" + b.String()
}

// formatTweet appends the tags and cuts the result to maxLen runes.
func formatTweet(text string, tags []string, maxLen int) string {
	text = strings.Trim(strings.TrimSpace(text), `"`)
	tweet := text
	if len(tags) > 0 {
		tweet = text + "\n\n" + strings.Join(tags, " ")
	}
	if len([]rune(tweet)) > maxLen {
		tweet = truncateRunes(tweet, maxLen)
	}
	return tweet
}
