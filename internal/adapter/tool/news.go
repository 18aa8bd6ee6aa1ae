package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
	"coral-agents/internal/infra/tracer"
)

// maxArticleText caps the article body shown to the model.
const maxArticleText = 600

// Article is one search hit.
type Article struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	PublishDate string `json:"publish_date"`
}

// NewsSearch is a WorldNewsAPI client.
type NewsSearch struct {
	cfg    config.NewsConfig
	client *http.Client
}

// NewNewsSearch creates a client.
func NewNewsSearch(cfg config.NewsConfig, client *http.Client) *NewsSearch {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.worldnewsapi.com"
	}
	if cfg.Number <= 0 {
		cfg.Number = 3
	}
	if client == nil {
		client = resilience.NewHTTPClient(resilience.HTTPConfig{})
	}
	return &NewsSearch{cfg: cfg, client: client}
}

// Search returns the newest articles matching text.
func (n *NewsSearch) Search(ctx context.Context, text, country, language string, number int) ([]Article, error) {
	if country == "" {
		country = n.cfg.Country
	}
	if language == "" {
		language = n.cfg.Language
	}
	if number <= 0 {
		number = n.cfg.Number
	}

	q := url.Values{}
	q.Set("text", text)
	q.Set("text-match-indexes", "title,content")
	if country != "" {
		q.Set("source-country", country)
	}
	if language != "" {
		q.Set("language", language)
	}
	q.Set("sort", "publish-time")
	q.Set("sort-direction", "DESC")
	q.Set("number", strconv.Itoa(number))

	endpoint := strings.TrimRight(n.cfg.BaseURL, "/") + "/search-news?" + q.Encode()
	body, err := resilience.DoJSON(ctx, n.client, http.MethodGet, endpoint, nil, map[string]string{
		"x-api-key": n.cfg.APIKey,
	})
	if err != nil {
		return nil, domain.WrapOp("NewsSearch.Search", err)
	}

	var resp struct {
		News []Article `json:"news"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode news response: %w", err)
	}
	return resp.News, nil
}

// NewsTool exposes NewsSearch to the model.
type NewsTool struct {
	search *NewsSearch
	logger *slog.Logger
}

func NewNewsTool(search *NewsSearch, logger *slog.Logger) *NewsTool {
	return &NewsTool{search: search, logger: logger}
}

func (t *NewsTool) Name() string { return "search_news" }
func (t *NewsTool) Description() string {
	return "Search recent news articles by keywords. Returns titles, links, dates and a short excerpt."
}

func (t *NewsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "minLength": 1, "description": "Keywords or phrase to search for"},
				"source_country": {"type": "string", "description": "ISO 3166 country code, e.g. us"},
				"language": {"type": "string", "description": "ISO 639-1 language code, e.g. en"},
				"number": {"type": "integer", "minimum": 1, "maximum": 10}
			},
			"required": ["text"],
			"additionalProperties": false
		}`),
	}
}

type newsParams struct {
	Text          string `json:"text"`
	SourceCountry string `json:"source_country"`
	Language      string `json:"language"`
	Number        int    `json:"number"`
}

func (t *NewsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p newsParams) (any, error) {
			if strings.TrimSpace(p.Text) == "" {
				return ErrResult("text is required")
			}
			articles, err := t.search.Search(ctx, p.Text, p.SourceCountry, p.Language, p.Number)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("news.results", len(articles)))
			if len(articles) == 0 {
				return "No news articles found for the query.", nil
			}
			return formatArticles(articles), nil
		},
	)
}

func formatArticles(articles []Article) string {
	var b strings.Builder
	for i, a := range articles {
		if i > 0 {
			b.WriteString("\n")
		}
		title := a.Title
		if title == "" {
			title = "No title"
		}
		fmt.Fprintf(&b, "### %s\n", title)
		if a.URL != "" {
			fmt.Fprintf(&b, "URL: %s\n", a.URL)
		}
		if a.PublishDate != "" {
			fmt.Fprintf(&b, "Date: %s\n", a.PublishDate)
		}
		if text := strings.TrimSpace(a.Text); text != "" {
			fmt.Fprintf(&b, "%s\n", truncateRunes(text, maxArticleText))
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
