package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// Nuro lyric limits. The API refuses more than 2000 characters.
const (
	nuroMaxLyrics   = 1900
	nuroMinLineCut  = 1500
	nuroMinDuration = 30
	nuroMaxDuration = 240
)

var nuroGenres = map[string]string{
	"k-pop":      "Pop",
	"pop":        "Pop",
	"rock":       "Rock",
	"electronic": "Electronic",
	"hip-hop":    "Hip Hop",
}

var nuroMoods = map[string]string{
	"upbeat":     "Happy",
	"energetic":  "Happy",
	"sad":        "Sad",
	"calm":       "Peaceful",
	"aggressive": "Angry",
}

// Nuro is the lyrics-driven MusicAPI provider. It needs full lyrics.
type Nuro struct {
	c     *client
	model string
}

// NewNuro creates a Nuro provider.
func NewNuro(cfg config.GenerationConfig, throttle *resilience.Throttle, logger *slog.Logger) *Nuro {
	model := cfg.SonicModel
	if model == "" {
		model = "sonic-v4"
	}
	return &Nuro{c: newClient(cfg, throttle, logger), model: model}
}

func (n *Nuro) Name() string { return "nuro" }

type nuroCreate struct {
	Lyrics   string `json:"lyrics"`
	Model    string `json:"mv"`
	Gender   string `json:"gender,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Mood     string `json:"mood,omitempty"`
	Timbre   string `json:"timbre,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Create implements domain.GenerationProvider.
func (n *Nuro) Create(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return n.c.create(ctx, n.Name(), "/api/v1/nuro/create", nuroPayload(req, n.model))
}

func nuroPayload(req domain.GenerationRequest, model string) nuroCreate {
	genre, mood := mapStyle(req.Style)
	if req.Genre != "" {
		genre = req.Genre
	}
	if req.Mood != "" {
		mood = req.Mood
	}
	gender := req.Gender
	if gender == "" {
		gender = "female"
	}
	p := nuroCreate{
		Lyrics: truncateLyrics(req.Lyrics),
		Model:  model,
		Gender: strings.ToUpper(gender[:1]) + strings.ToLower(gender[1:]),
		Genre:  genre,
		Mood:   mood,
		Timbre: req.Timbre,
	}
	if req.Duration > 0 {
		p.Duration = min(max(req.Duration, nuroMinDuration), nuroMaxDuration)
	}
	return p
}

// mapStyle derives Nuro's genre and mood from comma separated style tags.
func mapStyle(style string) (genre, mood string) {
	genre, mood = "Pop", "Happy"
	for _, tag := range strings.Split(strings.ToLower(style), ",") {
		tag = strings.TrimSpace(tag)
		if g, ok := nuroGenres[tag]; ok {
			genre = g
		}
		if m, ok := nuroMoods[tag]; ok {
			mood = m
		}
	}
	return genre, mood
}

// truncateLyrics cuts lyrics to the API limit, preferring a line break when
// one falls late enough. Limits count characters, not bytes.
func truncateLyrics(lyrics string) string {
	if utf8.RuneCountInString(lyrics) <= nuroMaxLyrics {
		return lyrics
	}
	cut := cutRunes(lyrics, nuroMaxLyrics)
	if i := strings.LastIndex(cut, "\n"); i >= 0 && utf8.RuneCountInString(cut[:i]) > nuroMinLineCut {
		cut = cut[:i]
	}
	return cut
}

// cutRunes returns the first n characters of s.
func cutRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// Status implements domain.GenerationProvider.
func (n *Nuro) Status(ctx context.Context, jobID string) (domain.JobStatus, error) {
	body, err := n.c.do(ctx, http.MethodGet, "/api/v1/nuro/task/"+url.PathEscape(jobID), nil)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("nuro status: %w", err)
	}
	var data taskData
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.JobStatus{}, fmt.Errorf("nuro status: decode: %w", err)
	}
	return data.toStatus(), nil
}

var _ domain.GenerationProvider = (*Nuro)(nil)
