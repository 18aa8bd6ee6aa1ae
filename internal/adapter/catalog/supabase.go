package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
	"coral-agents/internal/infra/resilience"
)

// Supabase writes catalog rows through the PostgREST API.
type Supabase struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

// NewSupabase creates a PostgREST-backed catalog.
func NewSupabase(cfg config.CatalogConfig, logger *slog.Logger) *Supabase {
	return &Supabase{
		baseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		key:     cfg.SupabaseKey,
		client:  resilience.NewHTTPClient(cfg.HTTP),
		logger:  logger,
	}
}

type songRow struct {
	Title     string          `json:"title"`
	PersonaID string          `json:"persona_id"`
	Lyrics    string          `json:"lyrics"`
	AudioURL  string          `json:"audio_url"`
	VideoURL  string          `json:"video_url"`
	ImageURL  string          `json:"image_url"`
	Duration  float64         `json:"duration"`
	APIUsed   string          `json:"api_used"`
	TaskID    string          `json:"task_id,omitempty"`
	Params    json.RawMessage `json:"params_used,omitempty"`
}

type feedbackRow struct {
	SongID   string `json:"song_id"`
	Feedback string `json:"feedback"`
	Rating   int    `json:"rating,omitempty"`
}

type agentLogRow struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
	Details string `json:"details,omitempty"`
}

// InsertSong implements domain.Catalog. Rows with a task id are upserted
// with duplicates ignored, so the table needs a unique constraint on task_id.
func (s *Supabase) InsertSong(ctx context.Context, rec domain.SongRecord) (string, error) {
	const op = "Supabase.InsertSong"
	row := songRow{
		Title:     rec.Title,
		PersonaID: rec.PersonaID,
		Lyrics:    rec.Lyrics,
		AudioURL:  rec.AudioURL,
		VideoURL:  rec.VideoURL,
		ImageURL:  rec.ImageURL,
		Duration:  rec.Duration,
		APIUsed:   rec.APIUsed,
		TaskID:    rec.TaskID,
		Params:    rec.Params,
	}
	if rec.TaskID == "" {
		return s.insert(ctx, op, "songs", row)
	}

	body, err := s.post(ctx, "songs?on_conflict=task_id", row, "return=representation,resolution=ignore-duplicates")
	if err != nil {
		return "", writeErr(op, err)
	}
	id, err := firstID(body)
	if err != nil {
		return "", writeErr(op, err)
	}
	if id != "" {
		return id, nil
	}
	// Nothing returned: the task was stored before.
	songs, err := s.selectSongs(ctx, url.Values{"select": {"id"}, "task_id": {"eq." + rec.TaskID}, "limit": {"1"}})
	if err != nil {
		return "", writeErr(op, err)
	}
	if len(songs) == 0 {
		return "", writeErr(op, fmt.Errorf("no row for task %s", rec.TaskID))
	}
	return songs[0].ID, nil
}

// InsertFeedback implements domain.Catalog.
func (s *Supabase) InsertFeedback(ctx context.Context, rec domain.FeedbackRecord) (string, error) {
	return s.insert(ctx, "Supabase.InsertFeedback", "feedback", feedbackRow{
		SongID:   rec.SongID,
		Feedback: rec.Feedback,
		Rating:   rec.Rating,
	})
}

// InsertAgentLog implements domain.Catalog.
func (s *Supabase) InsertAgentLog(ctx context.Context, rec domain.AgentLogRecord) (string, error) {
	return s.insert(ctx, "Supabase.InsertAgentLog", "agent_logs", agentLogRow{
		AgentID: rec.AgentID,
		Action:  rec.Action,
		Details: rec.Details,
	})
}

// Close is a no-op; the HTTP client holds no session.
func (s *Supabase) Close() error { return nil }

// insert posts one row and returns the id PostgREST assigned to it.
func (s *Supabase) insert(ctx context.Context, op, table string, row any) (string, error) {
	body, err := s.post(ctx, table, row, "return=representation")
	if err != nil {
		return "", writeErr(op, err)
	}
	id, err := firstID(body)
	if err != nil {
		return "", writeErr(op, err)
	}
	if id == "" {
		return "", writeErr(op, fmt.Errorf("no row returned for %s", table))
	}
	s.logger.Debug("catalog row inserted", "table", table, "id", id)
	return id, nil
}

func (s *Supabase) headers() map[string]string {
	return map[string]string{
		"apikey":        s.key,
		"Authorization": "Bearer " + s.key,
	}
}

func (s *Supabase) post(ctx context.Context, path string, row any, prefer string) ([]byte, error) {
	h := s.headers()
	h["Prefer"] = prefer
	return resilience.DoJSON(ctx, s.client, http.MethodPost, s.baseURL+"/rest/v1/"+path, row, h)
}

// firstID reads the id of the first returned row, or "" for an empty array.
func firstID(body []byte) (string, error) {
	var rows []struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(rows) == 0 || len(rows[0].ID) == 0 {
		return "", nil
	}
	return rawID(rows[0].ID), nil
}

// rawID accepts both text and numeric primary keys.
func rawID(raw json.RawMessage) string {
	return string(bytes.Trim(raw, `"`))
}

// songView is a songs row as PostgREST returns it.
type songView struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	PersonaID string          `json:"persona_id"`
	Lyrics    string          `json:"lyrics"`
	AudioURL  string          `json:"audio_url"`
	VideoURL  string          `json:"video_url"`
	ImageURL  string          `json:"image_url"`
	Duration  float64         `json:"duration"`
	APIUsed   string          `json:"api_used"`
	TaskID    string          `json:"task_id"`
	Params    json.RawMessage `json:"params_used"`
	CreatedAt string          `json:"created_at"`
}

func (s *Supabase) selectSongs(ctx context.Context, q url.Values) ([]domain.SongRecord, error) {
	body, err := resilience.DoJSON(ctx, s.client, http.MethodGet, s.baseURL+"/rest/v1/songs?"+q.Encode(), nil, s.headers())
	if err != nil {
		return nil, err
	}
	var rows []songView
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode songs: %w", err)
	}
	songs := make([]domain.SongRecord, len(rows))
	for i, r := range rows {
		songs[i] = domain.SongRecord{
			ID:        rawID(r.ID),
			Title:     r.Title,
			PersonaID: r.PersonaID,
			Lyrics:    r.Lyrics,
			AudioURL:  r.AudioURL,
			VideoURL:  r.VideoURL,
			ImageURL:  r.ImageURL,
			Duration:  r.Duration,
			APIUsed:   r.APIUsed,
			TaskID:    r.TaskID,
			Params:    r.Params,
			CreatedAt: parseTimestamp(r.CreatedAt),
		}
	}
	return songs, nil
}

// parseTimestamp reads timestamptz and plain timestamp columns.
func parseTimestamp(v string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02T15:04:05.999999", v)
	return t
}

// ListSongs implements domain.SongLibrary.
func (s *Supabase) ListSongs(ctx context.Context, limit int) ([]domain.SongRecord, error) {
	return s.selectSongs(ctx, url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
		"limit":  {strconv.Itoa(limit)},
	})
}

// GetSong implements domain.SongLibrary.
func (s *Supabase) GetSong(ctx context.Context, id string) (domain.SongRecord, error) {
	songs, err := s.selectSongs(ctx, url.Values{"select": {"*"}, "id": {"eq." + id}})
	if err != nil {
		return domain.SongRecord{}, err
	}
	if len(songs) == 0 {
		return domain.SongRecord{}, domain.NewSubSystemError("catalog", "Supabase.GetSong", domain.ErrNotFound, id)
	}
	return songs[0], nil
}

// SearchSongs implements domain.SongLibrary. Characters that PostgREST
// reads as filter syntax are dropped from query.
func (s *Supabase) SearchSongs(ctx context.Context, query string, limit int) ([]domain.SongRecord, error) {
	term := filterSyntax.Replace(query)
	return s.selectSongs(ctx, url.Values{
		"select": {"*"},
		"or":     {fmt.Sprintf("(title.ilike.*%s*,lyrics.ilike.*%s*)", term, term)},
		"order":  {"created_at.desc"},
		"limit":  {strconv.Itoa(limit)},
	})
}

var filterSyntax = strings.NewReplacer(",", " ", "(", " ", ")", " ", "*", " ", `"`, " ")

var (
	_ domain.Catalog     = (*Supabase)(nil)
	_ domain.SongLibrary = (*Supabase)(nil)
)
