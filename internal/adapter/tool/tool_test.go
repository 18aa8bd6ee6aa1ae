package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
)

// --- Fakes ---

type fakeHub struct {
	mu    sync.Mutex
	calls []string
	args  []map[string]any
	sent  []domain.OutboundReply
	out   string
	err   error
}

func (h *fakeHub) Send(_ context.Context, reply domain.OutboundReply) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, reply)
	return h.err
}

func (h *fakeHub) CallHub(_ context.Context, name string, args json.RawMessage) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(args, &m)
	h.calls = append(h.calls, name)
	h.args = append(h.args, m)
	return h.out, h.err
}

func (h *fakeHub) replies() []domain.OutboundReply {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.OutboundReply(nil), h.sent...)
}

type fakeJobs struct {
	outcome  domain.JobOutcome
	err      error
	requests []domain.GenerationRequest
	checked  []string
	async    chan func()
}

func (j *fakeJobs) Run(_ context.Context, req domain.GenerationRequest) (domain.JobOutcome, error) {
	j.requests = append(j.requests, req)
	return j.outcome, j.err
}

func (j *fakeJobs) Start(_ context.Context, req domain.GenerationRequest, onDone func(domain.JobOutcome)) (*domain.GenerationJob, error) {
	j.requests = append(j.requests, req)
	if j.err != nil {
		return nil, j.err
	}
	out := j.outcome
	j.async <- func() { onDone(out) }
	return &domain.GenerationJob{ID: out.JobID, Provider: out.Provider, State: domain.JobPending}, nil
}

func (j *fakeJobs) Check(_ context.Context, provider, jobID string) (domain.JobOutcome, error) {
	j.checked = append(j.checked, provider+"/"+jobID)
	return j.outcome, j.err
}

type fakeCatalog struct {
	feedback []domain.FeedbackRecord
	logs     []domain.AgentLogRecord
	err      error
	logErr   error
}

func (c *fakeCatalog) InsertSong(context.Context, domain.SongRecord) (string, error) { return "", nil }

func (c *fakeCatalog) InsertFeedback(_ context.Context, rec domain.FeedbackRecord) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.feedback = append(c.feedback, rec)
	return "fb-1", nil
}

func (c *fakeCatalog) InsertAgentLog(_ context.Context, rec domain.AgentLogRecord) (string, error) {
	c.logs = append(c.logs, rec)
	return "log-1", c.logErr
}

func (c *fakeCatalog) Close() error { return nil }

type fakeLibrary struct {
	songs []domain.SongRecord
	err   error
	query string
	limit int
}

func (l *fakeLibrary) ListSongs(_ context.Context, limit int) ([]domain.SongRecord, error) {
	l.limit = limit
	return l.songs, l.err
}

func (l *fakeLibrary) GetSong(_ context.Context, id string) (domain.SongRecord, error) {
	for _, s := range l.songs {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.SongRecord{}, domain.ErrNotFound
}

func (l *fakeLibrary) SearchSongs(_ context.Context, query string, limit int) ([]domain.SongRecord, error) {
	l.query, l.limit = query, limit
	return l.songs, l.err
}

type fakeLLM struct {
	reply string
	err   error
	req   domain.ChatRequest
}

func (l *fakeLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	l.req = req
	if l.err != nil {
		return nil, l.err
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: l.reply}}, nil
}

func (l *fakeLLM) Name() string { return "fake" }

func mentionCtx() context.Context {
	ctx := domain.ContextWithMention(context.Background(), domain.InboundMessage{ThreadID: "t-9", SenderID: "user_agent"})
	return domain.ContextWithAgentID(ctx, "yona_agent")
}

var readySong = domain.JobOutcome{
	JobID:    "job-1",
	Provider: "sonic",
	State:    domain.JobSucceeded,
	Result:   &domain.GenerationResult{AudioURL: "https://cdn.example.com/a.mp3", Duration: 182},
	RecordID: "rec-1",
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(&stubTool{name: "search_news"}))
	require.NoError(t, reg.Register(&stubTool{name: "compose_tweet"}))

	err := reg.Register(&stubTool{name: "search_news"})
	assert.ErrorContains(t, err, "already registered")

	_, err = reg.Get("create_song")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	assert.Equal(t, []string{"compose_tweet", "search_news"}, reg.Names())
	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "compose_tweet", schemas[0].Name)
}

// --- Rate limit ---

func TestWithRateLimit(t *testing.T) {
	inner := &stubTool{name: "search_news"}
	assert.Same(t, domain.Tool(inner), WithRateLimit(inner, 0))

	limited := WithRateLimit(inner, 2)
	for range 2 {
		r, err := limited.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.False(t, r.IsError)
	}
	r, err := limited.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.True(t, r.IsRetryable)
	assert.Contains(t, r.Content, "rate limit")
	assert.Equal(t, 2, inner.calls)
}

// --- Build ---

func TestBuild(t *testing.T) {
	hub := &fakeHub{}
	deps := Deps{
		Jobs:    &fakeJobs{},
		Catalog: &fakeCatalog{},
		Library: &fakeLibrary{},
		News:    NewNewsSearch(config.NewsConfig{}, nil),
		LLM:     &fakeLLM{},
		Hub:     hub,
		Logger:  nopLogger(),
	}

	for _, agent := range config.DefaultAgents() {
		reg, err := Build(agent, deps)
		require.NoError(t, err, agent.ID)
		assert.ElementsMatch(t, agent.Tools, reg.Names(), agent.ID)
	}

	_, err := Build(config.AgentConfig{ID: "x", Tools: []string{"upload_video"}}, deps)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	_, err = Build(config.AgentConfig{ID: "x", Tools: []string{"create_song"}}, Deps{Logger: nopLogger()})
	assert.ErrorIs(t, err, domain.ErrDisabled)
	_, err = Build(config.AgentConfig{ID: "x", Tools: []string{"search_songs"}}, Deps{Logger: nopLogger()})
	assert.ErrorIs(t, err, domain.ErrDisabled)

	_, err = Build(config.AgentConfig{ID: "x", Tools: []string{"list_agents", "list_agents"}}, deps)
	assert.ErrorContains(t, err, "already registered")
}

// --- Hub tools ---

func TestHubLink(t *testing.T) {
	link := &HubLink{}
	_, err := link.CallHub(context.Background(), "list_agents", nil)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.ErrorIs(t, link.Send(context.Background(), domain.OutboundReply{}), domain.ErrNotConnected)

	hub := &fakeHub{out: "ok"}
	link.Bind(hub)
	out, err := link.CallHub(context.Background(), "list_agents", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestListAgentsTool(t *testing.T) {
	hub := &fakeHub{out: "yona_agent, marvin_agent"}
	r, err := NewListAgentsTool(hub, nopLogger()).Execute(context.Background(), json.RawMessage(`{"include_details":true}`))
	require.NoError(t, err)
	assert.False(t, r.IsError)
	assert.Equal(t, "yona_agent, marvin_agent", r.Content)
	assert.Equal(t, []string{"list_agents"}, hub.calls)
	assert.Equal(t, true, hub.args[0]["includeDetails"])
}

func TestCreateThreadTool(t *testing.T) {
	hub := &fakeHub{out: "thread created: t-42"}
	tool := NewCreateThreadTool(hub, nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"thread_name":"launch","participants":["marvin_agent"]}`))
	require.NoError(t, err)
	assert.Equal(t, "thread created: t-42", r.Content)
	assert.Equal(t, "launch", hub.args[0]["threadName"])
	assert.Equal(t, []any{"marvin_agent"}, hub.args[0]["participantIds"])

	hub.err = domain.NewTransportError(domain.TransportClosed, "call", nil)
	r, err = tool.Execute(context.Background(), json.RawMessage(`{"thread_name":"launch","participants":["marvin_agent"]}`))
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.True(t, r.IsRetryable)

	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"thread_name":" ","participants":[]}`))
	assert.True(t, r.IsError)
}

// --- Song tools ---

func TestCreateSongTool_Sync(t *testing.T) {
	jobs := &fakeJobs{outcome: readySong}
	tool := NewCreateSongTool(jobs, &fakeHub{}, false, nopLogger())

	r, err := tool.Execute(mentionCtx(), json.RawMessage(`{"title":"Night Drive","lyrics":"la la","style":"synthwave","gender":"male"}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)
	assert.Contains(t, r.Content, `Song "Night Drive" is ready.`)
	assert.Contains(t, r.Content, "Audio: https://cdn.example.com/a.mp3")
	assert.Contains(t, r.Content, "Catalog id: rec-1")

	require.Len(t, jobs.requests, 1)
	req := jobs.requests[0]
	assert.Equal(t, "yona_agent", req.PersonaID)
	assert.Equal(t, "synthwave", req.Style)
	assert.Equal(t, "male", req.Gender)
}

func TestCreateSongTool_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		outcome   domain.JobOutcome
		err       error
		wantError bool
		want      string
	}{
		{"unsaved", domain.JobOutcome{JobID: "j", Provider: "sonic", State: domain.JobSucceeded, Unsaved: true,
			Result: &domain.GenerationResult{AudioURL: "https://x/y.mp3"}}, nil, false, "could not be saved"},
		{"timed out", domain.JobOutcome{JobID: "job-7", Provider: "nuro", State: domain.JobTimedOut}, nil, false, "job-7 (nuro) is still processing"},
		{"failed", domain.JobOutcome{JobID: "j", State: domain.JobFailed, Reason: "content policy"}, nil, true, "content policy"},
		{"no provider", domain.JobOutcome{}, domain.ErrNoProvider, true, "no generation provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewCreateSongTool(&fakeJobs{outcome: tt.outcome, err: tt.err}, nil, false, nopLogger())
			r, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"T","lyrics":"L"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, r.IsError)
			assert.Contains(t, r.Content, tt.want)
		})
	}
}

func TestCreateSongTool_AsyncFollowUp(t *testing.T) {
	jobs := &fakeJobs{outcome: readySong, async: make(chan func(), 1)}
	hub := &fakeHub{}
	tool := NewCreateSongTool(jobs, hub, true, nopLogger())

	r, err := tool.Execute(mentionCtx(), json.RawMessage(`{"title":"Night Drive","lyrics":"la la"}`))
	require.NoError(t, err)
	assert.Contains(t, r.Content, "submitted as job job-1 (sonic)")
	assert.Empty(t, hub.replies(), "nothing is posted before the job finishes")

	select {
	case done := <-jobs.async:
		done()
	case <-time.After(time.Second):
		t.Fatal("job was not started")
	}

	sent := hub.replies()
	require.Len(t, sent, 1)
	assert.Equal(t, "t-9", sent[0].ThreadID)
	assert.Equal(t, "user_agent", sent[0].RecipientID)
	assert.Contains(t, sent[0].Content, "https://cdn.example.com/a.mp3")
	assert.False(t, sent[0].IsError)
}

func TestCreateSongTool_AsyncWithoutMentionRunsSync(t *testing.T) {
	jobs := &fakeJobs{outcome: readySong}
	tool := NewCreateSongTool(jobs, &fakeHub{}, true, nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"title":"T","lyrics":"L"}`))
	require.NoError(t, err)
	assert.Contains(t, r.Content, "is ready")
}

func TestCheckSongStatusTool(t *testing.T) {
	jobs := &fakeJobs{outcome: domain.JobOutcome{JobID: "job-3", Provider: "sonic", State: domain.JobPending}}
	tool := NewCheckSongStatusTool(jobs, "sonic", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"job_id":"job-3"}`))
	require.NoError(t, err)
	assert.Contains(t, r.Content, "still processing")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"job_id":"job-4","provider":"nuro"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"sonic/job-3", "nuro/job-4"}, jobs.checked)

	r, _ = tool.Execute(context.Background(), json.RawMessage(`{}`))
	assert.True(t, r.IsError)
}

// --- Feedback ---

func TestFeedbackTool(t *testing.T) {
	catalog := &fakeCatalog{}
	tool := NewFeedbackTool(catalog, nopLogger())

	r, err := tool.Execute(mentionCtx(), json.RawMessage(`{"song_id":"rec-1","feedback":"  love the chorus ","rating":5}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)
	assert.Contains(t, r.Content, `"feedback_id": "fb-1"`)

	require.Len(t, catalog.feedback, 1)
	assert.Equal(t, "love the chorus", catalog.feedback[0].Feedback)
	require.Len(t, catalog.logs, 1)
	assert.Equal(t, "yona_agent", catalog.logs[0].AgentID)
	assert.Equal(t, "process_feedback", catalog.logs[0].Action)
}

func TestFeedbackTool_Errors(t *testing.T) {
	tool := NewFeedbackTool(&fakeCatalog{err: domain.ErrCatalogWrite}, nopLogger())
	r, err := tool.Execute(context.Background(), json.RawMessage(`{"song_id":"rec-1","feedback":"meh"}`))
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.Contains(t, r.Content, "catalog write failed")

	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"song_id":"rec-1","feedback":"x","rating":9}`))
	assert.True(t, r.IsError)

	// A failed log entry does not fail the call.
	catalog := &fakeCatalog{logErr: errors.New("disk full")}
	r, _ = NewFeedbackTool(catalog, nopLogger()).Execute(context.Background(), json.RawMessage(`{"song_id":"s","feedback":"ok"}`))
	assert.False(t, r.IsError)
}

// --- News ---

func TestNewsTool(t *testing.T) {
	var gotQuery string
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search-news", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"news":[
			{"title":"AI writes songs","url":"https://news.example.com/1","text":"` + strings.Repeat("a", 700) + `","publish_date":"2026-03-01 10:00:00"},
			{"title":"","url":"https://news.example.com/2"}
		]}`))
	}))
	defer srv.Close()

	search := NewNewsSearch(config.NewsConfig{BaseURL: srv.URL, APIKey: "k-1", Country: "us", Language: "en", Number: 3}, srv.Client())
	r, err := NewNewsTool(search, nopLogger()).Execute(context.Background(), json.RawMessage(`{"text":"ai music","number":2}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)

	assert.Equal(t, "k-1", gotKey)
	assert.Contains(t, gotQuery, "text=ai+music")
	assert.Contains(t, gotQuery, "source-country=us")
	assert.Contains(t, gotQuery, "number=2")
	assert.NotContains(t, gotQuery, "k-1")

	assert.Contains(t, r.Content, "### AI writes songs")
	assert.Contains(t, r.Content, "URL: https://news.example.com/1")
	assert.Contains(t, r.Content, "### No title")
	assert.Contains(t, r.Content, "...")
}

func TestNewsTool_NoResultsAndErrors(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"news":[]}`))
	}))
	defer srv.Close()

	tool := NewNewsTool(NewNewsSearch(config.NewsConfig{BaseURL: srv.URL}, srv.Client()), nopLogger())
	r, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"nothing"}`))
	require.NoError(t, err)
	assert.Equal(t, "No news articles found for the query.", r.Content)

	status = http.StatusPaymentRequired
	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"text":"nothing"}`))
	assert.True(t, r.IsError)
	assert.Contains(t, r.Content, "402")
}

// --- Tweet ---

func TestTweetTool(t *testing.T) {
	llm := &fakeLLM{reply: `"Your build passed. I assume it is a mistake."`}
	tool := NewTweetTool(llm, "gpt-4o-mini", "You are Marvin.", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"topic":"continuous integration","hashtags":["#DevOps","devops","AI"]}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)

	var out struct {
		Tweet  string `json:"tweet"`
		Length int    `json:"length"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.Content), &out))
	assert.Equal(t, "Your build passed. I assume it is a mistake.\n\n#continuousintegration #DevOps #AI", out.Tweet)
	assert.Equal(t, len([]rune(out.Tweet)), out.Length)
	assert.Equal(t, "You are Marvin.", llm.req.Messages[0].Content)
	assert.Equal(t, "gpt-4o-mini", llm.req.Model)
}

func TestTweetTool_Limits(t *testing.T) {
	llm := &fakeLLM{reply: strings.Repeat("word ", 100)}
	tool := NewTweetTool(llm, "", "", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"topic":"mondays","include_hashtags":false,"max_length":100}`))
	require.NoError(t, err)
	var out struct {
		Tweet string `json:"tweet"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.Content), &out))
	assert.Len(t, []rune(out.Tweet), 100)
	assert.True(t, strings.HasSuffix(out.Tweet, "..."))
	assert.NotContains(t, out.Tweet, "#")

	llm.err = domain.ErrRateLimit
	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"topic":"mondays"}`))
	assert.True(t, r.IsError)
	assert.True(t, r.IsRetryable)
}

func TestFormatTweet(t *testing.T) {
	got := formatTweet(strings.Repeat("é", 300), []string{"#x"}, maxTweetLength)
	assert.Len(t, []rune(got), maxTweetLength)
	assert.Equal(t, "#Go", toHashtag(" #Go! "))
	assert.Empty(t, toHashtag("!!!"))
}

// --- Songwriting ---

func TestSongConceptTool(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"title\":\"Neon Heartbeat\",\"mood\":\"bright\",\"instruments\":[\"Synths\"]}\n```"}
	tool := NewSongConceptTool(llm, "gpt-4o", "You are Yona.", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"prompt":"city lights after rain"}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)

	var c SongConcept
	require.NoError(t, json.Unmarshal([]byte(r.Content), &c))
	assert.Equal(t, "Neon Heartbeat", c.Title)
	assert.Equal(t, "bright", c.Mood)
	assert.Equal(t, []string{"Synths"}, c.Instruments)
	assert.Equal(t, "K-pop", c.Genre)
	assert.Equal(t, "k-pop, upbeat, modern", c.StyleTags)
	assert.Equal(t, "city lights after rain", c.Prompt)
	assert.Equal(t, "You are Yona.", llm.req.Messages[0].Content)
	assert.Contains(t, llm.req.Messages[1].Content, "city lights after rain")
}

func TestSongConceptTool_ProseReply(t *testing.T) {
	llm := &fakeLLM{reply: "A song about first snow in Seoul."}
	tool := NewSongConceptTool(llm, "", "", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"prompt":"first snow","genre":"Ballad"}`))
	require.NoError(t, err)
	var c SongConcept
	require.NoError(t, json.Unmarshal([]byte(r.Content), &c))
	assert.Equal(t, "A song about first snow in Seoul.", c.Description)
	assert.Equal(t, "Ballad Inspiration", c.Title)
	assert.Equal(t, "Ballad", c.Genre)

	llm.err = domain.ErrRateLimit
	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"prompt":"first snow"}`))
	assert.True(t, r.IsError)
	assert.True(t, r.IsRetryable)
}

func TestLyricsTool(t *testing.T) {
	llm := &fakeLLM{reply: "[Verse]\n서울의 밤이 빛나\nWe dance till dawn\n\n[Chorus]\nNeon heartbeat\n"}
	tool := NewLyricsTool(llm, "", "You are Yona.", nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"concept":"Neon Heartbeat","language":"Korean"}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)

	var out struct {
		Lyrics string `json:"lyrics"`
		Style  string `json:"style"`
		Lines  int    `json:"lines"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.Content), &out))
	assert.True(t, strings.HasPrefix(out.Lyrics, "[Verse]\n서울의 밤이 빛나"))
	assert.Equal(t, "K-pop", out.Style)
	assert.Equal(t, 3, out.Lines)
	assert.Contains(t, llm.req.Messages[1].Content, "Korean")

	llm.reply = "   "
	r, err = tool.Execute(context.Background(), json.RawMessage(`{"concept":"x"}`))
	require.NoError(t, err)
	assert.True(t, r.IsError)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", stripFence("  plain "))
}

// --- Song library ---

func TestListSongsTool(t *testing.T) {
	lib := &fakeLibrary{songs: []domain.SongRecord{
		{ID: "s2", Title: "Neon Seoul", AudioURL: "https://cdn/2.mp3", Lyrics: "long lyrics", CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "s1", Title: "Rainy Busan", AudioURL: "https://cdn/1.mp3"},
	}}
	tool := NewListSongsTool(lib, nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 10, lib.limit)
	assert.Contains(t, r.Content, "Neon Seoul")
	assert.Contains(t, r.Content, "2026-02-01T00:00:00Z")
	assert.NotContains(t, r.Content, "long lyrics")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"limit":500}`))
	require.NoError(t, err)
	assert.Equal(t, 50, lib.limit)

	lib.songs = nil
	r, _ = tool.Execute(context.Background(), json.RawMessage(`{}`))
	assert.False(t, r.IsError)
	assert.Contains(t, r.Content, "no songs")
}

func TestGetSongTool(t *testing.T) {
	lib := &fakeLibrary{songs: []domain.SongRecord{{ID: "s1", Title: "Rainy Busan", Lyrics: "비가 와"}}}
	tool := NewGetSongTool(lib, nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"song_id":"s1"}`))
	require.NoError(t, err)
	require.False(t, r.IsError, r.Content)
	assert.Contains(t, r.Content, "비가 와")

	r, err = tool.Execute(context.Background(), json.RawMessage(`{"song_id":"nope"}`))
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.Contains(t, r.Content, "no song with id nope")
}

func TestSearchSongsTool(t *testing.T) {
	lib := &fakeLibrary{songs: []domain.SongRecord{{ID: "s1", Title: "Neon Seoul"}}}
	tool := NewSearchSongsTool(lib, nopLogger())

	r, err := tool.Execute(context.Background(), json.RawMessage(`{"query":" neon "}`))
	require.NoError(t, err)
	assert.Equal(t, "neon", lib.query)
	assert.Equal(t, 5, lib.limit)
	assert.Contains(t, r.Content, `"count": 1`)

	lib.err = errors.New("catalog offline")
	r, _ = tool.Execute(context.Background(), json.RawMessage(`{"query":"neon"}`))
	assert.True(t, r.IsError)
}
