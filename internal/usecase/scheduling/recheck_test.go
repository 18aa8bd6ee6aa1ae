package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coral-agents/internal/domain"
	"coral-agents/internal/usecase/jobpoller"
)

type memPending struct {
	mu      sync.Mutex
	jobs    []domain.PendingJob
	deleted []string
	touched []string
	listErr error
}

func (m *memPending) SavePending(_ context.Context, job domain.PendingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memPending) ListPending(_ context.Context, limit int) ([]domain.PendingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit > len(m.jobs) {
		limit = len(m.jobs)
	}
	return append([]domain.PendingJob(nil), m.jobs[:limit]...), nil
}

func (m *memPending) GetPending(_ context.Context, id string) (domain.PendingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		return m.jobs[i], nil
	}
	return domain.PendingJob{}, domain.ErrNotFound
}

func (m *memPending) DeletePending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	if i := m.index(id); i >= 0 {
		m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
	}
	return nil
}

func (m *memPending) TouchPending(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	if i := m.index(id); i >= 0 {
		m.jobs[i].Attempts++
	}
	return nil
}

func (m *memPending) index(id string) int {
	for i, j := range m.jobs {
		if j.JobID == id {
			return i
		}
	}
	return -1
}

// stateRechecker answers with a fixed state per job id.
type stateRechecker struct {
	states  map[string]domain.JobState
	unsaved map[string]bool
	errs    map[string]error
	checked []string
}

func (r *stateRechecker) Recheck(_ context.Context, pj domain.PendingJob) (domain.JobOutcome, error) {
	r.checked = append(r.checked, pj.JobID)
	if err := r.errs[pj.JobID]; err != nil {
		return domain.JobOutcome{}, err
	}
	return domain.JobOutcome{JobID: pj.JobID, State: r.states[pj.JobID], Unsaved: r.unsaved[pj.JobID]}, nil
}

func TestPendingRecheck_Run(t *testing.T) {
	store := &memPending{jobs: []domain.PendingJob{
		{JobID: "done", Provider: "sonic"},
		{JobID: "broken", Provider: "sonic"},
		{JobID: "slow", Provider: "nuro", Attempts: 2},
		{JobID: "stale", Provider: "nuro", Attempts: 12},
		{JobID: "flaky", Provider: "sonic"},
	}}
	poller := &stateRechecker{
		states: map[string]domain.JobState{
			"done":   domain.JobSucceeded,
			"broken": domain.JobFailed,
			"slow":   domain.JobTimedOut,
		},
		errs: map[string]error{"flaky": domain.ErrRateLimit},
	}

	r := NewPendingRecheck(store, poller, 10, 12, newTestLogger())
	stats, err := r.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, RecheckStats{Checked: 4, Succeeded: 1, Failed: 1, Pending: 1, Dropped: 1, Errors: 1}, stats)
	assert.Equal(t, []string{"done", "broken", "slow", "flaky"}, poller.checked)
	assert.Equal(t, []string{"stale"}, store.deleted)

	sort.Strings(store.touched)
	assert.Equal(t, []string{"flaky"}, store.touched)
}

func TestPendingRecheck_BatchLimit(t *testing.T) {
	store := &memPending{}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SavePending(context.Background(), domain.PendingJob{JobID: id}))
	}
	poller := &stateRechecker{}

	_, err := NewPendingRecheck(store, poller, 2, 0, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, poller.checked)
}

func TestPendingRecheck_ListError(t *testing.T) {
	store := &memPending{listErr: errors.New("db locked")}
	_, err := NewPendingRecheck(store, &stateRechecker{}, 0, 0, nil).Run(context.Background())
	assert.ErrorContains(t, err, "db locked")
}

func TestPendingRecheck_Task(t *testing.T) {
	task := NewPendingRecheck(&memPending{}, &stateRechecker{}, 0, 0, newTestLogger()).Task("@every 5m")
	assert.Equal(t, "pending_recheck", task.Name)
	assert.Equal(t, "@every 5m", task.Schedule)
	require.NoError(t, task.Run(context.Background()))
}

// doneSong reports every job as finished.
type doneSong struct{}

func (doneSong) Name() string { return "sonic" }
func (doneSong) Create(context.Context, domain.GenerationRequest) (string, error) {
	return "job-1", nil
}
func (doneSong) Status(context.Context, string) (domain.JobStatus, error) {
	return domain.JobStatus{State: domain.JobSucceeded, Result: &domain.GenerationResult{AudioURL: "https://cdn/a.mp3"}}, nil
}

type oneProvider struct{ p domain.GenerationProvider }

func (o oneProvider) For(domain.GenerationRequest) []domain.GenerationProvider {
	return []domain.GenerationProvider{o.p}
}
func (o oneProvider) Get(name string) (domain.GenerationProvider, bool) {
	return o.p, name == o.p.Name()
}

// downCatalog refuses every write.
type downCatalog struct{ songs int }

func (c *downCatalog) InsertSong(context.Context, domain.SongRecord) (string, error) {
	c.songs++
	return "", domain.ErrCatalogWrite
}
func (c *downCatalog) InsertFeedback(context.Context, domain.FeedbackRecord) (string, error) {
	return "", domain.ErrCatalogWrite
}
func (c *downCatalog) InsertAgentLog(context.Context, domain.AgentLogRecord) (string, error) {
	return "", domain.ErrCatalogWrite
}
func (c *downCatalog) Close() error { return nil }

func TestPendingRecheck_GivesUpOnUnsavedSuccess(t *testing.T) {
	store := &memPending{jobs: []domain.PendingJob{{JobID: "job-1", Provider: "sonic"}}}
	catalog := &downCatalog{}
	poller := jobpoller.New(jobpoller.Defaults(), jobpoller.Deps{
		Providers: oneProvider{doneSong{}},
		Catalog:   catalog,
		Pending:   store,
		Logger:    newTestLogger(),
	})
	defer poller.Close()
	r := NewPendingRecheck(store, poller, 10, 3, newTestLogger())

	var last RecheckStats
	for range 5 {
		stats, err := r.Run(context.Background())
		require.NoError(t, err)
		last = stats
		if stats.Dropped > 0 {
			break
		}
		assert.Equal(t, 1, stats.Unsaved)
		assert.Zero(t, stats.Succeeded)
	}

	assert.Equal(t, 1, last.Dropped)
	assert.Equal(t, 3, catalog.songs, "one write attempt per sweep until the limit")
	assert.Empty(t, store.jobs)
}

func TestPendingRecheck_CountsUnsaved(t *testing.T) {
	store := &memPending{jobs: []domain.PendingJob{{JobID: "done"}, {JobID: "late"}}}
	poller := &stateRechecker{
		states:  map[string]domain.JobState{"done": domain.JobSucceeded, "late": domain.JobSucceeded},
		unsaved: map[string]bool{"late": true},
	}
	stats, err := NewPendingRecheck(store, poller, 10, 0, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecheckStats{Checked: 2, Succeeded: 1, Unsaved: 1}, stats)
}
