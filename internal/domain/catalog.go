package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SongRecord is the catalog row for a finished generation.
type SongRecord struct {
	ID        string          `json:"id,omitempty"`
	Title     string          `json:"title"`
	PersonaID string          `json:"persona_id,omitempty"`
	Lyrics    string          `json:"lyrics"`
	AudioURL  string          `json:"audio_url"`
	VideoURL  string          `json:"video_url,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
	Duration  float64         `json:"duration,omitempty"`
	APIUsed   string          `json:"api_used"`
	TaskID    string          `json:"task_id,omitempty"`
	Params    json.RawMessage `json:"params_used,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// FeedbackRecord stores listener feedback on a song.
type FeedbackRecord struct {
	ID        string    `json:"id,omitempty"`
	SongID    string    `json:"song_id"`
	Feedback  string    `json:"feedback"`
	Rating    int       `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentLogRecord is a bookkeeping entry written by personas.
type AgentLogRecord struct {
	ID        string    `json:"id,omitempty"`
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog is the durable, insert-only store. InsertSong writes a record with
// a TaskID at most once: a repeat returns the id of the stored row.
type Catalog interface {
	InsertSong(ctx context.Context, rec SongRecord) (string, error)
	InsertFeedback(ctx context.Context, rec FeedbackRecord) (string, error)
	InsertAgentLog(ctx context.Context, rec AgentLogRecord) (string, error)
	Close() error
}

// PendingJob is a timed-out generation kept for a later recheck.
type PendingJob struct {
	JobID     string
	Provider  string
	Request   GenerationRequest
	CreatedAt time.Time
	Attempts  int
}

// PendingJobStore tracks timed-out jobs. Only some catalogs implement it.
type PendingJobStore interface {
	SavePending(ctx context.Context, job PendingJob) error
	ListPending(ctx context.Context, limit int) ([]PendingJob, error)
	// GetPending returns ErrNotFound when jobID is not pending.
	GetPending(ctx context.Context, jobID string) (PendingJob, error)
	DeletePending(ctx context.Context, jobID string) error
	TouchPending(ctx context.Context, jobID string) error
}

// SongLibrary reads stored songs back, newest first.
type SongLibrary interface {
	ListSongs(ctx context.Context, limit int) ([]SongRecord, error)
	// GetSong returns ErrNotFound for an unknown id.
	GetSong(ctx context.Context, id string) (SongRecord, error)
	// SearchSongs matches query against titles and lyrics, ignoring case.
	SearchSongs(ctx context.Context, query string, limit int) ([]SongRecord, error)
}
