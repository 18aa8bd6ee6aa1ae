package domain

import (
	"context"
	"strings"
	"time"
)

// JobState is the lifecycle state of a GenerationJob.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further status may change the job.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// GenerationRequest carries the parameters of one song creation.
type GenerationRequest struct {
	Title        string `json:"title"`
	Lyrics       string `json:"lyrics"`
	Style        string `json:"style,omitempty"`
	Description  string `json:"description,omitempty"`
	Instrumental bool   `json:"instrumental,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Genre        string `json:"genre,omitempty"`
	Mood         string `json:"mood,omitempty"`
	Timbre       string `json:"timbre,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	PersonaID    string `json:"persona_id,omitempty"`
}

// GenerationResult is the payload of a finished job.
type GenerationResult struct {
	AudioURL string  `json:"audio_url"`
	VideoURL string  `json:"video_url,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Title    string  `json:"title,omitempty"`
	Tags     string  `json:"tags,omitempty"`
}

// JobStatus is one status report from a provider.
type JobStatus struct {
	State    JobState
	Progress int
	Result   *GenerationResult
	Reason   string
}

// Succeeded applies the completion rules: explicit success, progress 100, or
// a well-formed https result URL.
func (s JobStatus) Succeeded() bool {
	if s.State == JobSucceeded || s.Progress >= 100 {
		return true
	}
	return s.Result != nil && ValidResultURL(s.Result.AudioURL)
}

// ValidResultURL reports whether u looks like a downloadable result.
func ValidResultURL(u string) bool {
	return strings.HasPrefix(u, "https://") && len(u) > len("https://")
}

// GenerationJob is one submitted request. Once State is terminal it never changes.
type GenerationJob struct {
	ID          string
	Provider    string
	SubmittedAt time.Time
	Progress    int
	State       JobState
	Result      *GenerationResult
	Reason      string
	Request     GenerationRequest
}

// Apply folds a status report into the job and returns the resulting state.
// Reports arriving after a terminal state are ignored.
func (j *GenerationJob) Apply(st JobStatus) JobState {
	if j.State.Terminal() {
		return j.State
	}
	if st.Progress > j.Progress {
		j.Progress = st.Progress
	}
	if st.Result != nil {
		j.Result = st.Result
	}
	switch {
	case st.Succeeded():
		j.State = JobSucceeded
		j.Progress = 100
	case st.State == JobFailed:
		j.State = JobFailed
		j.Reason = st.Reason
	default:
		j.State = JobPending
	}
	return j.State
}

// JobOutcome is what AwaitResult reports to its caller.
type JobOutcome struct {
	JobID    string
	Provider string
	State    JobState
	Result   *GenerationResult
	Reason   string
	RecordID string
	// Unsaved is set when the job succeeded but the catalog write failed.
	Unsaved bool
}

// GenerationProvider is an external long-running generation backend.
type GenerationProvider interface {
	Name() string
	// Create submits the job. A synchronous refusal wraps ErrProviderRejected.
	Create(ctx context.Context, req GenerationRequest) (jobID string, err error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
}
