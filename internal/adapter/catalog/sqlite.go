// Package catalog stores finished songs, listener feedback and agent logs.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"coral-agents/internal/domain"
)

// SQLite implements domain.Catalog and domain.PendingJobStore on a local file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) a SQLite database at dbPath and runs the
// schema migration.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	// One writer at a time; the poller and the feedback tool may race.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog db: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS songs (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			persona_id  TEXT NOT NULL DEFAULT '',
			lyrics      TEXT NOT NULL DEFAULT '',
			audio_url   TEXT NOT NULL,
			video_url   TEXT NOT NULL DEFAULT '',
			image_url   TEXT NOT NULL DEFAULT '',
			duration    REAL NOT NULL DEFAULT 0,
			api_used    TEXT NOT NULL,
			task_id     TEXT,
			params_used TEXT NOT NULL DEFAULT '{}',
			created_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS feedback (
			id         TEXT PRIMARY KEY,
			song_id    TEXT NOT NULL,
			feedback   TEXT NOT NULL,
			rating     INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS agent_logs (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			action     TEXT NOT NULL,
			details    TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pending_jobs (
			job_id     TEXT PRIMARY KEY,
			provider   TEXT NOT NULL,
			request    TEXT NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	// Files created before songs carried a task id.
	if err := addColumn(db, "songs", "task_id", "TEXT"); err != nil {
		return err
	}
	_, err = db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS songs_task_id ON songs(task_id)")
	return err
}

func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) stamp(t time.Time) (string, time.Time) {
	if t.IsZero() {
		t = s.now()
	}
	return ulid.Make().String(), t.UTC()
}

func writeErr(op string, err error) error {
	return domain.NewSubSystemError("catalog", op, fmt.Errorf("%w: %w", domain.ErrCatalogWrite, err), "")
}

// InsertSong implements domain.Catalog. A second song for the same task id
// is not written; the first row's id is returned instead.
func (s *SQLite) InsertSong(ctx context.Context, rec domain.SongRecord) (string, error) {
	id, created := s.stamp(rec.CreatedAt)
	params := string(rec.Params)
	if params == "" {
		params = "{}"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO songs (id, title, persona_id, lyrics, audio_url, video_url, image_url, duration, api_used, task_id, params_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		id, rec.Title, rec.PersonaID, rec.Lyrics, rec.AudioURL, rec.VideoURL, rec.ImageURL,
		rec.Duration, rec.APIUsed, nullable(rec.TaskID), params, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", writeErr("SQLite.InsertSong", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && rec.TaskID != "" {
		var existing string
		if err := s.db.QueryRowContext(ctx, "SELECT id FROM songs WHERE task_id = ?", rec.TaskID).Scan(&existing); err != nil {
			return "", writeErr("SQLite.InsertSong", err)
		}
		return existing, nil
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const songColumns = "id, title, persona_id, lyrics, audio_url, video_url, image_url, duration, api_used, COALESCE(task_id, ''), params_used, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner) (domain.SongRecord, error) {
	var (
		rec     domain.SongRecord
		params  string
		created string
	)
	err := row.Scan(&rec.ID, &rec.Title, &rec.PersonaID, &rec.Lyrics, &rec.AudioURL, &rec.VideoURL,
		&rec.ImageURL, &rec.Duration, &rec.APIUsed, &rec.TaskID, &params, &created)
	if err != nil {
		return rec, err
	}
	rec.Params = json.RawMessage(params)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

func (s *SQLite) querySongs(ctx context.Context, query string, args ...any) ([]domain.SongRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var songs []domain.SongRecord
	for rows.Next() {
		rec, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, rec)
	}
	return songs, rows.Err()
}

// ListSongs implements domain.SongLibrary.
func (s *SQLite) ListSongs(ctx context.Context, limit int) ([]domain.SongRecord, error) {
	return s.querySongs(ctx, "SELECT "+songColumns+" FROM songs ORDER BY created_at DESC LIMIT ?", limit)
}

// GetSong implements domain.SongLibrary.
func (s *SQLite) GetSong(ctx context.Context, id string) (domain.SongRecord, error) {
	rec, err := scanSong(s.db.QueryRowContext(ctx, "SELECT "+songColumns+" FROM songs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return rec, domain.NewSubSystemError("catalog", "SQLite.GetSong", domain.ErrNotFound, id)
	}
	return rec, err
}

// SearchSongs implements domain.SongLibrary.
func (s *SQLite) SearchSongs(ctx context.Context, query string, limit int) ([]domain.SongRecord, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return s.querySongs(ctx,
		"SELECT "+songColumns+` FROM songs WHERE title LIKE ? ESCAPE '\' OR lyrics LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC LIMIT ?`,
		pattern, pattern, limit)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// InsertFeedback implements domain.Catalog.
func (s *SQLite) InsertFeedback(ctx context.Context, rec domain.FeedbackRecord) (string, error) {
	id, created := s.stamp(rec.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO feedback (id, song_id, feedback, rating, created_at) VALUES (?, ?, ?, ?, ?)",
		id, rec.SongID, rec.Feedback, rec.Rating, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", writeErr("SQLite.InsertFeedback", err)
	}
	return id, nil
}

// InsertAgentLog implements domain.Catalog.
func (s *SQLite) InsertAgentLog(ctx context.Context, rec domain.AgentLogRecord) (string, error) {
	id, created := s.stamp(rec.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO agent_logs (id, agent_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)",
		id, rec.AgentID, rec.Action, rec.Details, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", writeErr("SQLite.InsertAgentLog", err)
	}
	return id, nil
}

// SavePending implements domain.PendingJobStore. Saving a job twice is a no-op.
func (s *SQLite) SavePending(ctx context.Context, job domain.PendingJob) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal pending request: %w", err)
	}
	_, created := s.stamp(job.CreatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_jobs (job_id, provider, request, attempts, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO NOTHING`,
		job.JobID, job.Provider, string(req), job.Attempts, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return writeErr("SQLite.SavePending", err)
	}
	return nil
}

// ListPending returns the oldest pending jobs first.
func (s *SQLite) ListPending(ctx context.Context, limit int) ([]domain.PendingJob, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_jobs ORDER BY created_at LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.PendingJob
	for rows.Next() {
		job, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetPending implements domain.PendingJobStore.
func (s *SQLite) GetPending(ctx context.Context, jobID string) (domain.PendingJob, error) {
	job, err := scanPending(s.db.QueryRowContext(ctx,
		"SELECT "+pendingColumns+" FROM pending_jobs WHERE job_id = ?", jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return job, domain.NewSubSystemError("catalog", "SQLite.GetPending", domain.ErrNotFound, jobID)
	}
	return job, err
}

const pendingColumns = "job_id, provider, request, attempts, created_at"

func scanPending(row rowScanner) (domain.PendingJob, error) {
	var (
		job     domain.PendingJob
		req     string
		created string
	)
	if err := row.Scan(&job.JobID, &job.Provider, &req, &job.Attempts, &created); err != nil {
		return job, err
	}
	if err := json.Unmarshal([]byte(req), &job.Request); err != nil {
		return job, fmt.Errorf("decode pending request %s: %w", job.JobID, err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return job, nil
}

// DeletePending implements domain.PendingJobStore.
func (s *SQLite) DeletePending(ctx context.Context, jobID string) error {
	return s.affectOne(ctx, "SQLite.DeletePending", "DELETE FROM pending_jobs WHERE job_id = ?", jobID)
}

// TouchPending records one more recheck of jobID.
func (s *SQLite) TouchPending(ctx context.Context, jobID string) error {
	return s.affectOne(ctx, "SQLite.TouchPending", "UPDATE pending_jobs SET attempts = attempts + 1 WHERE job_id = ?", jobID)
}

func (s *SQLite) affectOne(ctx context.Context, op, query, jobID string) error {
	res, err := s.db.ExecContext(ctx, query, jobID)
	if err != nil {
		return writeErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSubSystemError("catalog", op, domain.ErrNotFound, jobID)
	}
	return nil
}

// CountSongs reports how many songs are stored.
func (s *SQLite) CountSongs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM songs").Scan(&n)
	return n, err
}

var (
	_ domain.Catalog         = (*SQLite)(nil)
	_ domain.PendingJobStore = (*SQLite)(nil)
	_ domain.SongLibrary     = (*SQLite)(nil)
)
