// Package labstore persists lab extraction jobs and their results in SQLite.
package labstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for unknown job ids or missing results.
var ErrNotFound = errors.New("job not found")

// JobStatus represents the current state of a lab job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobParams describes the inputs of one extraction job.
type JobParams struct {
	Model      string   `json:"model"`
	PromptPath string   `json:"prompt"`
	Files      []string `json:"files"`
	// UploadDir is the per-job upload directory, removed once the job ends.
	UploadDir string `json:"upload_dir,omitempty"`
	UseSample bool   `json:"use_sample,omitempty"`
}

// Job is a lab extraction job.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	Params     JobParams  `json:"params"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	HasResult  bool       `json:"has_result"`
}

// Store provides persistent storage for lab jobs using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{db: db, enc: enc, dec: dec}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.dec.Close()
	s.enc.Close()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lab_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_lab_jobs_status ON lab_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_lab_jobs_finished ON lab_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS lab_results (
		job_id TEXT PRIMARY KEY,
		raw_size INTEGER NOT NULL,
		data BLOB NOT NULL,
		FOREIGN KEY (job_id) REFERENCES lab_jobs(job_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `j.job_id, j.status, j.params_json, j.error, j.created_at, j.started_at, j.finished_at,
	EXISTS(SELECT 1 FROM lab_results r WHERE r.job_id = j.job_id)`

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO lab_jobs (job_id, status, params_json, error, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, job.ID, string(job.Status), string(paramsJSON), job.Error, job.CreatedAt.UTC().Format(timeLayout))
	return err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(jobID string) (*Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM lab_jobs j WHERE j.job_id = ?`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM lab_jobs j ORDER BY j.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs, oldest first.
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM lab_jobs j WHERE j.status = ? ORDER BY j.created_at ASC`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateJobStarted moves a queued job to running. It reports false when the
// job was no longer queued (for example cancelled while waiting).
func (s *Store) UpdateJobStarted(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE lab_jobs SET status = ?, started_at = ?
		WHERE job_id = ? AND status = ?
	`, string(JobStatusRunning), now(), jobID, string(JobStatusQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelQueued marks a job cancelled only if it has not started. It reports
// whether the job was cancelled.
func (s *Store) CancelQueued(jobID, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE lab_jobs SET status = ?, error = ?, finished_at = ?
		WHERE job_id = ? AND status = ?
	`, string(JobStatusCancelled), errMsg, now(), jobID, string(JobStatusQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateJobStatus sets the status and error message. Terminal states record
// finished_at.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Terminal() {
		t := now()
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE lab_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// SaveResult stores the job's JSON result compressed with zstd.
func (s *Store) SaveResult(jobID string, result json.RawMessage) error {
	compressed := s.enc.EncodeAll(result, nil)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO lab_results (job_id, raw_size, data) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET raw_size = excluded.raw_size, data = excluded.data
	`, jobID, len(result), compressed)
	return err
}

// GetResult returns the decompressed JSON result for a job.
func (s *Store) GetResult(jobID string) (json.RawMessage, error) {
	var rawSize int
	var data []byte
	err := s.db.QueryRow(`SELECT raw_size, data FROM lab_results WHERE job_id = ?`, jobID).Scan(&rawSize, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	out, err := s.dec.DecodeAll(data, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	return json.RawMessage(out), nil
}

// MarkRunningAsFailed fails every running job. Used on startup, since no
// worker survives a restart.
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE lab_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now(), string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes jobs that finished more than retentionDays ago.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)

	if _, err := s.db.Exec(`
		DELETE FROM lab_results WHERE job_id IN (
			SELECT job_id FROM lab_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff); err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`DELETE FROM lab_jobs WHERE finished_at IS NOT NULL AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job and its result.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM lab_results WHERE job_id = ?", jobID); err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM lab_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		var paramsJSON, createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		if err := rows.Scan(
			&job.ID,
			&job.Status,
			&paramsJSON,
			&job.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
			&job.HasResult,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		job.CreatedAt, _ = time.Parse(timeLayout, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(timeLayout, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(timeLayout, finishedAtStr.String)
			job.FinishedAt = &t
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
