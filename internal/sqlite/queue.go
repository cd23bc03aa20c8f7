package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoJobs is returned by Claim when the queue is empty
var ErrNoJobs = errors.New("no pending jobs")

// Job is a unit of post-processing work
type Job struct {
	ID        int64
	Queue     string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Queue implements files.Dispatcher on top of the jobs table. Workers poll it
// with Claim.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a job queue backed by the repository database
func NewQueue(repo *Repository) *Queue {
	return &Queue{db: repo.DB()}
}

// Enqueue appends a JSON encoded payload to the named queue
func (q *Queue) Enqueue(ctx context.Context, queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	query := `INSERT INTO jobs (queue, payload, created_at) VALUES (?, ?, ?)`
	if _, err := q.db.ExecContext(ctx, query, queue, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim takes the oldest unclaimed job from the named queue
func (q *Queue) Claim(ctx context.Context, queue string) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	SELECT id, queue, payload, created_at FROM jobs
	WHERE queue = ? AND claimed_at IS NULL
	ORDER BY id
	LIMIT 1
	`

	var (
		job     Job
		payload string
	)
	err = tx.QueryRowContext(ctx, query, queue).Scan(
		&job.ID,
		&job.Queue,
		&payload,
		&job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobs
		}
		return nil, fmt.Errorf("failed to find pending job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET claimed_at = ? WHERE id = ?`, time.Now().UTC(), job.ID); err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job claim: %w", err)
	}

	job.Payload = json.RawMessage(payload)
	return &job, nil
}

// Pending returns the number of unclaimed jobs in the named queue
func (q *Queue) Pending(ctx context.Context, queue string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM jobs WHERE queue = ? AND claimed_at IS NULL`
	if err := q.db.QueryRowContext(ctx, query, queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
