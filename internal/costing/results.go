package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned for unknown or expired job identifiers.
var ErrJobNotFound = errors.New("costing: job not found")

// JobStatus is the lifecycle state of an asynchronous backfill.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the stored state of an asynchronous backfill.
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	Orders      int        `json:"orders"`
	SubmittedAt time.Time  `json:"submittedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	Outcome     *Outcome   `json:"outcome,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
}

// ResultStore keeps job state in Redis for TTL after the last update.
type ResultStore struct {
	R      *redis.Client
	Prefix string
	TTL    time.Duration
}

const defaultResultTTL = 24 * time.Hour

func (s *ResultStore) key(id string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "costing"
	}
	return prefix + ":job:" + id
}

// Put stores job, replacing any previous state.
func (s *ResultStore) Put(ctx context.Context, job Job) error {
	if s == nil || s.R == nil {
		return errors.New("costing: result store not configured")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return s.R.Set(ctx, s.key(job.ID), data, ttl).Err()
}

// Get loads the job with id.
func (s *ResultStore) Get(ctx context.Context, id string) (Job, error) {
	if s == nil || s.R == nil {
		return Job{}, errors.New("costing: result store not configured")
	}
	data, err := s.R.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

// Delete removes the job with id. Deleting a missing job is not an error.
func (s *ResultStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.R == nil {
		return errors.New("costing: result store not configured")
	}
	return s.R.Del(ctx, s.key(id)).Err()
}
