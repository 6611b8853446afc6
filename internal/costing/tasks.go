package costing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/catalog-pricing/internal/lock"
	"github.com/noah-isme/catalog-pricing/internal/order"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// TypeBackfill is the asynq task type of an asynchronous backfill.
const TypeBackfill = "costing:backfill"

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "costing"

type backfillPayload struct {
	JobID  string        `json:"jobId"`
	Orders []order.Order `json:"orders"`
}

// NewBackfillTask builds the asynq task for job id over orders.
func NewBackfillTask(jobID string, orders []order.Order, queue string) (*asynq.Task, error) {
	payload, err := json.Marshal(backfillPayload{JobID: jobID, Orders: orders})
	if err != nil {
		return nil, fmt.Errorf("encode backfill payload: %w", err)
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return asynq.NewTask(TypeBackfill, payload,
		asynq.Queue(queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
	), nil
}

// Enqueuer is the subset of *asynq.Client used to submit jobs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Jobs submits asynchronous backfills and reports their state.
type Jobs struct {
	Client  Enqueuer
	Results *ResultStore
	Queue   string
	Now     func() time.Time
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now().UTC()
}

// Submit records a queued job and enqueues it.
func (j *Jobs) Submit(ctx context.Context, orders []order.Order) (Job, error) {
	if j == nil || j.Client == nil || j.Results == nil {
		return Job{}, errors.New("costing: jobs not configured")
	}
	job := Job{ID: uuid.NewString(), Status: JobQueued, Orders: len(orders), SubmittedAt: j.now()}
	task, err := NewBackfillTask(job.ID, orders, j.Queue)
	if err != nil {
		return Job{}, err
	}
	if err := j.Results.Put(ctx, job); err != nil {
		return Job{}, fmt.Errorf("store job %s: %w", job.ID, err)
	}
	if _, err := j.Client.EnqueueContext(ctx, task); err != nil {
		err = fmt.Errorf("enqueue job %s: %w", job.ID, err)
		if delErr := j.Results.Delete(ctx, job.ID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("drop unqueued job %s: %w", job.ID, delErr))
		}
		return Job{}, err
	}
	return job, nil
}

// Get returns the stored state of job id.
func (j *Jobs) Get(ctx context.Context, id string) (Job, error) {
	if j == nil || j.Results == nil {
		return Job{}, errors.New("costing: jobs not configured")
	}
	return j.Results.Get(ctx, id)
}

// TaskHandler processes costing:backfill tasks.
type TaskHandler struct {
	Backfiller *Backfiller
	Results    *ResultStore
	Locker     lock.Locker
	LockTTL    time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

func (h *TaskHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// ProcessTask implements asynq.Handler. Cyclic compositions finish the job as
// failed without a retry; infrastructure errors are returned so asynq retries.
func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload backfillPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode backfill payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("backfill payload without job id: %w", asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("job_id", payload.JobID).Int("orders", len(payload.Orders)).Logger()

	ttl := h.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	err := h.Locker.TryWithLock(ctx, "backfill:"+payload.JobID, ttl, func(ctx context.Context) error {
		return h.run(ctx, payload, logger)
	})
	if errors.Is(err, lock.ErrHeld) {
		logger.Warn().Msg("backfill job already running")
	}
	return err
}

func (h *TaskHandler) run(ctx context.Context, payload backfillPayload, logger zerolog.Logger) error {
	job, err := h.Results.Get(ctx, payload.JobID)
	if errors.Is(err, ErrJobNotFound) {
		job = Job{ID: payload.JobID, Orders: len(payload.Orders), SubmittedAt: h.now()}
	} else if err != nil {
		return err
	}
	if job.Status == JobDone || job.Status == JobFailed {
		logger.Info().Str("status", string(job.Status)).Msg("backfill job already finished")
		return nil
	}
	job.Status = JobRunning
	if err := h.Results.Put(ctx, job); err != nil {
		return err
	}

	outcome, err := h.Backfiller.Backfill(ctx, payload.Orders)
	if err != nil && !errors.Is(err, pricing.ErrCyclicComposition) {
		return err
	}
	finished := h.now()
	job.FinishedAt = &finished
	job.Outcome = &outcome
	job.Status = JobDone
	if err != nil {
		job.Status = JobFailed
		job.Errors = splitJoined(err)
		logger.Error().Err(err).Msg("backfill job finished with failures")
	} else {
		logger.Info().Int("filled", outcome.Stats.Filled).Msg("backfill job done")
	}
	return h.Results.Put(ctx, job)
}

func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		errs := joined.Unwrap()
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
