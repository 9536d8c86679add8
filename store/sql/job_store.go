package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const defaultClaimRetries = 5

// JobStore is the durable JobQueue. Claims are a select followed by a
// conditional update scoped to status = 'pending'; a zero row count means
// another worker won and the selection is retried.
type JobStore struct {
	db           *bun.DB
	repo         repository.Repository[*jobRecord]
	retryPolicy  core.RetryPolicy
	claimRetries int
	now          func() time.Time
}

type JobStoreOption func(*JobStore)

func WithJobRetryPolicy(policy core.RetryPolicy) JobStoreOption {
	return func(s *JobStore) {
		if policy != nil {
			s.retryPolicy = policy
		}
	}
}

func WithJobClock(now func() time.Time) JobStoreOption {
	return func(s *JobStore) {
		if now != nil {
			s.now = now
		}
	}
}

func WithClaimRetries(retries int) JobStoreOption {
	return func(s *JobStore) {
		if retries > 0 {
			s.claimRetries = retries
		}
	}
}

func NewJobStore(db *bun.DB, opts ...JobStoreOption) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	store := &JobStore{
		db:           db,
		repo:         repo,
		retryPolicy:  core.DefaultRetryPolicy(),
		claimRetries: defaultClaimRetries,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *JobStore) Enqueue(ctx context.Context, req core.EnqueueRequest) (string, error) {
	if s == nil || s.repo == nil {
		return "", fmt.Errorf("sqlstore: job store is not configured")
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	now := s.clock()
	payload := core.CloneMap(req.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	record := &jobRecord{
		ID:          uuid.NewString(),
		Type:        strings.TrimSpace(req.Type),
		Payload:     payload,
		Status:      string(core.JobStatusPending),
		Attempts:    0,
		MaxAttempts: req.EffectiveMaxAttempts(),
		AvailableAt: now.Add(req.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("sqlstore: worker id is required")
	}

	for attempt := 0; attempt < s.claimRetries; attempt++ {
		now := s.clock()
		candidate := &jobRecord{}
		err := s.db.NewSelect().
			Model(candidate).
			Column("id").
			Where("?TableAlias.status = ?", string(core.JobStatusPending)).
			Where("?TableAlias.available_at <= ?", now).
			OrderExpr("?TableAlias.created_at ASC").
			OrderExpr("?TableAlias.id ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}

		res, err := s.db.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("status = ?", string(core.JobStatusRunning)).
			Set("locked_by = ?", workerID).
			Set("locked_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", candidate.ID).
			Where("status = ?", string(core.JobStatusPending)).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			continue
		}
		job, err := s.Get(ctx, candidate.ID)
		if err != nil {
			return nil, err
		}
		return &job, nil
	}
	return nil, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, workerID string, result map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	workerID = strings.TrimSpace(workerID)
	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusCompleted)).
		Set("result = ?", nullableJSON(result)).
		Set("error_text = NULL").
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("updated_at = ?", s.clock()).
		Where("id = ?", jobID).
		Where("status = ?", string(core.JobStatusRunning)).
		Where("locked_by = ?", workerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return err
		}
		return lockLostError(job, workerID)
	}
	return nil
}

func lockLostError(job core.Job, workerID string) error {
	if job.Status != core.JobStatusRunning {
		return fmt.Errorf("%w: job %s is %s", core.ErrJobNotClaimable, job.ID, job.Status)
	}
	return fmt.Errorf("%w: job %s is locked by %q, not %q", core.ErrJobNotClaimable, job.ID, job.LockedBy, workerID)
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, workerID string, cause error, retry bool) (core.FailureOutcome, error) {
	if s == nil || s.db == nil {
		return core.FailureOutcome{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return core.FailureOutcome{}, err
	}
	workerID = strings.TrimSpace(workerID)
	if job.Status != core.JobStatusRunning || job.LockedBy != workerID {
		return core.FailureOutcome{}, lockLostError(job, workerID)
	}
	previousAttempts := job.Attempts
	outcome := core.ApplyFailure(&job, cause, retry, s.clock(), s.retryPolicy)

	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(job.Status)).
		Set("attempts = ?", job.Attempts).
		Set("available_at = ?", job.AvailableAt.UTC()).
		Set("error_text = ?", job.ErrorText).
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("updated_at = ?", job.UpdatedAt.UTC()).
		Where("id = ?", jobID).
		Where("status = ?", string(core.JobStatusRunning)).
		Where("locked_by = ?", workerID).
		Where("attempts = ?", previousAttempts).
		Exec(ctx)
	if err != nil {
		return core.FailureOutcome{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.FailureOutcome{}, fmt.Errorf("%w: job %s changed concurrently", core.ErrJobNotClaimable, jobID)
	}
	return outcome, nil
}

func (s *JobStore) Get(ctx context.Context, jobID string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(jobID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Job{}, fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) List(ctx context.Context, filter core.JobFilter) ([]core.Job, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(core.ClampLimit(filter.Limit, 50, 500), max(filter.Offset, 0)),
	}
	if jobType := strings.TrimSpace(filter.Type); jobType != "" {
		selectors = append(selectors, repository.SelectBy("type", "=", jobType))
	}
	if filter.Status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", string(filter.Status)))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	jobs := make([]core.Job, 0, len(records))
	for _, record := range records {
		jobs = append(jobs, record.toDomain())
	}
	return jobs, nil
}

func (s *JobStore) Cancel(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusFailed)).
		Set("error_text = ?", "cancelled").
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("updated_at = ?", s.clock()).
		Where("id = ?", jobID).
		Where("status IN (?)", bun.In([]string{string(core.JobStatusPending), string(core.JobStatusRunning)})).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

func (s *JobStore) Retry(ctx context.Context, jobID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	now := s.clock()
	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusPending)).
		Set("error_text = NULL").
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("available_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", jobID).
		Where("status <> ?", string(core.JobStatusRunning)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

func (s *JobStore) Stats(ctx context.Context) (core.JobStats, error) {
	if s == nil || s.db == nil {
		return core.JobStats{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	var rows []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*jobRecord)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return core.JobStats{}, err
	}
	var stats core.JobStats
	for _, row := range rows {
		stats.Add(core.JobStatus(row.Status), row.Count)
	}
	return stats, nil
}

func (s *JobStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*jobRecord)(nil)).
		Where("status IN (?)", bun.In([]string{string(core.JobStatusCompleted), string(core.JobStatusFailed)})).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *JobStore) ReclaimStale(ctx context.Context, lockedBefore time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	now := s.clock()
	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusPending)).
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("available_at = ?", now).
		Set("updated_at = ?", now).
		Where("status = ?", string(core.JobStatusRunning)).
		Where("locked_at < ?", lockedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *JobStore) transitionError(ctx context.Context, jobID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", core.ErrInvalidJobTransition, jobID, job.Status)
}

func (s *JobStore) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	job := core.Job{
		ID:          r.ID,
		Type:        r.Type,
		Payload:     core.CloneMap(r.Payload),
		Status:      core.JobStatus(r.Status),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		AvailableAt: r.AvailableAt.UTC(),
		LockedBy:    r.LockedBy,
		Result:      core.CloneMap(r.Result),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.LockedAt != nil {
		lockedAt := r.LockedAt.UTC()
		job.LockedAt = &lockedAt
	}
	if r.ErrorText != nil {
		job.ErrorText = *r.ErrorText
	}
	return job
}

func nullableJSON(values map[string]any) any {
	if values == nil {
		return nil
	}
	return values
}
