package core

import (
	"errors"
	"strings"
	"time"
)

// ApplyFailure moves a running job to pending with a backoff, or to terminal
// failed once attempts reach MaxAttempts or retry is false.
func ApplyFailure(job *Job, cause error, retry bool, now time.Time, policy RetryPolicy) FailureOutcome {
	if job == nil {
		return FailureOutcome{}
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	job.Attempts++
	job.ErrorText = failureText(cause)
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = now

	outcome := FailureOutcome{
		JobID:       job.ID,
		Attempts:    job.Attempts,
		MaxAttempts: maxAttempts,
	}
	if retry && job.Attempts < maxAttempts {
		job.Status = JobStatusPending
		job.AvailableAt = now.Add(policy.NextDelay(job.Attempts))
		outcome.NextAttemptAt = job.AvailableAt
		return outcome
	}
	job.Status = JobStatusFailed
	outcome.Terminal = true
	return outcome
}

func failureText(cause error) string {
	if cause == nil {
		return "job failed"
	}
	text := strings.TrimSpace(cause.Error())
	if text == "" {
		return "job failed"
	}
	return text
}

// FailureText is the error_text stored for cause.
func FailureText(cause error) string {
	return failureText(cause)
}

// ClampLimit bounds list page sizes.
func ClampLimit(limit int, fallback int, maximum int) int {
	if limit <= 0 {
		return fallback
	}
	if maximum > 0 && limit > maximum {
		return maximum
	}
	return limit
}

// PermanentError marks a job failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
