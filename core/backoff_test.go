package core

import (
	"testing"
	"time"
)

func TestExponentialBackoff_BaseDelayDoublesAndCaps(t *testing.T) {
	policy := DefaultRetryPolicy()
	cases := map[int]time.Duration{
		1: 60 * time.Second,
		2: 120 * time.Second,
		3: 240 * time.Second,
		6: 1920 * time.Second,
		7: time.Hour,
		9: time.Hour,
	}
	for attempt, expected := range cases {
		if got := policy.BaseDelay(attempt); got != expected {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestExponentialBackoff_JitterStaysWithinTenPercent(t *testing.T) {
	for _, sample := range []float64{0, 0.25, 0.5, 0.999, 1} {
		policy := DefaultRetryPolicy()
		policy.Rand = func() float64 { return sample }
		for attempt := 1; attempt <= 10; attempt++ {
			base := policy.BaseDelay(attempt)
			delay := policy.NextDelay(attempt)
			upper := base + base/10
			if delay < base || delay > upper {
				t.Fatalf("attempt %d sample %v: delay %s outside [%s, %s]", attempt, sample, delay, base, upper)
			}
		}
	}
}

func TestExponentialBackoff_CapIncludesJitterBound(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Rand = func() float64 { return 1 }
	delay := policy.NextDelay(20)
	if delay < time.Hour || delay > 3960*time.Second {
		t.Fatalf("expected capped delay within [3600s, 3960s], got %s", delay)
	}
}

func TestApplyFailure_RetriesUntilMaxAttempts(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	policy := ExponentialBackoff{Base: time.Minute, Max: time.Hour}
	lockedAt := now
	job := &Job{ID: "job_1", Type: "ping", Status: JobStatusRunning, MaxAttempts: 3, LockedBy: "w1", LockedAt: &lockedAt}

	outcome := ApplyFailure(job, errString("boom"), true, now, policy)
	if outcome.Terminal || job.Status != JobStatusPending || job.Attempts != 1 {
		t.Fatalf("expected pending after first failure, got status=%s attempts=%d", job.Status, job.Attempts)
	}
	if job.LockedBy != "" || job.LockedAt != nil {
		t.Fatalf("expected lock fields cleared")
	}
	if !job.AvailableAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected available_at now+60s, got %s", job.AvailableAt)
	}

	job.Status = JobStatusRunning
	ApplyFailure(job, errString("boom"), true, now, policy)
	if job.Status != JobStatusPending || job.Attempts != 2 {
		t.Fatalf("expected pending after second failure, got status=%s attempts=%d", job.Status, job.Attempts)
	}
	if !job.AvailableAt.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("expected available_at now+120s, got %s", job.AvailableAt)
	}

	job.Status = JobStatusRunning
	outcome = ApplyFailure(job, errString("boom"), true, now, policy)
	if !outcome.Terminal || job.Status != JobStatusFailed || job.Attempts != 3 {
		t.Fatalf("expected terminal failure, got status=%s attempts=%d", job.Status, job.Attempts)
	}
	if job.ErrorText != "boom" {
		t.Fatalf("expected error text, got %q", job.ErrorText)
	}
}

func TestApplyFailure_NoRetryIsTerminal(t *testing.T) {
	job := &Job{ID: "job_1", Status: JobStatusRunning, MaxAttempts: 5}
	outcome := ApplyFailure(job, nil, false, time.Now().UTC(), nil)
	if !outcome.Terminal || job.Status != JobStatusFailed || job.Attempts != 1 {
		t.Fatalf("expected terminal failure without retry, got %+v", outcome)
	}
	if job.ErrorText != "job failed" {
		t.Fatalf("expected fallback error text, got %q", job.ErrorText)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
