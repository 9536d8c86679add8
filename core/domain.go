package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrJobNotFound           = errors.New("core: job not found")
	ErrJobNotClaimable       = errors.New("core: job is not held by this worker")
	ErrInvalidJobTransition  = errors.New("core: invalid job status transition")
	ErrDuplicateEvent        = errors.New("core: inbound event already recorded")
	ErrInboundEventNotFound  = errors.New("core: inbound event not found")
	ErrDeliveryLogNotFound   = errors.New("core: delivery log not found")
	ErrSubscriberNotFound    = errors.New("core: subscriber not found")
	ErrInvalidMetricType     = errors.New("core: invalid metric type")
	ErrInvalidEnqueueRequest = errors.New("core: invalid enqueue request")
)

const (
	JobTypeWebhookDelivery = "webhook_delivery"
	JobTypeInboundEvent    = "inbound_event"

	DefaultMaxAttempts = 3
	WildcardEventType  = "*"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

func ParseJobStatus(value string) (JobStatus, error) {
	status := JobStatus(strings.TrimSpace(strings.ToLower(value)))
	if !status.Valid() {
		return "", fmt.Errorf("core: unknown job status %q", value)
	}
	return status, nil
}

// Job is a durable unit of work. Status moves pending -> running only through
// an atomic claim; running moves on only by the lock holder.
type Job struct {
	ID          string
	Type        string
	Payload     map[string]any
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedBy    string
	LockedAt    *time.Time
	ErrorText   string
	Result      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EnqueueRequest struct {
	Type        string
	Payload     map[string]any
	MaxAttempts int
	Delay       time.Duration
}

func (r EnqueueRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("%w: job type is required", ErrInvalidEnqueueRequest)
	}
	if r.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidEnqueueRequest)
	}
	if r.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidEnqueueRequest)
	}
	return nil
}

// EffectiveMaxAttempts falls back to DefaultMaxAttempts when unset.
func (r EnqueueRequest) EffectiveMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

type JobFilter struct {
	Type   string
	Status JobStatus
	Limit  int
	Offset int
}

type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s JobStats) Total() int {
	return s.Pending + s.Running + s.Completed + s.Failed
}

func (s *JobStats) Add(status JobStatus, count int) {
	switch status {
	case JobStatusPending:
		s.Pending += count
	case JobStatusRunning:
		s.Running += count
	case JobStatusCompleted:
		s.Completed += count
	case JobStatusFailed:
		s.Failed += count
	}
}

// FailureOutcome describes the state a job landed in after MarkFailed.
type FailureOutcome struct {
	JobID         string
	Attempts      int
	MaxAttempts   int
	Terminal      bool
	NextAttemptAt time.Time
}

type Subscriber struct {
	ID         string
	URL        string
	Secret     string
	EventTypes []string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Subscriber) Accepts(eventType string) bool {
	if !s.Active {
		return false
	}
	eventType = strings.TrimSpace(eventType)
	return slices.Contains(s.EventTypes, eventType) || slices.Contains(s.EventTypes, WildcardEventType)
}

func (s Subscriber) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("core: subscriber url is required")
	}
	if strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("core: subscriber secret is required")
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("core: subscriber event types are required")
	}
	return nil
}

// Envelope is the signed outbound payload.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	SenderID  string         `json:"sender_id"`
	Data      map[string]any `json:"data"`
}

func (e Envelope) Clone() Envelope {
	e.Data = CloneMap(e.Data)
	return e
}

func (e Envelope) ToMap() map[string]any {
	return map[string]any{
		"event":     e.Event,
		"timestamp": e.Timestamp,
		"sender_id": e.SenderID,
		"data":      CloneMap(e.Data),
	}
}

func EnvelopeFromMap(values map[string]any) (Envelope, error) {
	if len(values) == 0 {
		return Envelope{}, fmt.Errorf("core: envelope is required")
	}
	event, _ := values["event"].(string)
	senderID, _ := values["sender_id"].(string)
	timestamp, ok := Int64Value(values["timestamp"])
	if !ok {
		return Envelope{}, fmt.Errorf("core: envelope timestamp is invalid")
	}
	data, _ := values["data"].(map[string]any)
	return Envelope{
		Event:     event,
		Timestamp: timestamp,
		SenderID:  senderID,
		Data:      CloneMap(data),
	}, nil
}

type DeliveryLogEntry struct {
	ID           string
	SubscriberID string
	Event        string
	RequestBody  []byte
	ResponseCode *int
	ResponseBody *string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DeliveryAttempt struct {
	ResponseCode *int
	ResponseBody *string
	Attempts     int
}

type DeliveryLogFilter struct {
	SubscriberID string
	Event        string
	Limit        int
	Offset       int
}

type InboundEvent struct {
	ID          string
	EventID     string
	EventType   string
	Payload     map[string]any
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

func (t MetricType) Valid() bool {
	return t == MetricTypeCounter || t == MetricTypeGauge || t == MetricTypeHistogram
}

// MetricSample identity for counters and gauges is (Name, LabelKey).
type MetricSample struct {
	ID        string
	Name      string
	Type      MetricType
	Labels    map[string]string
	LabelKey  string
	Value     float64
	Timestamp time.Time
}

type MetricFilter struct {
	Name  string
	Type  MetricType
	Since time.Time
}
