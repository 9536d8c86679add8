package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type jobRecord struct {
	bun.BaseModel `bun:"table:relay_jobs,alias:rj"`

	ID          string         `bun:"id,pk"`
	Type        string         `bun:"type,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Status      string         `bun:"status,notnull"`
	Attempts    int            `bun:"attempts,notnull"`
	MaxAttempts int            `bun:"max_attempts,notnull"`
	AvailableAt time.Time      `bun:"available_at,notnull"`
	LockedBy    string         `bun:"locked_by,notnull"`
	LockedAt    *time.Time     `bun:"locked_at,nullzero"`
	ErrorText   *string        `bun:"error_text"`
	Result      map[string]any `bun:"result,type:jsonb"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriberRecord struct {
	bun.BaseModel `bun:"table:relay_subscribers,alias:rs"`

	ID         string    `bun:"id,pk"`
	URL        string    `bun:"url,notnull"`
	Secret     string    `bun:"secret,notnull"`
	EventTypes []string  `bun:"event_types,type:jsonb,notnull"`
	Active     bool      `bun:"active,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryLogRecord struct {
	bun.BaseModel `bun:"table:relay_delivery_logs,alias:rdl"`

	ID           string    `bun:"id,pk"`
	SubscriberID string    `bun:"subscriber_id,notnull"`
	Event        string    `bun:"event,notnull"`
	RequestBody  string    `bun:"request_body,notnull"`
	ResponseCode *int      `bun:"response_code"`
	ResponseBody *string   `bun:"response_body"`
	Attempts     int       `bun:"attempts,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type inboundEventRecord struct {
	bun.BaseModel `bun:"table:relay_inbound_events,alias:rie"`

	ID          string         `bun:"id,pk"`
	EventID     string         `bun:"event_id,notnull"`
	EventType   string         `bun:"event_type,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Processed   bool           `bun:"processed,notnull"`
	ProcessedAt *time.Time     `bun:"processed_at,nullzero"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type metricSampleRecord struct {
	bun.BaseModel `bun:"table:relay_metric_samples,alias:rms"`

	ID         string            `bun:"id,pk"`
	Name       string            `bun:"name,notnull"`
	MetricType string            `bun:"metric_type,notnull"`
	Labels     map[string]string `bun:"labels,type:jsonb,notnull"`
	LabelKey   string            `bun:"label_key,notnull"`
	Value      float64           `bun:"value,notnull"`
	RecordedAt time.Time         `bun:"recorded_at,notnull"`
}
