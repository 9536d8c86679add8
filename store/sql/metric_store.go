package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MetricSampleStore persists metric samples. Counters and gauges are one row
// per (type, name, label_key); histograms append a row per observation.
type MetricSampleStore struct {
	db *bun.DB
}

func NewMetricSampleStore(db *bun.DB) (*MetricSampleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MetricSampleStore{db: db}, nil
}

func (s *MetricSampleStore) AddCounter(ctx context.Context, sample core.MetricSample) error {
	sample.Type = core.MetricTypeCounter
	return s.upsert(ctx, sample, "value = value + ?")
}

func (s *MetricSampleStore) SetGauge(ctx context.Context, sample core.MetricSample) error {
	sample.Type = core.MetricTypeGauge
	return s.upsert(ctx, sample, "value = ?")
}

func (s *MetricSampleStore) AppendObservation(ctx context.Context, sample core.MetricSample) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: metric sample store is not configured")
	}
	sample.Type = core.MetricTypeHistogram
	record, err := newMetricSampleRecord(sample)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (s *MetricSampleStore) ListSamples(ctx context.Context, filter core.MetricFilter) ([]core.MetricSample, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: metric sample store is not configured")
	}
	records := make([]*metricSampleRecord, 0)
	query := s.db.NewSelect().Model(&records)
	if name := strings.TrimSpace(filter.Name); name != "" {
		query = query.Where("?TableAlias.name = ?", name)
	}
	if filter.Type != "" {
		query = query.Where("?TableAlias.metric_type = ?", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query = query.Where("?TableAlias.recorded_at >= ?", filter.Since.UTC())
	}
	err := query.
		OrderExpr("?TableAlias.name ASC").
		OrderExpr("?TableAlias.label_key ASC").
		OrderExpr("?TableAlias.recorded_at ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]core.MetricSample, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *MetricSampleStore) PurgeSamples(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: metric sample store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*metricSampleRecord)(nil)).
		Where("recorded_at < ?", before.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

// upsert updates the existing series row or inserts it. The partial unique
// index turns a concurrent first insert into a violation, which is retried as
// an update.
func (s *MetricSampleStore) upsert(ctx context.Context, sample core.MetricSample, setExpr string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: metric sample store is not configured")
	}
	record, err := newMetricSampleRecord(sample)
	if err != nil {
		return err
	}
	update := func(ctx context.Context, db bun.IDB) (bool, error) {
		res, err := db.NewUpdate().
			Model((*metricSampleRecord)(nil)).
			Set(setExpr, record.Value).
			Set("recorded_at = ?", record.RecordedAt).
			Where("metric_type = ?", record.MetricType).
			Where("name = ?", record.Name).
			Where("label_key = ?", record.LabelKey).
			Exec(ctx)
		if err != nil {
			return false, err
		}
		affected, _ := res.RowsAffected()
		return affected > 0, nil
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		updated, err := update(ctx, tx)
		if err != nil || updated {
			return err
		}
		_, err = tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil && isUniqueViolation(err) {
		_, err = update(ctx, s.db)
	}
	return err
}

func newMetricSampleRecord(sample core.MetricSample) (*metricSampleRecord, error) {
	name := strings.TrimSpace(sample.Name)
	if name == "" {
		return nil, fmt.Errorf("sqlstore: metric name is required")
	}
	if !sample.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidMetricType, sample.Type)
	}
	recordedAt := sample.Timestamp.UTC()
	if sample.Timestamp.IsZero() {
		recordedAt = time.Now().UTC()
	}
	labels := core.CloneTags(sample.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	id := strings.TrimSpace(sample.ID)
	if id == "" {
		id = uuid.NewString()
	}
	return &metricSampleRecord{
		ID:         id,
		Name:       name,
		MetricType: string(sample.Type),
		Labels:     labels,
		LabelKey:   sample.LabelKey,
		Value:      sample.Value,
		RecordedAt: recordedAt,
	}, nil
}

func (r *metricSampleRecord) toDomain() core.MetricSample {
	if r == nil {
		return core.MetricSample{}
	}
	return core.MetricSample{
		ID:        r.ID,
		Name:      r.Name,
		Type:      core.MetricType(r.MetricType),
		Labels:    core.CloneTags(r.Labels),
		LabelKey:  r.LabelKey,
		Value:     r.Value,
		Timestamp: r.RecordedAt.UTC(),
	}
}
