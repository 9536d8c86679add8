package metrics

import (
	"context"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/goliatone/go-relay/core"
)

type DeliveryStats struct {
	Total       float64 `json:"total"`
	Succeeded   float64 `json:"succeeded"`
	Failed      float64 `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

type LatencyStats struct {
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

type Statistics struct {
	Deliveries DeliveryStats      `json:"deliveries"`
	Latency    LatencyStats       `json:"latency"`
	Retries    map[string]float64 `json:"retries"`
	QueueDepth float64            `json:"queue_depth"`
}

// Statistics summarizes delivery counters, latency percentiles, retries by
// attempt and the latest queue depth for samples recorded since the cutoff.
func (s *Store) Statistics(ctx context.Context, since time.Time) (Statistics, error) {
	stats := Statistics{Retries: map[string]float64{}}

	deliveries, err := s.samples.ListSamples(ctx, core.MetricFilter{Name: core.MetricDeliveriesTotal, Type: core.MetricTypeCounter, Since: since})
	if err != nil {
		return Statistics{}, err
	}
	for _, sample := range deliveries {
		stats.Deliveries.Total += sample.Value
		switch sample.Labels["status"] {
		case "success":
			stats.Deliveries.Succeeded += sample.Value
		case "failed", "failure", "error":
			stats.Deliveries.Failed += sample.Value
		}
	}
	if stats.Deliveries.Total > 0 {
		stats.Deliveries.SuccessRate = stats.Deliveries.Succeeded / stats.Deliveries.Total
	}

	observations, err := s.samples.ListSamples(ctx, core.MetricFilter{Name: core.MetricDeliveryDuration, Type: core.MetricTypeHistogram, Since: since})
	if err != nil {
		return Statistics{}, err
	}
	stats.Latency = summarize(values(observations))

	retries, err := s.samples.ListSamples(ctx, core.MetricFilter{Name: core.MetricRetryCount, Type: core.MetricTypeCounter, Since: since})
	if err != nil {
		return Statistics{}, err
	}
	for _, sample := range retries {
		attempt := sample.Labels["attempt"]
		if attempt == "" {
			attempt = "unknown"
		}
		stats.Retries[attempt] += sample.Value
	}

	depth, err := s.samples.ListSamples(ctx, core.MetricFilter{Name: core.MetricQueueDepth, Type: core.MetricTypeGauge})
	if err != nil {
		return Statistics{}, err
	}
	var latest time.Time
	for _, sample := range depth {
		if sample.Timestamp.After(latest) || latest.IsZero() {
			latest = sample.Timestamp
			stats.QueueDepth = sample.Value
		}
	}
	return stats, nil
}

func summarize(observations []float64) LatencyStats {
	if len(observations) == 0 {
		return LatencyStats{}
	}
	sorted := slices.Clone(observations)
	slices.Sort(sorted)
	var sum float64
	for _, value := range sorted {
		sum += value
	}
	return LatencyStats{
		Count: len(sorted),
		Sum:   sum,
		Avg:   sum / float64(len(sorted)),
		P50:   Percentile(sorted, 50),
		P95:   Percentile(sorted, 95),
		P99:   Percentile(sorted, 99),
	}
}

// Percentile interpolates linearly between the two ranks adjacent to
// p/100*(n-1). sorted must be ascending.
func Percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	p = math.Max(0, math.Min(100, p))
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func values(samples []core.MetricSample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, sample := range samples {
		out = append(out, sample.Value)
	}
	return out
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
