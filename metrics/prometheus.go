package metrics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

var exportQuantiles = []struct {
	label string
	p     float64
}{
	{label: "0.5", p: 50},
	{label: "0.95", p: 95},
	{label: "0.99", p: 99},
}

// ExportPrometheus renders every series recorded since the cutoff in the
// Prometheus text format. Histograms are exported as summaries.
func (s *Store) ExportPrometheus(ctx context.Context, since time.Time) (string, error) {
	samples, err := s.samples.ListSamples(ctx, core.MetricFilter{Since: since})
	if err != nil {
		return "", err
	}

	type series struct {
		labels map[string]string
		values []float64
	}
	type family struct {
		name       string
		metricType core.MetricType
		series     map[string]*series
	}
	families := map[string]*family{}
	for _, sample := range samples {
		name := sanitizeMetricName(sample.Name)
		key := string(sample.Type) + "|" + name
		fam, ok := families[key]
		if !ok {
			fam = &family{name: name, metricType: sample.Type, series: map[string]*series{}}
			families[key] = fam
		}
		labelKey := sample.LabelKey
		if labelKey == "" {
			labelKey = LabelKey(sample.Labels)
		}
		entry, ok := fam.series[labelKey]
		if !ok {
			entry = &series{labels: sample.Labels}
			fam.series[labelKey] = entry
		}
		entry.values = append(entry.values, sample.Value)
	}

	keys := make([]string, 0, len(families))
	for key := range families {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return strings.Compare(families[a].name, families[b].name)
	})

	var out strings.Builder
	for _, key := range keys {
		fam := families[key]
		promType := string(fam.metricType)
		if fam.metricType == core.MetricTypeHistogram {
			promType = "summary"
		}
		fmt.Fprintf(&out, "# TYPE %s %s\n", fam.name, promType)

		labelKeys := make([]string, 0, len(fam.series))
		for labelKey := range fam.series {
			labelKeys = append(labelKeys, labelKey)
		}
		slices.Sort(labelKeys)
		for _, labelKey := range labelKeys {
			entry := fam.series[labelKey]
			if fam.metricType != core.MetricTypeHistogram {
				out.WriteString(formatPromLine(fam.name, entry.labels, entry.values[len(entry.values)-1]))
				out.WriteByte('\n')
				continue
			}
			summary := summarize(entry.values)
			sorted := slices.Clone(entry.values)
			slices.Sort(sorted)
			for _, quantile := range exportQuantiles {
				labels := core.CloneTags(entry.labels)
				labels["quantile"] = quantile.label
				out.WriteString(formatPromLine(fam.name, labels, Percentile(sorted, quantile.p)))
				out.WriteByte('\n')
			}
			out.WriteString(formatPromLine(fam.name+"_sum", entry.labels, summary.Sum))
			out.WriteByte('\n')
			out.WriteString(formatPromLine(fam.name+"_count", entry.labels, float64(summary.Count)))
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}

func sanitizeMetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "relay_metric"
	}
	out := make([]rune, 0, len(name))
	for i, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == ':' || (r >= '0' && r <= '9' && i > 0)
		if valid {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func formatPromLine(name string, labels map[string]string, value float64) string {
	if len(labels) == 0 {
		return name + " " + formatValue(value)
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", sanitizeMetricName(key), labels[key]))
	}
	return fmt.Sprintf("%s{%s} %s", name, strings.Join(parts, ","), formatValue(value))
}
