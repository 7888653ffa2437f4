package extractors

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
)

var metricValueFields = []string{"metric.value", "value", "gauge", "counter"}

// MetricExtractor detects anomalies using a z-score approach as an STL+ESD stand-in.
type MetricExtractor struct {
	threshold float64
}

// NewMetricExtractor creates a metrics anomaly detector. A non-positive
// threshold falls back to 2.5.
func NewMetricExtractor(threshold float64) *MetricExtractor {
	if threshold <= 0 {
		threshold = 2.5
	}
	return &MetricExtractor{threshold: threshold}
}

// Detect flags metric evidence whose value sits threshold standard
// deviations above the sample mean. Items without a numeric value are ignored.
func (e *MetricExtractor) Detect(items []models.EvidenceItem) []models.Highlight {
	type sample struct {
		item  models.EvidenceItem
		value float64
	}
	samples := make([]sample, 0, len(items))
	for _, item := range items {
		if v, ok := firstNumber(item.Payload, metricValueFields); ok {
			samples = append(samples, sample{item: item, value: v})
		}
	}
	if len(samples) < 2 {
		return nil
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.value
	}
	mean := mean(values)
	std := stdDev(values, mean)
	if std == 0 {
		std = 0.01
	}

	highlights := make([]models.Highlight, 0)
	for _, s := range samples {
		score := (s.value - mean) / std
		if score >= e.threshold {
			highlights = append(highlights, models.Highlight{
				EvidenceID: s.item.ID,
				Source:     models.SourceMetric,
				Score:      score,
				Reason:     fmt.Sprintf("value %.3g is %.1f standard deviations above the window mean %.3g", s.value, score, mean),
			})
		}
	}
	return highlights
}

func firstNumber(src map[string]any, fields []string) (float64, bool) {
	for _, field := range fields {
		if v, ok := repo.NumberField(src, field); ok && !math.IsNaN(v) {
			return v, true
		}
	}
	return 0, false
}
