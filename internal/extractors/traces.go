package extractors

import (
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
)

var durationFields = []string{"transaction.duration.us", "span.duration.us", "duration_us", "duration"}

// TracesExtractor detects slow and failed spans using a simple z-score heuristic.
type TracesExtractor struct {
	threshold float64
}

// NewTracesExtractor constructs a TracesExtractor with default threshold (2.0).
func NewTracesExtractor() *TracesExtractor {
	return &TracesExtractor{threshold: 2.0}
}

// Detect returns spans whose duration significantly exceeds the population
// mean, plus every span that reports a failed outcome.
func (e *TracesExtractor) Detect(items []models.EvidenceItem) []models.Highlight {
	if len(items) == 0 {
		return nil
	}

	durations := make([]float64, len(items))
	known := make([]bool, len(items))
	observed := make([]float64, 0, len(items))
	for i, item := range items {
		if v, ok := firstNumber(item.Payload, durationFields); ok {
			durations[i] = v
			known[i] = true
			observed = append(observed, v)
		}
	}

	avg, std := 0.0, 0.0
	if len(observed) > 0 {
		avg = mean(observed)
		std = stdDev(observed, avg)
	}
	if std == 0 {
		std = 0.01
	}

	highlights := make([]models.Highlight, 0)
	for i, item := range items {
		score := 0.0
		if known[i] && len(observed) > 1 {
			score = (durations[i] - avg) / std
		}
		failed := spanFailed(item.Payload)
		switch {
		case score >= e.threshold:
			highlights = append(highlights, models.Highlight{
				EvidenceID: item.ID,
				Source:     models.SourceTrace,
				Score:      score,
				Reason:     fmt.Sprintf("span took %.0fus against a mean of %.0fus", durations[i], avg),
			})
		case failed:
			highlights = append(highlights, models.Highlight{
				EvidenceID: item.ID,
				Source:     models.SourceTrace,
				Score:      math.Max(score, e.threshold),
				Reason:     "span reported a failed outcome",
			})
		}
	}
	return highlights
}

func spanFailed(src map[string]any) bool {
	if strings.EqualFold(repo.StringField(src, "event.outcome"), "failure") {
		return true
	}
	status := repo.StringField(src, "status")
	return strings.EqualFold(status, "error") || strings.EqualFold(repo.StringField(src, "otel.status_code"), "error")
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	variance := sum / float64(len(values))
	return math.Sqrt(variance)
}
