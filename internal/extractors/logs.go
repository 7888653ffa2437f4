package extractors

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// LogsExtractor spots per-minute volume spikes vs baseline.
type LogsExtractor struct {
	window time.Duration
}

// NewLogsExtractor constructs a log anomaly detector over one-minute buckets.
func NewLogsExtractor() *LogsExtractor {
	return &LogsExtractor{window: time.Minute}
}

type logBucket struct {
	start  time.Time
	items  []models.EvidenceItem
	errors int
}

// Detect buckets log evidence per minute and flags buckets whose volume
// deviates from the median, or whose error volume surges. The highlight
// points at the first error entry of the bucket, or its first entry.
func (e *LogsExtractor) Detect(items []models.EvidenceItem) []models.Highlight {
	if len(items) == 0 {
		return nil
	}

	byStart := make(map[int64]*logBucket)
	for _, item := range items {
		if item.Timestamp.IsZero() {
			continue
		}
		start := utils.BucketStart(item.Timestamp, e.window)
		b, ok := byStart[start.UnixNano()]
		if !ok {
			b = &logBucket{start: start}
			byStart[start.UnixNano()] = b
		}
		b.items = append(b.items, item)
		if isErrorLevel(item.Payload) {
			b.errors++
		}
	}
	if len(byStart) < 2 {
		return nil
	}

	buckets := make([]*logBucket, 0, len(byStart))
	for _, b := range byStart {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].start.Before(buckets[j].start) })

	counts := make([]float64, len(buckets))
	errorCounts := make([]float64, len(buckets))
	for i, b := range buckets {
		counts[i] = float64(len(b.items))
		errorCounts[i] = float64(b.errors)
	}

	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}
	errorMedian := percentile(errorCounts, 0.5)

	highlights := make([]models.Highlight, 0)
	for _, b := range buckets {
		count := float64(len(b.items))
		score := math.Abs(count-median) / mad
		anchor := anchorItem(b)
		if score >= 3 {
			highlights = append(highlights, models.Highlight{
				EvidenceID: anchor.ID,
				Source:     models.SourceLog,
				Score:      score,
				Reason:     fmt.Sprintf("%d entries in the minute at %s against a median of %.0f", len(b.items), b.start.Format(time.RFC3339), median),
			})
		} else if b.errors > 0 && float64(b.errors) > errorMedian*1.3 {
			highlights = append(highlights, models.Highlight{
				EvidenceID: anchor.ID,
				Source:     models.SourceLog,
				Score:      3,
				Reason:     fmt.Sprintf("error surge of %d entries in the minute at %s", b.errors, b.start.Format(time.RFC3339)),
			})
		}
	}
	return highlights
}

func anchorItem(b *logBucket) models.EvidenceItem {
	for _, item := range b.items {
		if isErrorLevel(item.Payload) {
			return item
		}
	}
	return b.items[0]
}

func isErrorLevel(src map[string]any) bool {
	level := repo.StringField(src, "log.level")
	if level == "" {
		level = repo.StringField(src, "level")
	}
	switch strings.ToLower(level) {
	case "error", "fatal", "critical", "panic":
		return true
	}
	return false
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
