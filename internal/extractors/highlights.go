package extractors

import (
	"sort"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// Set bundles the per-source detectors.
type Set struct {
	Logs    *LogsExtractor
	Traces  *TracesExtractor
	Metrics *MetricExtractor
}

// NewSet returns detectors with their default thresholds.
func NewSet() Set {
	return Set{
		Logs:    NewLogsExtractor(),
		Traces:  NewTracesExtractor(),
		Metrics: NewMetricExtractor(0),
	}
}

// Highlights runs every detector and returns at most limit highlights,
// strongest first. An evidence item is highlighted at most once.
func (s Set) Highlights(evidence models.EvidenceBySource, limit int) []models.Highlight {
	all := make([]models.Highlight, 0)
	all = append(all, s.Logs.Detect(evidence.Logs)...)
	all = append(all, s.Traces.Detect(evidence.Traces)...)
	all = append(all, s.Metrics.Detect(evidence.Metrics)...)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].EvidenceID < all[j].EvidenceID
	})

	seen := make(map[string]struct{}, len(all))
	out := make([]models.Highlight, 0, len(all))
	for _, h := range all {
		if _, dup := seen[h.EvidenceID]; dup {
			continue
		}
		seen[h.EvidenceID] = struct{}{}
		out = append(out, h)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
