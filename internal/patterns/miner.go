package patterns

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// MinOccurrences is how often a root cause must recur to form a pattern.
const MinOccurrences = 2

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, service string, patterns []models.FailurePattern) error
}

// Miner mines simple frequency-based failure patterns from run history.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine groups the root-cause candidates of complete runs by service and
// normalized text and returns those seen in at least MinOccurrences runs.
// A non-empty service restricts mining to that service.
func (m *Miner) Mine(ctx context.Context, service string, runs []models.RunRecord) ([]models.FailurePattern, error) {
	if len(runs) == 0 {
		return nil, nil
	}

	runsPerService := make(map[string]int)
	stats := make(map[causeKey]*causeAggregate)
	for _, run := range runs {
		if run.Status != models.RunComplete {
			continue
		}
		svc := run.Service
		if svc == "" {
			svc = "unknown"
		}
		if service != "" && svc != service {
			continue
		}
		runsPerService[svc]++

		seen := make(map[string]struct{}, len(run.Candidates))
		for _, text := range run.Candidates {
			norm := utils.NormalizeText(text)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}

			agg := ensureAggregate(stats, causeKey{service: svc, cause: norm}, text)
			agg.count++
			agg.confidence += run.ConfidenceScore
			if run.CompletedAt.After(agg.lastSeen) {
				agg.lastSeen = run.CompletedAt
				agg.text = text
			}
		}
	}

	patterns := make([]models.FailurePattern, 0)
	for key, agg := range stats {
		if agg.count < MinOccurrences {
			continue
		}
		patterns = append(patterns, models.FailurePattern{
			ID:             "pattern-" + utils.ContentHash(key.service, key.cause)[:12],
			Service:        key.service,
			RootCause:      agg.text,
			Occurrences:    agg.count,
			Prevalence:     float64(agg.count) / float64(runsPerService[key.service]),
			MeanConfidence: agg.confidence / float64(agg.count),
			LastSeen:       agg.lastSeen,
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		if patterns[i].Prevalence != patterns[j].Prevalence {
			return patterns[i].Prevalence > patterns[j].Prevalence
		}
		return patterns[i].ID < patterns[j].ID
	})

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, service, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

type causeKey struct {
	service string
	cause   string
}

type causeAggregate struct {
	count      int
	confidence float64
	lastSeen   time.Time
	text       string
}

func ensureAggregate(m map[causeKey]*causeAggregate, key causeKey, text string) *causeAggregate {
	agg, ok := m[key]
	if !ok {
		agg = &causeAggregate{text: text}
		m[key] = agg
	}
	return agg
}
