package engine

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// DefaultCorrelationWindow is the width of time-bucket groups.
const DefaultCorrelationWindow = time.Minute

// Correlator partitions evidence into correlation groups.
type Correlator struct {
	window time.Duration
}

// NewCorrelator constructs a Correlator with the given time-bucket width.
func NewCorrelator(window time.Duration) *Correlator {
	if window <= 0 {
		window = DefaultCorrelationWindow
	}
	return &Correlator{window: window}
}

// Correlate groups every item exactly once: by trace id when present, else
// by deployment id, else by service and time bucket. Items with neither id
// nor timestamp land in the uncorrelated group. Groups are ordered by start
// time, with the uncorrelated group last.
func (c *Correlator) Correlate(evidence models.EvidenceBySource) []models.CorrelationGroup {
	index := make(map[itemKey]int)
	groups := make([]models.CorrelationGroup, 0)

	for _, item := range evidence.All() {
		k := c.keyFor(item)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, models.CorrelationGroup{Key: k.key, KeyKind: k.kind})
		}
		g := &groups[i]
		g.Members = append(g.Members, item)
		if item.Timestamp.IsZero() {
			continue
		}
		if g.Start.IsZero() || item.Timestamp.Before(g.Start) {
			g.Start = item.Timestamp
		}
		if item.Timestamp.After(g.End) {
			g.End = item.Timestamp
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if (a.KeyKind == models.KeyUncorrelated) != (b.KeyKind == models.KeyUncorrelated) {
			return b.KeyKind == models.KeyUncorrelated
		}
		if !a.Start.Equal(b.Start) {
			if a.Start.IsZero() || b.Start.IsZero() {
				return b.Start.IsZero()
			}
			return a.Start.Before(b.Start)
		}
		if a.KeyKind != b.KeyKind {
			return keyKindOrder(a.KeyKind) < keyKindOrder(b.KeyKind)
		}
		return a.Key < b.Key
	})
	return groups
}

type itemKey struct {
	kind models.GroupKeyKind
	key  string
}

func (c *Correlator) keyFor(item models.EvidenceItem) itemKey {
	switch {
	case item.Keys.TraceID != "":
		return itemKey{kind: models.KeyTraceID, key: item.Keys.TraceID}
	case item.Keys.DeploymentID != "":
		return itemKey{kind: models.KeyDeploymentID, key: item.Keys.DeploymentID}
	case !item.Timestamp.IsZero():
		service := item.Keys.Service
		if service == "" {
			service = "unknown"
		}
		bucket := utils.BucketStart(item.Timestamp, c.window)
		return itemKey{kind: models.KeyTimeBucket, key: service + "@" + bucket.Format(time.RFC3339)}
	default:
		return itemKey{kind: models.KeyUncorrelated, key: models.UncorrelatedGroupKey}
	}
}

func keyKindOrder(kind models.GroupKeyKind) int {
	switch kind {
	case models.KeyTraceID:
		return 0
	case models.KeyDeploymentID:
		return 1
	case models.KeyTimeBucket:
		return 2
	default:
		return 3
	}
}

// CorrelatedGroups counts groups holding evidence from two or more source kinds.
func CorrelatedGroups(groups []models.CorrelationGroup) int {
	n := 0
	for _, g := range groups {
		if g.KeyKind != models.KeyUncorrelated && len(g.SourceKinds()) >= 2 {
			n++
		}
	}
	return n
}
