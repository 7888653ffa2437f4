package engine

import (
	"math"
	"testing"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	if DefaultWeights.Sum() != 1.0 {
		t.Fatalf("weights sum to %v", DefaultWeights.Sum())
	}
}

func TestScoreStaysInUnitInterval(t *testing.T) {
	scorer := NewConfidenceScorer(DefaultWeights, DefaultTiers, 10)
	steps := []float64{0, 0.25, 0.5, 0.75, 1}
	candidates := []models.RootCauseCandidate{{Text: "x", SupportingEvidenceIDs: []string{"logs:0"}, Rank: 1}}
	for _, sim := range steps {
		for _, self := range steps {
			for n := 0; n <= 12; n += 4 {
				groups := []models.CorrelationGroup{{
					Key:     "T1",
					KeyKind: models.KeyTraceID,
					Members: append(items(models.SourceLog, n, "T1"), items(models.SourceTrace, n/2, "T1")...),
				}}
				similar := []models.SimilarIncident{{IncidentID: "i", SimilarityScore: sim}}
				res := scorer.Score(candidates, groups, similar, self)
				if res.Score < 0 || res.Score > 1 || math.IsNaN(res.Score) {
					t.Fatalf("score out of bounds: %v", res.Score)
				}
			}
		}
	}
	// Out-of-range inputs are clamped rather than leaking past the bounds.
	res := scorer.Score(candidates, nil, []models.SimilarIncident{{SimilarityScore: 3}}, 7)
	if res.Score > 1 || res.Breakdown.SimilarIncidentScore != 1 || res.Breakdown.ModelSelfAssessment != 1 {
		t.Fatalf("expected clamped components, got %+v", res)
	}
}

func TestScoreIsMonotonicInSimilarity(t *testing.T) {
	scorer := NewConfidenceScorer(DefaultWeights, DefaultTiers, 20)
	prev := -1.0
	for _, sim := range []float64{0, 0.2, 0.4, 0.9} {
		res := scorer.Score(nil, nil, []models.SimilarIncident{{SimilarityScore: sim}}, 0)
		if res.Score < prev {
			t.Fatalf("score decreased from %v to %v", prev, res.Score)
		}
		prev = res.Score
	}
}

func TestScoreBreakdownAndTier(t *testing.T) {
	scorer := NewConfidenceScorer(DefaultWeights, DefaultTiers, 20)
	groups := NewCorrelator(0).Correlate(models.EvidenceBySource{
		Logs:   items(models.SourceLog, 40, "T1"),
		Traces: items(models.SourceTrace, 12, "T1"),
	})
	res := scorer.Score(nil, groups, []models.SimilarIncident{{SimilarityScore: 0.94}}, 0.8)
	if res.Breakdown.TraceLogAlignment != 1 || res.Breakdown.SimilarIncidentScore != 0.94 {
		t.Fatalf("unexpected breakdown %+v", res.Breakdown)
	}
	if res.Breakdown.ModelSelfAssessment != 0 {
		t.Fatalf("self assessment must not count without candidates")
	}
	if res.Tier != models.TierHigh {
		t.Fatalf("expected high tier, got %s (%v)", res.Tier, res.Score)
	}
}

func TestTierBoundaries(t *testing.T) {
	scorer := NewConfidenceScorer(DefaultWeights, DefaultTiers, 20)
	cases := map[float64]models.ConfidenceTier{
		0.55: models.TierHigh,
		0.54: models.TierMedium,
		0.25: models.TierMedium,
		0.24: models.TierLow,
	}
	for score, want := range cases {
		if got := scorer.Tier(score); got != want {
			t.Fatalf("tier(%v) = %s, want %s", score, got, want)
		}
	}
}

func TestNextStepsMentionMissingSignals(t *testing.T) {
	steps := NextSteps(models.ConfidenceResult{}, []string{"metrics"}, 0)
	if len(steps) == 0 || steps[0] != "No metrics evidence was found; check metrics ingestion or widen the time range" {
		t.Fatalf("unexpected next steps %v", steps)
	}
}
