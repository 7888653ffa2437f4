package engine

import (
	"fmt"
	"math"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// Weights are the confidence component weights. They must sum to 1.
type Weights struct {
	TraceLogAlignment    float64
	SimilarIncidentScore float64
	EvidenceCountFactor  float64
	ModelSelfAssessment  float64
}

// DefaultWeights are the standard component weights.
var DefaultWeights = Weights{
	TraceLogAlignment:    0.4,
	SimilarIncidentScore: 0.3,
	EvidenceCountFactor:  0.2,
	ModelSelfAssessment:  0.1,
}

// Sum returns the total weight, adding the smallest default weight first so
// the defaults total exactly 1.
func (w Weights) Sum() float64 {
	return w.ModelSelfAssessment + w.EvidenceCountFactor + w.SimilarIncidentScore + w.TraceLogAlignment
}

// Tiers are the inclusive lower bounds of the high and medium tiers.
type Tiers struct {
	High   float64
	Medium float64
}

// DefaultTiers are the standard tier boundaries.
var DefaultTiers = Tiers{High: 0.55, Medium: 0.25}

// DefaultTargetEvidenceCount saturates the evidence count factor.
const DefaultTargetEvidenceCount = 20

// ConfidenceScorer computes the weighted confidence of a run.
type ConfidenceScorer struct {
	weights Weights
	tiers   Tiers
	target  int
}

// NewConfidenceScorer builds a scorer. Zero weights or tiers fall back to
// the defaults.
func NewConfidenceScorer(weights Weights, tiers Tiers, target int) *ConfidenceScorer {
	if weights.Sum() == 0 {
		weights = DefaultWeights
	}
	if tiers.High == 0 && tiers.Medium == 0 {
		tiers = DefaultTiers
	}
	if target <= 0 {
		target = DefaultTargetEvidenceCount
	}
	return &ConfidenceScorer{weights: weights, tiers: tiers, target: target}
}

// Score returns the weighted sum of the normalized components and its tier.
// Without candidates there is nothing for the model assessment to vouch for,
// so that component is zero.
func (s *ConfidenceScorer) Score(candidates []models.RootCauseCandidate, groups []models.CorrelationGroup, similar []models.SimilarIncident, selfAssessment float64) models.ConfidenceResult {
	breakdown := models.ComponentBreakdown{
		TraceLogAlignment:    traceLogAlignment(groups),
		SimilarIncidentScore: topSimilarity(similar),
		EvidenceCountFactor:  unit(float64(evidenceCount(groups)) / float64(s.target)),
	}
	if len(candidates) > 0 {
		breakdown.ModelSelfAssessment = unit(selfAssessment)
	}

	score := breakdown.TraceLogAlignment*s.weights.TraceLogAlignment +
		breakdown.SimilarIncidentScore*s.weights.SimilarIncidentScore +
		breakdown.EvidenceCountFactor*s.weights.EvidenceCountFactor +
		breakdown.ModelSelfAssessment*s.weights.ModelSelfAssessment
	score = unit(score)

	return models.ConfidenceResult{
		Score:     score,
		Tier:      s.Tier(score),
		Breakdown: breakdown,
	}
}

// Tier buckets a score.
func (s *ConfidenceScorer) Tier(score float64) models.ConfidenceTier {
	switch {
	case score >= s.tiers.High:
		return models.TierHigh
	case score >= s.tiers.Medium:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

// NextSteps suggests how to raise confidence given the weak components and
// the signals that returned nothing.
func NextSteps(result models.ConfidenceResult, missingSignals []string, candidates int) []string {
	steps := make([]string, 0, 4)
	for _, signal := range missingSignals {
		steps = append(steps, fmt.Sprintf("No %s evidence was found; check %s ingestion or widen the time range", signal, signal))
	}
	b := result.Breakdown
	if b.TraceLogAlignment < 0.5 {
		steps = append(steps, "Few groups link several signals; look for a trace id or deployment id shared by logs and traces")
	}
	if b.SimilarIncidentScore == 0 {
		steps = append(steps, "No similar past incident was found; close this run with a confirmed root cause to seed history")
	}
	if b.EvidenceCountFactor < 0.5 {
		steps = append(steps, "Evidence is sparse; widen the time range or relax the filters")
	}
	if candidates > 0 && b.ModelSelfAssessment < 0.5 {
		steps = append(steps, "The model doubts its own answer; verify the top candidate against the cited evidence")
	}
	return steps
}

// traceLogAlignment is the fraction of linked groups that hold evidence from
// two or more source kinds. The uncorrelated group links nothing and is ignored.
func traceLogAlignment(groups []models.CorrelationGroup) float64 {
	linked := 0
	for _, g := range groups {
		if g.KeyKind != models.KeyUncorrelated {
			linked++
		}
	}
	if linked == 0 {
		return 0
	}
	return unit(float64(CorrelatedGroups(groups)) / float64(linked))
}

func topSimilarity(similar []models.SimilarIncident) float64 {
	top := 0.0
	for _, s := range similar {
		if s.SimilarityScore > top {
			top = s.SimilarityScore
		}
	}
	return unit(top)
}

func evidenceCount(groups []models.CorrelationGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Members)
	}
	return n
}

func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 1)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
