package engine

import (
	"context"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// RunStore persists run summaries across investigations.
type RunStore interface {
	Append(ctx context.Context, rec models.RunRecord) error
	Query(ctx context.Context, f models.RunFilter) ([]models.RunRecord, error)
}

// priorRuns returns the recorded runs for fingerprint, newest first.
func priorRuns(ctx context.Context, store RunStore, fingerprint string) ([]models.RunRecord, error) {
	if store == nil || fingerprint == "" {
		return nil, nil
	}
	return store.Query(ctx, models.RunFilter{Fingerprint: fingerprint})
}

// lastComplete picks the newest complete run from records sorted newest first.
func lastComplete(records []models.RunRecord) (models.RunRecord, bool) {
	for _, rec := range records {
		if rec.Status == models.RunComplete {
			return rec, true
		}
	}
	return models.RunRecord{}, false
}

// recordFor summarises a result for the run store.
func recordFor(result *models.InvestigationResult, question string, status models.RunStatus, runErr error) models.RunRecord {
	rec := models.RunRecord{
		RunID:            result.RunID,
		Fingerprint:      result.Scope.Fingerprint,
		Question:         question,
		Service:          result.Scope.Service,
		Environment:      result.Scope.Environment,
		Status:           status,
		ValidationStatus: result.ValidationStatus,
		ConfidenceScore:  result.Confidence.Score,
		ConfidenceTier:   result.Confidence.Tier,
		EvidenceCount:    result.Evidence.Count(),
		MissingSignals:   append([]string(nil), result.MissingSignals...),
		Attempt:          result.Attempt,
		StartedAt:        result.StartedAt,
		CompletedAt:      result.CompletedAt,
	}
	for _, c := range result.RootCauseCandidates {
		rec.Candidates = append(rec.Candidates, c.Text)
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// deltaFrom compares a finished result with the previous attempt.
func deltaFrom(prev models.RunRecord, result *models.InvestigationResult) *models.RunDelta {
	current := make([]string, 0, len(result.RootCauseCandidates))
	for _, c := range result.RootCauseCandidates {
		current = append(current, c.Text)
	}
	return &models.RunDelta{
		PreviousRunID:     prev.RunID,
		ConfidenceChange:  result.Confidence.Score - prev.ConfidenceScore,
		SignalsRecovered:  difference(prev.MissingSignals, result.MissingSignals, false),
		SignalsLost:       difference(result.MissingSignals, prev.MissingSignals, false),
		NewCandidates:     difference(current, prev.Candidates, true),
		DroppedCandidates: difference(prev.Candidates, current, true),
	}
}

// difference returns the members of a absent from b, in a's order.
func difference(a, b []string, normalize bool) []string {
	key := func(s string) string {
		if normalize {
			return utils.NormalizeText(s)
		}
		return s
	}
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[key(s)] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := in[key(s)]; !ok {
			out = append(out, s)
		}
	}
	return out
}
