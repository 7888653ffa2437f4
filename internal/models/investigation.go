package models

import "time"

// CandidateState tracks how strongly a root cause is supported.
type CandidateState string

const (
	StateObserved   CandidateState = "observed"
	StateCorrelated CandidateState = "correlated"
	StateProbable   CandidateState = "probable"
)

// RootCauseCandidate is a ranked, cited root-cause hypothesis.
type RootCauseCandidate struct {
	Text                  string         `json:"text"`
	SupportingEvidenceIDs []string       `json:"supporting_evidence_ids"`
	Rank                  int            `json:"rank"`
	Weight                float64        `json:"weight"`
	State                 CandidateState `json:"state,omitempty"`
}

// ConfidenceTier is the discrete bucket of a confidence score.
type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "low"
	TierMedium ConfidenceTier = "medium"
	TierHigh   ConfidenceTier = "high"
)

// ComponentBreakdown holds the normalized inputs of a confidence score.
type ComponentBreakdown struct {
	TraceLogAlignment    float64 `json:"trace_log_alignment"`
	SimilarIncidentScore float64 `json:"similar_incident_score"`
	EvidenceCountFactor  float64 `json:"evidence_count_factor"`
	ModelSelfAssessment  float64 `json:"model_self_assessment"`
}

// ConfidenceResult is the scored confidence together with its breakdown.
type ConfidenceResult struct {
	Score     float64            `json:"score"`
	Tier      ConfidenceTier     `json:"tier"`
	Breakdown ComponentBreakdown `json:"component_breakdown"`
	NextSteps []string           `json:"next_steps,omitempty"`
}

// RiskLevel grades a remediation action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RemediationAction is a proposed fix for one candidate.
type RemediationAction struct {
	CandidateRank        int       `json:"candidate_rank"`
	Category             string    `json:"category"`
	ActionText           string    `json:"action_text"`
	RiskLevel            RiskLevel `json:"risk_level"`
	Reversible           bool      `json:"reversible"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
}

// ValidationStatus is the final gate outcome.
type ValidationStatus string

const (
	ValidationAccepted ValidationStatus = "accepted"
	ValidationDegraded ValidationStatus = "degraded"
	ValidationRejected ValidationStatus = "rejected"
)

// ValidationReport is returned by the validators.
type ValidationReport struct {
	Accepted bool             `json:"accepted"`
	Status   ValidationStatus `json:"status"`
	Reasons  []string         `json:"reasons,omitempty"`
}

// Highlight marks a statistically unusual evidence item.
type Highlight struct {
	EvidenceID string     `json:"evidence_id"`
	Source     SourceKind `json:"source_kind"`
	Score      float64    `json:"score"`
	Reason     string     `json:"reason"`
}

// RunDelta compares a run with the previous attempt on the same scope.
type RunDelta struct {
	PreviousRunID     string   `json:"previous_run_id"`
	ConfidenceChange  float64  `json:"confidence_change"`
	SignalsRecovered  []string `json:"signals_recovered,omitempty"`
	SignalsLost       []string `json:"signals_lost,omitempty"`
	NewCandidates     []string `json:"new_candidates,omitempty"`
	DroppedCandidates []string `json:"dropped_candidates,omitempty"`
}

// InvestigationResult is the terminal aggregate of one run.
type InvestigationResult struct {
	RunID               string               `json:"run_id"`
	Question            string               `json:"question"`
	Scope               Scope                `json:"scope"`
	Evidence            EvidenceBySource     `json:"evidence_by_source"`
	MissingSignals      []string             `json:"missing_signals"`
	SignalErrors        map[string]string    `json:"signal_errors,omitempty"`
	CorrelationGroups   []CorrelationGroup   `json:"correlation_groups"`
	SimilarIncidents    []SimilarIncident    `json:"similar_incidents"`
	Highlights          []Highlight          `json:"highlights"`
	RootCauseCandidates []RootCauseCandidate `json:"root_cause_candidates"`
	Confidence          ConfidenceResult     `json:"confidence"`
	Remediations        []RemediationAction  `json:"remediations"`
	ValidationStatus    ValidationStatus     `json:"validation_status"`
	ValidationReasons   []string             `json:"validation_reasons,omitempty"`
	Degradations        []string             `json:"degradations,omitempty"`
	Attempt             int                  `json:"attempt"`
	Delta               *RunDelta            `json:"delta,omitempty"`
	StartedAt           time.Time            `json:"started_at"`
	CompletedAt         time.Time            `json:"completed_at"`
}
