package models

import "time"

// RunStatus is the terminal planner state of a recorded run.
type RunStatus string

const (
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// RunRecord is the persisted summary of one investigation run.
type RunRecord struct {
	RunID            string           `json:"run_id"`
	Fingerprint      string           `json:"fingerprint"`
	Question         string           `json:"question"`
	Service          string           `json:"service,omitempty"`
	Environment      string           `json:"environment,omitempty"`
	Status           RunStatus        `json:"status"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	ConfidenceScore  float64          `json:"confidence_score"`
	ConfidenceTier   ConfidenceTier   `json:"confidence_tier,omitempty"`
	EvidenceCount    int              `json:"evidence_count"`
	MissingSignals   []string         `json:"missing_signals,omitempty"`
	Candidates       []string         `json:"candidates,omitempty"`
	Attempt          int              `json:"attempt"`
	Error            string           `json:"error,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at"`
}

// RunFilter selects run records. Zero fields do not filter.
type RunFilter struct {
	RunID       string
	Fingerprint string
	Service     string
	Environment string
	Since       time.Time
	Until       time.Time
	Limit       int
}

// Matches reports whether rec passes every set filter.
func (f RunFilter) Matches(rec RunRecord) bool {
	if f.RunID != "" && rec.RunID != f.RunID {
		return false
	}
	if f.Fingerprint != "" && rec.Fingerprint != f.Fingerprint {
		return false
	}
	if f.Service != "" && rec.Service != f.Service {
		return false
	}
	if f.Environment != "" && rec.Environment != f.Environment {
		return false
	}
	if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && rec.StartedAt.After(f.Until) {
		return false
	}
	return true
}

// FailurePattern is a recurring root cause mined from run history.
type FailurePattern struct {
	ID             string    `json:"id"`
	Service        string    `json:"service"`
	RootCause      string    `json:"root_cause"`
	Occurrences    int       `json:"occurrences"`
	Prevalence     float64   `json:"prevalence"`
	MeanConfidence float64   `json:"mean_confidence"`
	LastSeen       time.Time `json:"last_seen"`
}
