package models

import "time"

// Stage is a planner state.
type Stage string

const (
	StageScoping           Stage = "Scoping"
	StageGathering         Stage = "Gathering"
	StageCorrelating       Stage = "Correlating"
	StageRetrievingSimilar Stage = "RetrievingSimilar"
	StageSynthesizing      Stage = "Synthesizing"
	StageScoring           Stage = "Scoring"
	StageRemediating       Stage = "Remediating"
	StageValidating        Stage = "Validating"
	StageComplete          Stage = "Complete"
	StageFailed            Stage = "Failed"
)

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// EventKind distinguishes stage boundaries from in-stage progress.
type EventKind string

const (
	EventEntered   EventKind = "entered"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
)

// Event is one element of an investigation stream.
type Event struct {
	RunID   string       `json:"run_id"`
	Seq     int          `json:"seq"`
	Stage   Stage        `json:"stage"`
	Kind    EventKind    `json:"kind"`
	Time    time.Time    `json:"time"`
	Payload EventPayload `json:"payload,omitempty"`
}

// EventPayload is implemented by the typed payload of each stage.
type EventPayload interface {
	PayloadType() string
}

// ScopePayload reports the resolved scope.
type ScopePayload struct {
	Scope Scope `json:"scope"`
}

// SourcePayload reports one evidence source finishing.
type SourcePayload struct {
	Source  SourceKind `json:"source_kind"`
	Count   int        `json:"count"`
	Missing bool       `json:"missing"`
	Error   string     `json:"error,omitempty"`
}

// GatherPayload summarises the gather stage.
type GatherPayload struct {
	Counts         map[string]int `json:"counts"`
	MissingSignals []string       `json:"missing_signals"`
}

// CorrelationPayload summarises correlation.
type CorrelationPayload struct {
	Groups     int `json:"groups"`
	Correlated int `json:"correlated"`
}

// SimilarPayload summarises similar incident retrieval.
type SimilarPayload struct {
	Count    int     `json:"count"`
	TopScore float64 `json:"top_score"`
	Error    string  `json:"error,omitempty"`
}

// SynthesisPayload summarises synthesis.
type SynthesisPayload struct {
	Candidates int    `json:"candidates"`
	Dropped    int    `json:"dropped"`
	Error      string `json:"error,omitempty"`
}

// ScorePayload carries the confidence result.
type ScorePayload struct {
	Confidence ConfidenceResult `json:"confidence"`
}

// RemediationPayload summarises remediation mapping.
type RemediationPayload struct {
	Actions int `json:"actions"`
}

// ValidationPayload carries the validator report.
type ValidationPayload struct {
	Report ValidationReport `json:"report"`
}

// ResultPayload closes a stream with the final result.
type ResultPayload struct {
	Result *InvestigationResult `json:"result"`
	Error  string               `json:"error,omitempty"`
}

func (ScopePayload) PayloadType() string       { return "scope" }
func (SourcePayload) PayloadType() string      { return "source" }
func (GatherPayload) PayloadType() string      { return "gather" }
func (CorrelationPayload) PayloadType() string { return "correlation" }
func (SimilarPayload) PayloadType() string     { return "similar" }
func (SynthesisPayload) PayloadType() string   { return "synthesis" }
func (ScorePayload) PayloadType() string       { return "score" }
func (RemediationPayload) PayloadType() string { return "remediation" }
func (ValidationPayload) PayloadType() string  { return "validation" }
func (ResultPayload) PayloadType() string      { return "result" }
