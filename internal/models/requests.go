package models

import "time"

// TimeRange bounds an investigation window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// InvestigationRequest is the caller's question plus optional scope hints.
type InvestigationRequest struct {
	Question    string    `json:"question"`
	Service     string    `json:"service,omitempty"`
	Environment string    `json:"environment,omitempty"`
	TimeRange   TimeRange `json:"time_range"`
	Filters     []string  `json:"filters,omitempty"`
}

// CloseRequest confirms the root cause of a finished run so it can be
// written back to the historical incidents collection.
type CloseRequest struct {
	RunID         string   `json:"run_id"`
	Title         string   `json:"title,omitempty"`
	RootCause     string   `json:"root_cause"`
	FixSteps      []string `json:"fix_steps,omitempty"`
	PostmortemURL string   `json:"postmortem_url,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ScopeCatalog lists the services and environments present in telemetry.
type ScopeCatalog struct {
	Services     []string `json:"services"`
	Environments []string `json:"environments"`
}
