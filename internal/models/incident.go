package models

// SimilarIncident is a read-only snapshot of a past incident.
type SimilarIncident struct {
	IncidentID      string   `json:"incident_id"`
	Title           string   `json:"title,omitempty"`
	Service         string   `json:"service,omitempty"`
	SimilarityScore float64  `json:"similarity_score"`
	PriorRootCause  string   `json:"prior_root_cause"`
	PriorFixSteps   []string `json:"prior_fix_steps,omitempty"`
	PostmortemURL   string   `json:"postmortem_url,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// CitationID is the id a root-cause candidate uses to cite this incident.
func (s SimilarIncident) CitationID() string {
	return "incident:" + s.IncidentID
}
