package models

// Scope is resolved once per run and never changes afterwards.
type Scope struct {
	Service     string    `json:"service,omitempty"`
	Environment string    `json:"environment,omitempty"`
	TimeRange   TimeRange `json:"time_range"`
	Filters     []string  `json:"filters,omitempty"`
	Fingerprint string    `json:"fingerprint"`
}
