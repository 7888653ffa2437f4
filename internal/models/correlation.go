package models

import "time"

// GroupKeyKind describes what linked the members of a correlation group.
type GroupKeyKind string

const (
	KeyTraceID      GroupKeyKind = "trace_id"
	KeyDeploymentID GroupKeyKind = "deployment_id"
	KeyTimeBucket   GroupKeyKind = "time_bucket"
	KeyUncorrelated GroupKeyKind = "uncorrelated"
)

// UncorrelatedGroupKey names the fallback group.
const UncorrelatedGroupKey = "uncorrelated"

// CorrelationGroup is one probable causal thread across sources.
type CorrelationGroup struct {
	Key     string         `json:"key"`
	KeyKind GroupKeyKind   `json:"key_kind"`
	Members []EvidenceItem `json:"members"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
}

// SourceKinds returns the distinct source kinds among members, in gather order.
func (g CorrelationGroup) SourceKinds() []SourceKind {
	present := make(map[SourceKind]bool, 3)
	for _, m := range g.Members {
		present[m.Source] = true
	}
	out := make([]SourceKind, 0, len(present))
	for _, kind := range SourceKinds {
		if present[kind] {
			out = append(out, kind)
		}
	}
	return out
}

// MemberIDs returns member evidence ids in member order.
func (g CorrelationGroup) MemberIDs() []string {
	ids := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.ID)
	}
	return ids
}
