package models

import "time"

// SourceKind identifies the telemetry source an evidence item came from.
type SourceKind string

const (
	SourceLog    SourceKind = "log"
	SourceTrace  SourceKind = "trace"
	SourceMetric SourceKind = "metric"
)

// SourceKinds lists every telemetry source in gather order.
var SourceKinds = []SourceKind{SourceLog, SourceTrace, SourceMetric}

// Signal returns the plural signal name used in missing_signals.
func (k SourceKind) Signal() string {
	switch k {
	case SourceLog:
		return "logs"
	case SourceTrace:
		return "traces"
	case SourceMetric:
		return "metrics"
	default:
		return string(k)
	}
}

// RankOrigin records which retrieval leg produced an evidence item.
type RankOrigin string

const (
	RankLexical RankOrigin = "lexical"
	RankVector  RankOrigin = "vector"
	RankFused   RankOrigin = "fused"
)

// CorrelationKeys are the identifiers evidence is linked on.
type CorrelationKeys struct {
	TraceID      string `json:"trace_id,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty"`
	Service      string `json:"service"`
}

// Link is a deep link into an external telemetry UI.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// EvidenceItem is a single retrieved telemetry document.
type EvidenceItem struct {
	ID             string          `json:"id"`
	Source         SourceKind      `json:"source_kind"`
	Timestamp      time.Time       `json:"timestamp"`
	Message        string          `json:"message,omitempty"`
	Payload        map[string]any  `json:"raw_payload,omitempty"`
	Keys           CorrelationKeys `json:"correlation_keys"`
	RelevanceScore float64         `json:"relevance_score"`
	RankOrigin     RankOrigin      `json:"rank_origin"`
	LexicalRank    int             `json:"lexical_rank,omitempty"`
	VectorRank     int             `json:"vector_rank,omitempty"`
	Degraded       bool            `json:"degraded,omitempty"`
	Links          []Link          `json:"links,omitempty"`
}

// EvidenceBySource holds gathered evidence split per source kind.
type EvidenceBySource struct {
	Logs    []EvidenceItem `json:"logs"`
	Traces  []EvidenceItem `json:"traces"`
	Metrics []EvidenceItem `json:"metrics"`
}

// Get returns the items gathered for kind.
func (e EvidenceBySource) Get(kind SourceKind) []EvidenceItem {
	switch kind {
	case SourceLog:
		return e.Logs
	case SourceTrace:
		return e.Traces
	case SourceMetric:
		return e.Metrics
	}
	return nil
}

// Set stores items for kind, never leaving a nil slice behind.
func (e *EvidenceBySource) Set(kind SourceKind, items []EvidenceItem) {
	if items == nil {
		items = []EvidenceItem{}
	}
	switch kind {
	case SourceLog:
		e.Logs = items
	case SourceTrace:
		e.Traces = items
	case SourceMetric:
		e.Metrics = items
	}
}

// All returns every item in source order (logs, traces, metrics).
func (e EvidenceBySource) All() []EvidenceItem {
	out := make([]EvidenceItem, 0, e.Count())
	out = append(out, e.Logs...)
	out = append(out, e.Traces...)
	out = append(out, e.Metrics...)
	return out
}

// Count returns the total number of items.
func (e EvidenceBySource) Count() int {
	return len(e.Logs) + len(e.Traces) + len(e.Metrics)
}
