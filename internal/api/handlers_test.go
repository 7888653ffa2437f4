package api

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestFromStructInvestigationRequest(t *testing.T) {
	req := mustStruct(t, map[string]any{
		"question":    "why is checkout slow",
		"service":     "checkout",
		"environment": "prod",
		"start":       "2025-01-01T10:00:00Z",
		"end":         "2025-01-01T11:00:00Z",
		"filters":     []any{"db", "timeout"},
	})

	domainReq, err := FromStructInvestigationRequest(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if domainReq.Service != "checkout" || domainReq.Environment != "prod" {
		t.Fatalf("unexpected scope hints: %+v", domainReq)
	}
	if !domainReq.TimeRange.Start.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %s", domainReq.TimeRange.Start)
	}
	if len(domainReq.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %v", domainReq.Filters)
	}
}

func TestFromStructInvestigationRequestValidation(t *testing.T) {
	if _, err := FromStructInvestigationRequest(nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
	if _, err := FromStructInvestigationRequest(mustStruct(t, map[string]any{"service": "checkout"})); err == nil {
		t.Fatalf("expected error without question")
	}
	bad := mustStruct(t, map[string]any{"question": "q", "start": "yesterday"})
	if _, err := FromStructInvestigationRequest(bad); err == nil {
		t.Fatalf("expected error for malformed start")
	}
}

func TestFromStructRunFilter(t *testing.T) {
	f, err := FromStructRunFilter(mustStruct(t, map[string]any{"service": "checkout", "limit": 10}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.Service != "checkout" || f.Limit != 10 {
		t.Fatalf("unexpected filter: %+v", f)
	}
	if _, err := FromStructRunFilter(mustStruct(t, map[string]any{"limit": 1.5})); err == nil {
		t.Fatalf("expected error for fractional limit")
	}
}

func TestFromStructCloseRequest(t *testing.T) {
	req := mustStruct(t, map[string]any{
		"run_id":     "run-1",
		"root_cause": "connection pool exhausted",
		"fix_steps":  []any{"raise pool size"},
	})
	out, err := FromStructCloseRequest(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.RunID != "run-1" || len(out.FixSteps) != 1 {
		t.Fatalf("unexpected close request: %+v", out)
	}
	if _, err := FromStructCloseRequest(mustStruct(t, map[string]any{"run_id": "run-1"})); err == nil {
		t.Fatalf("expected error without root cause")
	}
}

func TestToStructEvent(t *testing.T) {
	ev := models.Event{
		RunID:   "run-1",
		Seq:     3,
		Stage:   models.StageGathering,
		Kind:    models.EventProgress,
		Time:    time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		Payload: models.SourcePayload{Source: models.SourceLog, Count: 4},
	}
	out, err := ToStructEvent(ev)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	fields := out.GetFields()
	if fields["stage"].GetStringValue() != "Gathering" {
		t.Fatalf("unexpected stage: %v", fields["stage"])
	}
	if fields["payload_type"].GetStringValue() != "source" {
		t.Fatalf("unexpected payload type: %v", fields["payload_type"])
	}
	payload := fields["payload"].GetStructValue().GetFields()
	if payload["count"].GetNumberValue() != 4 {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestToStructRunsEmpty(t *testing.T) {
	out, err := ToStructRuns(nil)
	if err != nil {
		t.Fatalf("encode runs: %v", err)
	}
	if out.GetFields()["runs"].GetListValue() == nil {
		t.Fatalf("expected empty runs list, got %v", out.GetFields()["runs"])
	}
}
