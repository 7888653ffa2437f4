package engine

import (
	"context"
	"reflect"
	"testing"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

type staticLinker struct{}

func (staticLinker) Links(item models.EvidenceItem) []models.Link {
	return []models.Link{{Label: "view", URL: "https://kibana.example/" + item.ID}}
}

func TestGatherToleratesFailedSource(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]models.EvidenceItem{
			"logs":   items(models.SourceLog, 3, "T1"),
			"traces": items(models.SourceTrace, 2, "T1"),
		},
		fail: map[string]error{"metrics": errDown},
	}
	g := NewGatherer(nil, searcher, testCollections, 10, staticLinker{})

	var progress []models.SourcePayload
	res := g.Gather(context.Background(), "why", models.Scope{Service: "payment-api"}, func(p models.SourcePayload) {
		progress = append(progress, p)
	})

	if len(progress) != 3 {
		t.Fatalf("expected one progress event per source, got %d", len(progress))
	}
	if res.Evidence.Count() != 5 {
		t.Fatalf("expected 5 items, got %d", res.Evidence.Count())
	}
	if res.Evidence.Metrics == nil || len(res.Evidence.Metrics) != 0 {
		t.Fatalf("failed source must be an explicit empty list")
	}
	if !reflect.DeepEqual(res.MissingSignals, []string{"metrics"}) {
		t.Fatalf("unexpected missing signals %v", res.MissingSignals)
	}
	if res.Errors["metrics"] != errDown.Error() {
		t.Fatalf("expected metrics error recorded, got %v", res.Errors)
	}
	if len(res.Evidence.Logs[0].Links) != 1 {
		t.Fatalf("expected links on evidence")
	}
}

func TestGatherDegradationIsDeterministic(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]models.EvidenceItem{
			"logs":    items(models.SourceLog, 1, ""),
			"metrics": items(models.SourceMetric, 1, ""),
		},
		fail: map[string]error{"traces": errDown},
	}
	g := NewGatherer(nil, searcher, testCollections, 10, nil)
	first := g.Gather(context.Background(), "why", models.Scope{}, nil)
	second := g.Gather(context.Background(), "why", models.Scope{}, nil)
	if !reflect.DeepEqual(first.MissingSignals, second.MissingSignals) {
		t.Fatalf("missing signals differ: %v vs %v", first.MissingSignals, second.MissingSignals)
	}
	if !reflect.DeepEqual(first.MissingSignals, []string{"traces"}) {
		t.Fatalf("unexpected missing signals %v", first.MissingSignals)
	}
}

func TestGatherAllSourcesFail(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]error{"logs": errDown, "traces": errDown, "metrics": errDown}}
	res := NewGatherer(nil, searcher, testCollections, 10, nil).Gather(context.Background(), "why", models.Scope{}, nil)
	if !reflect.DeepEqual(res.MissingSignals, []string{"logs", "traces", "metrics"}) {
		t.Fatalf("unexpected missing signals %v", res.MissingSignals)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("expected three recorded errors, got %v", res.Errors)
	}
}
