package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

func newTestPlanner(t *testing.T, searcher Searcher, similar SimilarFinder, gen Generator, runs RunStore) *Planner {
	t.Helper()
	p, err := NewPlanner(nil, Dependencies{
		Gatherer:    NewGatherer(nil, searcher, testCollections, 50, nil),
		Similar:     similar,
		SimilarTopN: 5,
		Synthesizer: NewSynthesizer(nil, gen, time.Second, 512),
		Validator:   NewValidator(2, []string{"delete", "drop_index", "run_shell"}),
		Runs:        runs,
	})
	if err != nil {
		t.Fatalf("new planner: %v", err)
	}
	return p
}

func paymentSearcher() *fakeSearcher {
	return &fakeSearcher{results: map[string][]models.EvidenceItem{
		"logs":   items(models.SourceLog, 40, "T1"),
		"traces": items(models.SourceTrace, 12, "T1"),
	}}
}

func paymentRequest() models.InvestigationRequest {
	return models.InvestigationRequest{
		Question:  "Why is payment-api returning errors?",
		Service:   "payment-api",
		TimeRange: models.TimeRange{Start: t0.Add(-time.Hour), End: t0.Add(time.Hour)},
	}
}

const poolAnswer = `{"candidates":[{"text":"DB pool exhaustion","rank":1,"citations":["logs:0","traces:0","incident:INC-1"]}],"self_assessment":0.7}`

func TestPlannerSharedTraceScenario(t *testing.T) {
	similar := &fakeSimilar{incidents: []models.SimilarIncident{{IncidentID: "INC-1", SimilarityScore: 0.94, PriorRootCause: "DB pool exhaustion"}}}
	p := newTestPlanner(t, paymentSearcher(), similar, &fakeGenerator{text: poolAnswer}, nil)

	res, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if len(res.CorrelationGroups) != 1 || len(res.CorrelationGroups[0].Members) != 52 {
		t.Fatalf("expected one group of 52, got %d groups", len(res.CorrelationGroups))
	}
	if res.Confidence.Tier != models.TierHigh {
		t.Fatalf("expected high tier, got %s (%+v)", res.Confidence.Tier, res.Confidence.Breakdown)
	}
	if res.Confidence.Breakdown.TraceLogAlignment != 1 || res.Confidence.Breakdown.SimilarIncidentScore != 0.94 {
		t.Fatalf("unexpected breakdown %+v", res.Confidence.Breakdown)
	}
	if len(res.RootCauseCandidates) == 0 {
		t.Fatalf("expected a root-cause candidate")
	}
	top := res.RootCauseCandidates[0]
	var sawLog, sawTrace bool
	for _, id := range top.SupportingEvidenceIDs {
		sawLog = sawLog || strings.HasPrefix(id, "logs:")
		sawTrace = sawTrace || strings.HasPrefix(id, "traces:")
	}
	if !sawLog || !sawTrace {
		t.Fatalf("expected log and trace citations, got %v", top.SupportingEvidenceIDs)
	}
	if top.State != models.StateProbable {
		t.Fatalf("expected probable state, got %s", top.State)
	}
	if len(res.Remediations) == 0 || res.Remediations[0].Category != "database" {
		t.Fatalf("expected database remediations, got %+v", res.Remediations)
	}
	if res.ValidationStatus != models.ValidationAccepted {
		t.Fatalf("expected accepted, got %s %v", res.ValidationStatus, res.ValidationReasons)
	}
	if len(res.MissingSignals) != 1 || res.MissingSignals[0] != "metrics" {
		t.Fatalf("expected metrics listed as missing, got %v", res.MissingSignals)
	}
	if res.Attempt != 1 || res.CompletedAt.Before(res.StartedAt) {
		t.Fatalf("unexpected bookkeeping attempt=%d", res.Attempt)
	}
}

func TestPlannerFailsWhenEverythingIsMissing(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]error{"logs": errDown, "traces": errDown, "metrics": errDown}}
	similar := &fakeSimilar{}
	gen := &fakeGenerator{text: poolAnswer}
	p := newTestPlanner(t, searcher, similar, gen, nil)

	var events []models.Event
	res, err := p.Investigate(context.Background(), paymentRequest(), func(ev models.Event) { events = append(events, ev) })
	if !errors.Is(err, utils.ErrEvidenceExhausted) {
		t.Fatalf("expected evidence exhausted, got %v", err)
	}
	if strings.Join(res.MissingSignals, ",") != "logs,traces,metrics" {
		t.Fatalf("unexpected missing signals %v", res.MissingSignals)
	}
	if similar.calls != 1 {
		t.Fatalf("similar incidents must still be attempted, got %d calls", similar.calls)
	}
	if gen.calls != 0 {
		t.Fatalf("synthesis must not run after a failed run")
	}
	last := events[len(events)-1]
	if last.Stage != models.StageFailed {
		t.Fatalf("expected Failed terminal event, got %s", last.Stage)
	}
	if payload, ok := last.Payload.(models.ResultPayload); !ok || payload.Error == "" || payload.Result == nil {
		t.Fatalf("expected failure payload, got %#v", last.Payload)
	}
	if res.ValidationStatus != models.ValidationRejected || len(res.ValidationReasons) == 0 {
		t.Fatalf("expected an explicit rejection, got %q %v", res.ValidationStatus, res.ValidationReasons)
	}
	if res.Confidence.Tier != models.TierLow {
		t.Fatalf("expected low tier on a failed run, got %q", res.Confidence.Tier)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	for _, key := range []string{"correlation_groups", "similar_incidents", "highlights", "root_cause_candidates", "remediations"} {
		if string(fields[key]) != "[]" {
			t.Fatalf("expected %s to be an empty list, got %s", key, fields[key])
		}
	}
	if string(fields["validation_status"]) != `"rejected"` {
		t.Fatalf("unexpected validation_status %s", fields["validation_status"])
	}
}

func TestPlannerFailedScopeKeepsEmptyOutputs(t *testing.T) {
	p := newTestPlanner(t, paymentSearcher(), &fakeSimilar{}, &fakeGenerator{text: poolAnswer}, nil)

	req := paymentRequest()
	req.TimeRange = models.TimeRange{Start: t0, End: t0.Add(-time.Minute)}
	res, err := p.Investigate(context.Background(), req, nil)
	if !errors.Is(err, utils.ErrScopeResolution) {
		t.Fatalf("expected scope resolution error, got %v", err)
	}
	if res.Evidence.Logs == nil || res.Evidence.Traces == nil || res.Evidence.Metrics == nil {
		t.Fatalf("expected empty evidence lists, got %+v", res.Evidence)
	}
	if res.RootCauseCandidates == nil || res.Remediations == nil || res.Highlights == nil {
		t.Fatalf("expected empty stage outputs on a failed run")
	}
	if res.ValidationStatus != models.ValidationRejected {
		t.Fatalf("expected rejected, got %q", res.ValidationStatus)
	}
	if !strings.Contains(res.ValidationReasons[0], string(models.StageScoping)) {
		t.Fatalf("expected the failing stage in the reason, got %v", res.ValidationReasons)
	}
}

func TestPlannerSurvivesWithSimilarIncidentsOnly(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]error{"logs": errDown, "traces": errDown, "metrics": errDown}}
	similar := &fakeSimilar{incidents: []models.SimilarIncident{{IncidentID: "INC-1", SimilarityScore: 0.5}}}
	p := newTestPlanner(t, searcher, similar, &fakeGenerator{text: poolAnswer}, nil)

	res, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("expected a degraded result, got %v", err)
	}
	if res.ValidationStatus != models.ValidationRejected {
		t.Fatalf("expected rejection on zero evidence, got %s", res.ValidationStatus)
	}
}

func TestPlannerDropsUncitedCandidateAndRejects(t *testing.T) {
	gen := &fakeGenerator{text: `{"candidates":[{"text":"a hunch","rank":1,"citations":[]}],"self_assessment":0.9}`}
	p := newTestPlanner(t, paymentSearcher(), &fakeSimilar{}, gen, nil)

	res, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if res.RootCauseCandidates == nil || len(res.RootCauseCandidates) != 0 {
		t.Fatalf("expected an explicit empty candidate list, got %v", res.RootCauseCandidates)
	}
	if res.ValidationStatus != models.ValidationRejected {
		t.Fatalf("expected rejection, got %s", res.ValidationStatus)
	}
	if len(res.Remediations) != 0 {
		t.Fatalf("expected no remediations without candidates")
	}
}

func TestPlannerSynthesisUnavailableStillReturnsEvidence(t *testing.T) {
	p := newTestPlanner(t, paymentSearcher(), &fakeSimilar{err: errDown}, &fakeGenerator{err: errors.New("timeout")}, nil)

	res, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if res.Evidence.Count() != 52 || len(res.CorrelationGroups) != 1 {
		t.Fatalf("expected gathered evidence to survive")
	}
	if len(res.RootCauseCandidates) != 0 || res.SimilarIncidents == nil {
		t.Fatalf("expected explicit empty stage outputs")
	}
	joined := strings.Join(res.Degradations, ";")
	if !strings.Contains(joined, "synthesis unavailable") || !strings.Contains(joined, "similar incidents unavailable") {
		t.Fatalf("unexpected degradations %v", res.Degradations)
	}
}

func TestPlannerEventOrdering(t *testing.T) {
	p := newTestPlanner(t, paymentSearcher(), &fakeSimilar{}, &fakeGenerator{text: poolAnswer}, nil)

	var events []models.Event
	if _, err := p.Investigate(context.Background(), paymentRequest(), func(ev models.Event) { events = append(events, ev) }); err != nil {
		t.Fatalf("investigate: %v", err)
	}

	position := make(map[models.Stage]int, len(stageOrder))
	for i, s := range stageOrder {
		position[s] = i
	}
	lastPos := -1
	entered := map[models.Stage]bool{}
	completed := map[models.Stage]bool{}
	progress := 0
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		pos := position[ev.Stage]
		if pos < lastPos {
			t.Fatalf("stage %s emitted after a later stage", ev.Stage)
		}
		lastPos = pos
		switch ev.Kind {
		case models.EventEntered:
			entered[ev.Stage] = true
		case models.EventProgress:
			if ev.Stage != models.StageGathering || !entered[ev.Stage] || completed[ev.Stage] {
				t.Fatalf("progress outside gathering: %+v", ev)
			}
			progress++
		case models.EventCompleted:
			if !entered[ev.Stage] {
				t.Fatalf("stage %s completed before it was entered", ev.Stage)
			}
			completed[ev.Stage] = true
		}
	}
	for _, s := range stageOrder {
		if !entered[s] || !completed[s] {
			t.Fatalf("stage %s missing an entry or completion event", s)
		}
	}
	if progress != 3 {
		t.Fatalf("expected 3 source progress events, got %d", progress)
	}
	if events[len(events)-1].Stage != models.StageComplete {
		t.Fatalf("expected Complete last")
	}
}

func TestPlannerScopeFailure(t *testing.T) {
	p := newTestPlanner(t, paymentSearcher(), &fakeSimilar{}, &fakeGenerator{text: poolAnswer}, nil)
	var stages []models.Stage
	_, err := p.Investigate(context.Background(), models.InvestigationRequest{Question: ""}, func(ev models.Event) {
		stages = append(stages, ev.Stage)
	})
	if !errors.Is(err, utils.ErrScopeResolution) {
		t.Fatalf("expected scope resolution error, got %v", err)
	}
	if len(stages) != 2 || stages[0] != models.StageScoping || stages[1] != models.StageFailed {
		t.Fatalf("unexpected stages %v", stages)
	}
}

func TestPlannerCancellation(t *testing.T) {
	searcher := &fakeSearcher{block: true}
	p := newTestPlanner(t, searcher, &fakeSimilar{}, &fakeGenerator{text: poolAnswer}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := p.Run(ctx, paymentRequest())

	var last models.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				done = true
				break
			}
			if ev.Stage == models.StageGathering && ev.Kind == models.EventEntered {
				cancel()
			}
			last = ev
		case <-timeout:
			t.Fatalf("run did not stop after cancellation")
		}
	}
	if last.Stage != models.StageFailed {
		t.Fatalf("expected Failed after cancellation, got %s", last.Stage)
	}
	payload, ok := last.Payload.(models.ResultPayload)
	if !ok || !strings.Contains(payload.Error, context.Canceled.Error()) {
		t.Fatalf("expected cancellation error, got %#v", last.Payload)
	}
}

func TestPlannerTracksAttempts(t *testing.T) {
	runs := repo.NewMemoryHistory()
	searcher := &fakeSearcher{
		results: map[string][]models.EvidenceItem{"logs": items(models.SourceLog, 40, "T1")},
		fail:    map[string]error{"traces": errDown},
	}
	p := newTestPlanner(t, searcher, &fakeSimilar{}, &fakeGenerator{text: poolAnswer}, runs)

	first, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	searcher.mu.Lock()
	searcher.results["traces"] = items(models.SourceTrace, 12, "T1")
	delete(searcher.fail, "traces")
	searcher.mu.Unlock()

	second, err := p.Investigate(context.Background(), paymentRequest(), nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Attempt != 1 || second.Attempt != 2 {
		t.Fatalf("unexpected attempts %d, %d", first.Attempt, second.Attempt)
	}
	if second.Delta == nil || second.Delta.PreviousRunID != first.RunID {
		t.Fatalf("expected delta against the first run, got %+v", second.Delta)
	}
	if strings.Join(second.Delta.SignalsRecovered, ",") != "traces" {
		t.Fatalf("expected traces recovered, got %v", second.Delta.SignalsRecovered)
	}

	recs, err := runs.Query(context.Background(), models.RunFilter{Fingerprint: first.Scope.Fingerprint})
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected two recorded runs, got %d (%v)", len(recs), err)
	}
}
