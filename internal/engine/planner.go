package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-investigator/internal/extractors"
	"github.com/miradorstack/mirador-investigator/internal/metrics"
	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// stageOrder is the only legal path through the planner.
var stageOrder = []models.Stage{
	models.StageScoping,
	models.StageGathering,
	models.StageCorrelating,
	models.StageRetrievingSimilar,
	models.StageSynthesizing,
	models.StageScoring,
	models.StageRemediating,
	models.StageValidating,
	models.StageComplete,
}

// ErrIllegalTransition reports a stage entered out of order.
var ErrIllegalTransition = errors.New("illegal stage transition")

// SimilarFinder retrieves past incidents for a question.
type SimilarFinder interface {
	FindSimilar(ctx context.Context, question string, scope models.Scope, topN int) ([]models.SimilarIncident, error)
}

// Dependencies are the collaborators of a Planner. Gatherer is required;
// nil stage components fall back to defaults and a nil Similar finder yields
// an explicit empty result.
type Dependencies struct {
	Scope       *ScopeResolver
	Gatherer    *Gatherer
	Correlator  *Correlator
	Highlights  extractors.Set
	Similar     SimilarFinder
	SimilarTopN int
	Synthesizer *Synthesizer
	Scorer      *ConfidenceScorer
	Remediator  *RemediationMapper
	Validator   *Validator
	Runs        RunStore
}

// Planner drives one investigation through the stage machine.
type Planner struct {
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewPlanner constructs a Planner.
func NewPlanner(logger *slog.Logger, deps Dependencies) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		return nil, fmt.Errorf("planner requires an evidence gatherer")
	}
	if deps.Scope == nil {
		deps.Scope = NewScopeResolver(logger, nil, DefaultLookback, false)
	}
	if deps.Correlator == nil {
		deps.Correlator = NewCorrelator(DefaultCorrelationWindow)
	}
	if deps.Highlights.Logs == nil || deps.Highlights.Traces == nil || deps.Highlights.Metrics == nil {
		deps.Highlights = extractors.NewSet()
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = NewSynthesizer(logger, nil, 0, 0)
	}
	if deps.Scorer == nil {
		deps.Scorer = NewConfidenceScorer(DefaultWeights, DefaultTiers, DefaultTargetEvidenceCount)
	}
	if deps.Remediator == nil {
		mapper, err := NewRemediationMapper("", logger)
		if err != nil {
			return nil, err
		}
		deps.Remediator = mapper
	}
	if deps.Validator == nil {
		deps.Validator = NewValidator(DefaultMinEvidence, nil)
	}
	return &Planner{
		deps:   deps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}, nil
}

// Run starts an investigation and streams its events. It is the entry point
// for in-process callers; servers that need the returned error use
// Investigate. The channel is closed after the terminal event. Cancelling ctx
// stops the run; the terminal Failed event is still delivered when the
// consumer keeps reading.
func (p *Planner) Run(ctx context.Context, req models.InvestigationRequest) <-chan models.Event {
	events := make(chan models.Event, 32)
	go func() {
		defer close(events)
		_, _ = p.Investigate(ctx, req, func(ev models.Event) {
			if ev.Stage.Terminal() {
				select {
				case events <- ev:
				case <-time.After(time.Second):
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return events
}

// Investigate runs the stage machine to a terminal state, calling onEvent
// synchronously for every event in order. The result is returned for Failed
// runs too so callers can see what was gathered; the error wraps
// ErrScopeResolution, ErrEvidenceExhausted or the context error.
func (p *Planner) Investigate(ctx context.Context, req models.InvestigationRequest, onEvent func(models.Event)) (*models.InvestigationResult, error) {
	run := &runState{
		planner: p,
		req:     req,
		onEvent: onEvent,
		result: &models.InvestigationResult{
			RunID:               p.newID(),
			Question:            req.Question,
			MissingSignals:      []string{},
			CorrelationGroups:   []models.CorrelationGroup{},
			SimilarIncidents:    []models.SimilarIncident{},
			Highlights:          []models.Highlight{},
			RootCauseCandidates: []models.RootCauseCandidate{},
			Remediations:        []models.RemediationAction{},
			Confidence:          models.ConfidenceResult{Tier: models.TierLow},
			StartedAt:           p.now(),
		},
	}
	for _, kind := range models.SourceKinds {
		run.result.Evidence.Set(kind, nil)
	}
	run.logger = p.logger.With(slog.String("run_id", run.result.RunID))

	ctx, span := tracer.Start(ctx, "investigation", trace.WithAttributes(attribute.String("run_id", run.result.RunID)))
	defer span.End()

	err := run.execute(ctx)
	run.result.CompletedAt = p.now()
	status := models.RunComplete
	outcome := string(run.result.ValidationStatus)
	if err != nil {
		status = models.RunFailed
		outcome = metrics.OutcomeFailed
		run.result.ValidationStatus = models.ValidationRejected
		run.result.ValidationReasons = append(run.result.ValidationReasons, "investigation failed in "+string(run.stage)+": "+err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "investigation failed")
		run.logger.Error("investigation failed", slog.Any("error", err))
	}
	metrics.ObserveInvestigation(run.result.CompletedAt.Sub(run.result.StartedAt), outcome)
	p.record(ctx, run, status, err)

	if err != nil {
		run.finish(models.StageFailed, err)
		return run.result, err
	}
	run.finish(models.StageComplete, nil)
	return run.result, nil
}

func (p *Planner) record(ctx context.Context, run *runState, status models.RunStatus, runErr error) {
	if p.deps.Runs == nil {
		return
	}
	if run.hasPrev {
		run.result.Delta = deltaFrom(run.prev, run.result)
	}
	rec := recordFor(run.result, run.req.Question, status, runErr)
	if err := p.deps.Runs.Append(context.WithoutCancel(ctx), rec); err != nil {
		run.logger.Warn("run history append failed", slog.Any("error", err))
	}
}

// runState is the mutable state of one run, owned by a single goroutine.
type runState struct {
	planner *Planner
	req     models.InvestigationRequest
	result  *models.InvestigationResult
	logger  *slog.Logger
	onEvent func(models.Event)

	stage   models.Stage
	seq     int
	prev    models.RunRecord
	hasPrev bool

	similarCh      chan similarOutcome
	selfAssessment float64
}

type similarOutcome struct {
	incidents []models.SimilarIncident
	err       error
}

// advance enters the next stage, refusing anything but the successor of the
// current stage.
func (r *runState) advance(to models.Stage) error {
	expected := stageOrder[0]
	if r.stage != "" {
		expected = ""
		for i, s := range stageOrder[:len(stageOrder)-1] {
			if s == r.stage {
				expected = stageOrder[i+1]
				break
			}
		}
	}
	if to != expected {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.stage, to)
	}
	r.stage = to
	r.emit(models.EventEntered, nil)
	return nil
}

func (r *runState) emit(kind models.EventKind, payload models.EventPayload) {
	r.seq++
	if r.onEvent == nil {
		return
	}
	r.onEvent(models.Event{
		RunID:   r.result.RunID,
		Seq:     r.seq,
		Stage:   r.stage,
		Kind:    kind,
		Time:    r.planner.now(),
		Payload: payload,
	})
}

func (r *runState) finish(stage models.Stage, err error) {
	r.stage = stage
	payload := models.ResultPayload{Result: r.result}
	if err != nil {
		payload.Error = err.Error()
	}
	r.emit(models.EventCompleted, payload)
}

type stageStep struct {
	stage models.Stage
	run   func(ctx context.Context) (models.EventPayload, error)
}

func (r *runState) execute(ctx context.Context) error {
	steps := []stageStep{
		{models.StageScoping, r.scoping},
		{models.StageGathering, r.gathering},
		{models.StageCorrelating, r.correlating},
		{models.StageRetrievingSimilar, r.retrievingSimilar},
		{models.StageSynthesizing, r.synthesizing},
		{models.StageScoring, r.scoring},
		{models.StageRemediating, r.remediating},
		{models.StageValidating, r.validating},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("investigation cancelled before %s: %w", step.stage, err)
		}
		if err := r.advance(step.stage); err != nil {
			return err
		}
		stageCtx, span := tracer.Start(ctx, "stage."+string(step.stage))
		started := time.Now()
		payload, err := step.run(stageCtx)
		metrics.ObserveStage(string(step.stage), time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(step.stage)+" failed")
			span.End()
			return err
		}
		span.End()
		r.emit(models.EventCompleted, payload)
	}
	return r.advance(models.StageComplete)
}

func (r *runState) scoping(ctx context.Context) (models.EventPayload, error) {
	scope, err := r.planner.deps.Scope.Resolve(ctx, r.req)
	if err != nil {
		return nil, err
	}
	r.result.Scope = scope

	prior, err := priorRuns(ctx, r.planner.deps.Runs, scope.Fingerprint)
	if err != nil {
		r.logger.Warn("run history lookup failed", slog.Any("error", err))
	}
	r.result.Attempt = len(prior) + 1
	r.prev, r.hasPrev = lastComplete(prior)
	return models.ScopePayload{Scope: scope}, nil
}

func (r *runState) gathering(ctx context.Context) (models.EventPayload, error) {
	// Similar incidents depend only on the question, so they are fetched
	// alongside the evidence and collected in RetrievingSimilar.
	r.similarCh = make(chan similarOutcome, 1)
	if finder := r.planner.deps.Similar; finder != nil {
		go func() {
			incidents, err := finder.FindSimilar(ctx, r.req.Question, r.result.Scope, r.planner.deps.SimilarTopN)
			r.similarCh <- similarOutcome{incidents: incidents, err: err}
		}()
	} else {
		r.similarCh <- similarOutcome{err: errors.New("similar incident retrieval not configured")}
	}

	gathered := r.planner.deps.Gatherer.Gather(ctx, r.req.Question, r.result.Scope, func(sp models.SourcePayload) {
		r.emit(models.EventProgress, sp)
	})
	r.result.Evidence = gathered.Evidence
	r.result.MissingSignals = gathered.MissingSignals
	r.result.SignalErrors = gathered.Errors

	counts := make(map[string]int, len(models.SourceKinds))
	for _, kind := range models.SourceKinds {
		counts[kind.Signal()] = len(gathered.Evidence.Get(kind))
	}
	return models.GatherPayload{Counts: counts, MissingSignals: gathered.MissingSignals}, nil
}

func (r *runState) correlating(context.Context) (models.EventPayload, error) {
	groups := r.planner.deps.Correlator.Correlate(r.result.Evidence)
	r.result.CorrelationGroups = groups
	r.result.Highlights = r.planner.deps.Highlights.Highlights(r.result.Evidence, maxPromptHighlights)
	return models.CorrelationPayload{Groups: len(groups), Correlated: CorrelatedGroups(groups)}, nil
}

func (r *runState) retrievingSimilar(ctx context.Context) (models.EventPayload, error) {
	var outcome similarOutcome
	select {
	case outcome = <-r.similarCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for similar incidents: %w", ctx.Err())
	}

	payload := models.SimilarPayload{}
	r.result.SimilarIncidents = []models.SimilarIncident{}
	if outcome.err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("similar incidents: %w", ctx.Err())
		}
		payload.Error = outcome.err.Error()
		r.result.Degradations = append(r.result.Degradations, "similar incidents unavailable: "+outcome.err.Error())
		r.logger.Warn("similar incident retrieval failed", slog.String("stage", string(r.stage)), slog.Any("error", outcome.err))
	} else if outcome.incidents != nil {
		r.result.SimilarIncidents = outcome.incidents
	}
	payload.Count = len(r.result.SimilarIncidents)
	if payload.Count > 0 {
		payload.TopScore = r.result.SimilarIncidents[0].SimilarityScore
	}

	if r.result.Evidence.Count() == 0 && len(r.result.SimilarIncidents) == 0 {
		return nil, utils.KindError("investigate", utils.ErrEvidenceExhausted,
			fmt.Errorf("no evidence from %v and no similar incidents", r.result.MissingSignals))
	}
	return payload, nil
}

func (r *runState) synthesizing(ctx context.Context) (models.EventPayload, error) {
	r.result.RootCauseCandidates = []models.RootCauseCandidate{}
	synthesis, err := r.planner.deps.Synthesizer.Synthesize(ctx, SynthesisInput{
		Question:   r.req.Question,
		Groups:     r.result.CorrelationGroups,
		Similar:    r.result.SimilarIncidents,
		Highlights: r.result.Highlights,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis: %w", ctx.Err())
		}
		r.result.Degradations = append(r.result.Degradations, "synthesis unavailable: "+err.Error())
		r.logger.Warn("synthesis failed, continuing without candidates", slog.String("stage", string(r.stage)), slog.Any("error", err))
		return models.SynthesisPayload{Error: err.Error()}, nil
	}
	r.result.RootCauseCandidates = synthesis.Candidates
	r.selfAssessment = synthesis.SelfAssessment
	return models.SynthesisPayload{Candidates: len(synthesis.Candidates), Dropped: synthesis.Dropped}, nil
}

func (r *runState) scoring(context.Context) (models.EventPayload, error) {
	confidence := r.planner.deps.Scorer.Score(r.result.RootCauseCandidates, r.result.CorrelationGroups, r.result.SimilarIncidents, r.selfAssessment)
	confidence.NextSteps = NextSteps(confidence, r.result.MissingSignals, len(r.result.RootCauseCandidates))
	r.result.Confidence = confidence
	markStates(r.result.RootCauseCandidates, r.result.Evidence, confidence.Tier)
	return models.ScorePayload{Confidence: confidence}, nil
}

func (r *runState) remediating(context.Context) (models.EventPayload, error) {
	r.result.Remediations = r.planner.deps.Remediator.Map(r.result.RootCauseCandidates)
	return models.RemediationPayload{Actions: len(r.result.Remediations)}, nil
}

func (r *runState) validating(context.Context) (models.EventPayload, error) {
	report := r.planner.deps.Validator.Validate(r.result)
	r.result.ValidationStatus = report.Status
	r.result.ValidationReasons = report.Reasons
	return models.ValidationPayload{Report: report}, nil
}

// markStates grades candidates by how many source kinds their citations span.
func markStates(candidates []models.RootCauseCandidate, evidence models.EvidenceBySource, tier models.ConfidenceTier) {
	kindOf := make(map[string]models.SourceKind, evidence.Count())
	for _, item := range evidence.All() {
		kindOf[item.ID] = item.Source
	}
	for i := range candidates {
		kinds := make(map[models.SourceKind]struct{})
		for _, id := range candidates[i].SupportingEvidenceIDs {
			if kind, ok := kindOf[id]; ok {
				kinds[kind] = struct{}{}
			}
		}
		switch {
		case len(kinds) >= 2 && tier == models.TierHigh:
			candidates[i].State = models.StateProbable
		case len(kinds) >= 2:
			candidates[i].State = models.StateCorrelated
		default:
			candidates[i].State = models.StateObserved
		}
	}
}
