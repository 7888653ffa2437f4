package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-investigator/internal/api"
	"github.com/miradorstack/mirador-investigator/internal/cache"
	"github.com/miradorstack/mirador-investigator/internal/engine"
	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/patterns"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

const (
	defaultRunLimit     = 50
	patternHistoryLimit = 500
	defaultPatternsTTL  = 10 * time.Minute
)

// Investigator runs one investigation, reporting events in order.
type Investigator interface {
	Investigate(ctx context.Context, req models.InvestigationRequest, onEvent func(models.Event)) (*models.InvestigationResult, error)
}

// IncidentWriter persists a confirmed incident into the historical collection.
type IncidentWriter interface {
	IndexIncident(ctx context.Context, incident models.SimilarIncident, summary string, vector []float32, closedAt time.Time) error
}

// Embedder turns an incident summary into a vector for the incidents collection.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options wires the collaborators of the service. Only Planner is required;
// the remaining methods answer FailedPrecondition when theirs is missing.
type Options struct {
	Planner     Investigator
	Runs        engine.RunStore
	Incidents   IncidentWriter
	Catalog     engine.ScopeCatalog
	Embedder    Embedder
	Cache       cache.Provider
	PatternsTTL time.Duration
}

// InvestigatorService implements the gRPC Investigator service.
type InvestigatorService struct {
	logger    *slog.Logger
	opts      Options
	miner     *patterns.Miner
	latencies *utils.LatencyTracker
	observed  atomic.Int64
	now       func() time.Time
}

var _ api.InvestigatorServer = (*InvestigatorService)(nil)

// NewInvestigatorService constructs the service facade.
func NewInvestigatorService(logger *slog.Logger, opts Options) *InvestigatorService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopProvider{}
	}
	if opts.PatternsTTL <= 0 {
		opts.PatternsTTL = defaultPatternsTTL
	}
	s := &InvestigatorService{
		logger:    logger,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.miner = patterns.NewMiner(logger, patterns.StoreFunc(s.cachePatterns))
	return s
}

// Investigate streams every planner event to the caller. The terminal event
// carries the result; a Failed run additionally ends the stream with an error
// status.
func (s *InvestigatorService) Investigate(req *structpb.Struct, stream api.InvestigateStream) error {
	if s.opts.Planner == nil {
		return status.Error(codes.FailedPrecondition, "planner not configured")
	}
	domainReq, err := api.FromStructInvestigationRequest(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	var (
		sendOnce sync.Once
		sendErr  error
	)
	onEvent := func(ev models.Event) {
		if ctx.Err() != nil {
			return
		}
		msg, err := api.ToStructEvent(ev)
		if err == nil {
			err = stream.Send(msg)
		}
		if err != nil {
			sendOnce.Do(func() {
				sendErr = err
				cancel()
			})
		}
	}

	start := time.Now()
	result, err := s.opts.Planner.Investigate(ctx, domainReq, onEvent)
	duration := time.Since(start)
	s.observeLatency(duration)

	if sendErr != nil {
		s.logger.Warn("investigation stream broken", slog.Any("error", sendErr))
		return status.Error(codes.Unavailable, "event stream closed")
	}
	if err != nil {
		runID := ""
		if result != nil {
			runID = result.RunID
		}
		s.logger.Error("investigation failed", slog.String("run_id", runID), slog.Any("error", err))
		return toStatus(err)
	}
	s.logger.Info("investigation finished",
		slog.String("run_id", result.RunID),
		slog.String("validation_status", string(result.ValidationStatus)),
		slog.Duration("duration", duration),
	)
	return nil
}

// ListRuns returns recorded runs, newest first.
func (s *InvestigatorService) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run history not configured")
	}
	filter, err := api.FromStructRunFilter(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if filter.Limit == 0 {
		filter.Limit = defaultRunLimit
	}
	runs, err := s.opts.Runs.Query(ctx, filter)
	if err != nil {
		s.logger.Error("list runs failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list runs")
	}
	return encode(api.ToStructRuns(runs))
}

// GetPatterns mines recurring root causes for a service from run history.
// Mined patterns are cached per service.
func (s *InvestigatorService) GetPatterns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run history not configured")
	}
	service := strings.TrimSpace(api.ServiceFromStruct(req))
	key := patternsKey(service)

	var cached []models.FailurePattern
	if err := cache.GetJSON(ctx, s.opts.Cache, key, &cached); err == nil {
		return encode(api.ToStructPatterns(service, cached))
	}

	runs, err := s.opts.Runs.Query(ctx, models.RunFilter{Service: service, Limit: patternHistoryLimit})
	if err != nil {
		s.logger.Error("fetch run history failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to fetch run history")
	}
	found, err := s.miner.Mine(ctx, service, runs)
	if err != nil {
		s.logger.Error("mine patterns failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to mine patterns")
	}
	return encode(api.ToStructPatterns(service, found))
}

func (s *InvestigatorService) cachePatterns(ctx context.Context, service string, found []models.FailurePattern) error {
	return cache.SetJSON(ctx, s.opts.Cache, patternsKey(service), found, s.opts.PatternsTTL)
}

// CloseInvestigation writes the confirmed root cause of a recorded run into
// the incidents collection so later runs can retrieve it as a similar incident.
func (s *InvestigatorService) CloseInvestigation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Runs == nil || s.opts.Incidents == nil {
		return nil, status.Error(codes.FailedPrecondition, "incident write-back not configured")
	}
	closeReq, err := api.FromStructCloseRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	runs, err := s.opts.Runs.Query(ctx, models.RunFilter{RunID: closeReq.RunID, Limit: 1})
	if err != nil {
		s.logger.Error("lookup run failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to look up run")
	}
	if len(runs) == 0 {
		return nil, status.Errorf(codes.NotFound, "run %s not found", closeReq.RunID)
	}
	run := runs[0]

	incident := models.SimilarIncident{
		IncidentID:     uuid.NewString(),
		Title:          closeReq.Title,
		Service:        run.Service,
		PriorRootCause: closeReq.RootCause,
		PriorFixSteps:  closeReq.FixSteps,
		PostmortemURL:  closeReq.PostmortemURL,
		Tags:           closeReq.Tags,
	}
	if incident.Title == "" {
		incident.Title = run.Question
	}
	summary := symptomSummary(run, closeReq.RootCause)

	var vector []float32
	if s.opts.Embedder != nil {
		vector, err = s.opts.Embedder.Embed(ctx, summary)
		if err != nil {
			s.logger.Error("embed incident summary failed", slog.String("run_id", run.RunID), slog.Any("error", err))
			return nil, status.Error(codes.Unavailable, "embedding unavailable")
		}
	}
	if err := s.opts.Incidents.IndexIncident(ctx, incident, summary, vector, s.now()); err != nil {
		s.logger.Error("index incident failed", slog.String("run_id", run.RunID), slog.Any("error", err))
		return nil, status.Error(codes.Unavailable, "failed to write incident")
	}
	s.logger.Info("investigation closed", slog.String("run_id", run.RunID), slog.String("incident_id", incident.IncidentID))
	return encode(api.ToStructCloseAck(run.RunID, incident.IncidentID))
}

// ListScope returns the services and environments seen in telemetry.
func (s *InvestigatorService) ListScope(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.opts.Catalog == nil {
		return nil, status.Error(codes.FailedPrecondition, "scope catalog not configured")
	}
	catalog, err := s.opts.Catalog.Catalog(ctx, strings.TrimSpace(api.ServiceFromStruct(req)))
	if err != nil {
		s.logger.Error("scope catalog failed", slog.Any("error", err))
		return nil, status.Error(codes.Unavailable, "scope catalog unavailable")
	}
	return encode(api.ToStructScope(catalog))
}

// LatencyP95 returns the current p95 investigation latency.
func (s *InvestigatorService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *InvestigatorService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if n := s.observed.Add(1); n%20 == 0 {
		summary := s.latencies.Summary()
		s.logger.Info("investigation latency",
			slog.Duration("p50", summary.P50),
			slog.Duration("p95", summary.P95),
			slog.Duration("p99", summary.P99),
			slog.Int("samples", summary.Count),
		)
	}
}

func symptomSummary(run models.RunRecord, rootCause string) string {
	var b strings.Builder
	b.WriteString(run.Question)
	if run.Service != "" {
		fmt.Fprintf(&b, " (service %s", run.Service)
		if run.Environment != "" {
			fmt.Fprintf(&b, ", env %s", run.Environment)
		}
		b.WriteString(")")
	}
	if len(run.MissingSignals) > 0 {
		fmt.Fprintf(&b, ". Missing signals: %s", strings.Join(run.MissingSignals, ", "))
	}
	fmt.Fprintf(&b, ". Root cause: %s", rootCause)
	return b.String()
}

func patternsKey(service string) string {
	if service == "" {
		service = "*"
	}
	return "patterns:" + strings.ToLower(service)
}

func encode(msg *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// toStatus maps pipeline error kinds onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, utils.ErrScopeResolution):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, utils.ErrEvidenceExhausted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, utils.ErrRetrievalUnavailable), errors.Is(err, utils.ErrSynthesisUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
