package engine

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-investigator/internal/metrics"
	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/retrieval"
)

var tracer = otel.Tracer("github.com/miradorstack/mirador-investigator/internal/engine")

// Searcher is the hybrid query engine as seen by the gatherer.
type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]models.EvidenceItem, error)
}

// Linker decorates evidence with deep links.
type Linker interface {
	Links(item models.EvidenceItem) []models.Link
}

// Collections names the telemetry collection of each source kind.
type Collections struct {
	Logs    string
	Traces  string
	Metrics string
}

func (c Collections) get(kind models.SourceKind) string {
	switch kind {
	case models.SourceLog:
		return c.Logs
	case models.SourceTrace:
		return c.Traces
	default:
		return c.Metrics
	}
}

// GatherResult is the evidence of one run plus the signals that came back empty.
type GatherResult struct {
	Evidence       models.EvidenceBySource
	MissingSignals []string
	// Errors holds the failure of each source that errored, keyed by signal.
	Errors map[string]string
}

// Gatherer queries every source kind concurrently.
type Gatherer struct {
	searcher    Searcher
	collections Collections
	topK        int
	linker      Linker
	logger      *slog.Logger
}

// NewGatherer constructs a Gatherer. linker may be nil.
func NewGatherer(logger *slog.Logger, searcher Searcher, collections Collections, topK int, linker Linker) *Gatherer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{searcher: searcher, collections: collections, topK: topK, linker: linker, logger: logger}
}

// Gather runs one hybrid search per source kind. A failed source yields an
// empty list and a missing signal instead of an error. progress is called
// once per source as it completes, never concurrently.
func (g *Gatherer) Gather(ctx context.Context, question string, scope models.Scope, progress func(models.SourcePayload)) GatherResult {
	var (
		mu      sync.Mutex
		results = make(map[models.SourceKind][]models.EvidenceItem, len(models.SourceKinds))
		errs    = make(map[models.SourceKind]error)
		eg      errgroup.Group
	)

	for _, kind := range models.SourceKinds {
		eg.Go(func() error {
			items, err := g.searchSource(ctx, kind, question, scope)

			mu.Lock()
			defer mu.Unlock()
			payload := models.SourcePayload{Source: kind, Count: len(items), Missing: err != nil || len(items) == 0}
			if err != nil {
				errs[kind] = err
				payload.Error = err.Error()
				metrics.IncSourceFailure(kind.Signal())
				g.logger.Warn("evidence source failed", slog.String("source", kind.Signal()), slog.Any("error", err))
			} else {
				results[kind] = items
			}
			if progress != nil {
				progress(payload)
			}
			return nil
		})
	}
	_ = eg.Wait()

	out := GatherResult{MissingSignals: make([]string, 0, len(models.SourceKinds))}
	for _, kind := range models.SourceKinds {
		items := results[kind]
		out.Evidence.Set(kind, items)
		if err, failed := errs[kind]; failed {
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[kind.Signal()] = err.Error()
		}
		if len(items) == 0 {
			out.MissingSignals = append(out.MissingSignals, kind.Signal())
		}
	}
	return out
}

func (g *Gatherer) searchSource(ctx context.Context, kind models.SourceKind, question string, scope models.Scope) ([]models.EvidenceItem, error) {
	ctx, span := tracer.Start(ctx, "gather."+kind.Signal())
	defer span.End()

	items, err := g.searcher.Search(ctx, retrieval.SearchRequest{
		Collection: g.collections.get(kind),
		Source:     kind,
		Query:      question,
		Scope:      scope,
		TopK:       g.topK,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source unavailable")
		return nil, err
	}
	if g.linker != nil {
		linked := make([]models.EvidenceItem, len(items))
		for i, item := range items {
			item.Links = g.linker.Links(item)
			linked[i] = item
		}
		items = linked
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}
