package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

var tracer = otel.Tracer("github.com/miradorstack/mirador-investigator/internal/retrieval")

// SearchBackend executes a single ranked query against a collection.
type SearchBackend interface {
	Query(ctx context.Context, collection string, q repo.Query) ([]repo.Document, error)
}

// HybridOptions tunes the hybrid engine.
type HybridOptions struct {
	RRFK       int
	TopK       int
	RerankTopN int
	Timeout    time.Duration
	// OverFetch multiplies the per-leg limit; 1 means each leg returns TopK.
	OverFetch int
}

// SearchRequest is one hybrid search over a telemetry collection.
type SearchRequest struct {
	Collection string
	Source     models.SourceKind
	Query      string
	Scope      models.Scope
	TopK       int
}

// HybridEngine runs lexical and vector retrieval concurrently and fuses the
// two rankings with reciprocal rank fusion.
type HybridEngine struct {
	backend  SearchBackend
	embedder Embedder
	reranker Reranker
	opts     HybridOptions
	logger   *slog.Logger
}

// NewHybridEngine wires the engine. embedder and reranker may be nil; without
// an embedder every search runs lexical-only and is flagged degraded.
func NewHybridEngine(logger *slog.Logger, backend SearchBackend, embedder Embedder, reranker Reranker, opts HybridOptions) *HybridEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RRFK <= 0 {
		opts.RRFK = DefaultRRFK
	}
	if opts.TopK <= 0 {
		opts.TopK = 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = 1
	}
	return &HybridEngine{backend: backend, embedder: embedder, reranker: reranker, opts: opts, logger: logger}
}

// Search returns at most TopK evidence items restricted to the request scope.
// When exactly one leg fails the other leg's ranking is returned with every
// item marked degraded. When both fail the error wraps ErrRetrievalUnavailable.
func (e *HybridEngine) Search(ctx context.Context, req SearchRequest) ([]models.EvidenceItem, error) {
	ctx, span := tracer.Start(ctx, "retrieval.hybrid_search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", req.Collection),
		attribute.String("source", string(req.Source)),
	)

	topK := req.TopK
	if topK <= 0 {
		topK = e.opts.TopK
	}
	filters := repo.Filters{
		Start:       req.Scope.TimeRange.Start,
		End:         req.Scope.TimeRange.End,
		Service:     req.Scope.Service,
		Environment: req.Scope.Environment,
		Terms:       req.Scope.Filters,
	}
	legK := topK * e.opts.OverFetch

	var (
		lexical, vector       []repo.Document
		lexicalErr, vectorErr error
		g                     errgroup.Group
	)
	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		lexical, lexicalErr = e.backend.Query(legCtx, req.Collection, repo.Query{
			Lexical: req.Query,
			Filters: filters,
			TopK:    legK,
		})
		return nil
	})
	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
		vector, vectorErr = e.vectorLeg(legCtx, req.Collection, req.Query, filters, legK)
		return nil
	})
	_ = g.Wait()

	if lexicalErr != nil && vectorErr != nil {
		err := utils.KindError("hybrid search "+req.Collection, utils.ErrRetrievalUnavailable, errors.Join(
			fmt.Errorf("lexical: %w", lexicalErr),
			fmt.Errorf("vector: %w", vectorErr),
		))
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval unavailable")
		return nil, err
	}
	degraded := lexicalErr != nil || vectorErr != nil
	if lexicalErr != nil {
		e.logger.Warn("lexical leg failed, serving vector ranking", slog.String("collection", req.Collection), slog.Any("error", lexicalErr))
	}
	if vectorErr != nil {
		e.logger.Warn("vector leg failed, serving lexical ranking", slog.String("collection", req.Collection), slog.Any("error", vectorErr))
	}

	fused := Fuse(e.opts.RRFK, lexical, vector)
	items := make([]models.EvidenceItem, 0, len(fused))
	for _, f := range fused {
		items = append(items, toEvidence(req.Source, req.Scope, f, degraded))
	}
	items = e.rerank(ctx, req.Query, items)
	if len(items) > topK {
		items = items[:topK]
	}
	span.SetAttributes(attribute.Int("results", len(items)), attribute.Bool("degraded", degraded))
	return items, nil
}

func (e *HybridEngine) vectorLeg(ctx context.Context, collection, text string, filters repo.Filters, k int) ([]repo.Document, error) {
	if e.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.backend.Query(ctx, collection, repo.Query{Vector: vec, Filters: filters, TopK: k})
}

// rerank reorders the head of the fused list. A failing reranker keeps the
// fused order.
func (e *HybridEngine) rerank(ctx context.Context, query string, items []models.EvidenceItem) []models.EvidenceItem {
	if e.reranker == nil || e.opts.RerankTopN <= 0 || len(items) < 2 {
		return items
	}
	n := e.opts.RerankTopN
	if n > len(items) {
		n = len(items)
	}
	head := make([]models.EvidenceItem, n)
	copy(head, items[:n])
	reranked, err := e.reranker.Rerank(ctx, query, head)
	if err != nil || len(reranked) != n {
		e.logger.Warn("rerank failed, keeping fused order", slog.Any("error", err))
		return items
	}
	return append(reranked, items[n:]...)
}

func toEvidence(kind models.SourceKind, scope models.Scope, f FusedDocument, degraded bool) models.EvidenceItem {
	service := f.Doc.Service
	if service == "" {
		service = scope.Service
	}
	return models.EvidenceItem{
		ID:        kind.Signal() + ":" + f.Doc.ID,
		Source:    kind,
		Timestamp: f.Doc.Timestamp,
		Message:   f.Doc.Message,
		Payload:   f.Doc.Source,
		Keys: models.CorrelationKeys{
			TraceID:      f.Doc.TraceID,
			DeploymentID: f.Doc.DeploymentID,
			Service:      service,
		},
		RelevanceScore: f.Score,
		RankOrigin:     f.Origin(),
		LexicalRank:    f.LexicalRank,
		VectorRank:     f.VectorRank,
		Degraded:       degraded,
	}
}
