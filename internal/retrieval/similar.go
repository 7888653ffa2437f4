package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/cache"
	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// DefaultSimilarTopN is the number of past incidents returned by default.
const DefaultSimilarTopN = 5

// SimilarOptions configures the similar-incident retriever.
type SimilarOptions struct {
	Collection string
	TopN       int
	Timeout    time.Duration
	CacheTTL   time.Duration
}

// SimilarRetriever finds closed incidents close to the question in embedding space.
type SimilarRetriever struct {
	backend  SearchBackend
	embedder Embedder
	cache    cache.Provider
	opts     SimilarOptions
	logger   *slog.Logger
}

// NewSimilarRetriever wires the retriever. provider may be nil to disable caching.
func NewSimilarRetriever(logger *slog.Logger, backend SearchBackend, embedder Embedder, provider cache.Provider, opts SimilarOptions) *SimilarRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultSimilarTopN
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &SimilarRetriever{backend: backend, embedder: embedder, cache: provider, opts: opts, logger: logger}
}

// FindSimilar returns up to topN incidents ordered by descending similarity,
// each score clamped to [0,1]. Errors wrap ErrRetrievalUnavailable; callers
// treat them as non-fatal.
func (r *SimilarRetriever) FindSimilar(ctx context.Context, question string, scope models.Scope, topN int) ([]models.SimilarIncident, error) {
	if topN <= 0 {
		topN = r.opts.TopN
	}
	key := "similar:" + utils.ContentHash(question, scope.Service, strconv.Itoa(topN))
	var cached []models.SimilarIncident
	if err := cache.GetJSON(ctx, r.cache, key, &cached); err == nil {
		return cached, nil
	}

	if r.embedder == nil {
		return nil, utils.KindError("find similar incidents", utils.ErrRetrievalUnavailable, fmt.Errorf("no embedder configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, utils.KindError("find similar incidents", utils.ErrRetrievalUnavailable, fmt.Errorf("embed question: %w", err))
	}
	docs, err := r.backend.Query(ctx, r.opts.Collection, repo.Query{
		Vector: vec,
		TopK:   topN,
		Filters: repo.Filters{
			Service:      scope.Service,
			ServiceField: "service",
		},
	})
	if err != nil {
		return nil, utils.KindError("find similar incidents", utils.ErrRetrievalUnavailable, err)
	}

	incidents := make([]models.SimilarIncident, 0, len(docs))
	for _, doc := range docs {
		inc := repo.IncidentFromDocument(doc)
		inc.SimilarityScore = clamp01(doc.Score)
		incidents = append(incidents, inc)
	}
	sort.SliceStable(incidents, func(i, j int) bool {
		if incidents[i].SimilarityScore != incidents[j].SimilarityScore {
			return incidents[i].SimilarityScore > incidents[j].SimilarityScore
		}
		return incidents[i].IncidentID < incidents[j].IncidentID
	})
	if len(incidents) > topN {
		incidents = incidents[:topN]
	}

	if err := cache.SetJSON(ctx, r.cache, key, incidents, r.opts.CacheTTL); err != nil {
		r.logger.Debug("similar incident cache write failed", slog.Any("error", err))
	}
	return incidents, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
