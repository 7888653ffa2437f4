package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/retrieval"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testCollections = Collections{Logs: "logs", Traces: "traces", Metrics: "metrics"}

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]models.EvidenceItem
	fail    map[string]error
	block   bool
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, req retrieval.SearchRequest) ([]models.EvidenceItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.fail[req.Collection]; err != nil {
		return nil, err
	}
	return f.results[req.Collection], nil
}

type fakeSimilar struct {
	incidents []models.SimilarIncident
	err       error
	calls     int
	mu        sync.Mutex
}

func (f *fakeSimilar) FindSimilar(ctx context.Context, question string, scope models.Scope, topN int) ([]models.SimilarIncident, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.incidents, f.err
}

type fakeGenerator struct {
	text  string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(ctx context.Context, p models.Prompt) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeCatalog struct {
	catalog models.ScopeCatalog
	err     error
}

func (f fakeCatalog) Catalog(context.Context, string) (models.ScopeCatalog, error) {
	return f.catalog, f.err
}

var errDown = errors.New("backend down")

func items(kind models.SourceKind, n int, traceID string) []models.EvidenceItem {
	out := make([]models.EvidenceItem, n)
	for i := range out {
		out[i] = models.EvidenceItem{
			ID:             fmt.Sprintf("%s:%d", kind.Signal(), i),
			Source:         kind,
			Timestamp:      t0.Add(time.Duration(i) * time.Second),
			Message:        fmt.Sprintf("%s item %d", kind, i),
			Keys:           models.CorrelationKeys{TraceID: traceID, Service: "payment-api"},
			RelevanceScore: 1.0 / float64(61+i),
			RankOrigin:     models.RankFused,
		}
	}
	return out
}
