package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// Reranker re-scores the head of a fused list. Implementations must return a
// permutation of items.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []models.EvidenceItem) ([]models.EvidenceItem, error)
}

// OverlapReranker blends the fused score with query term coverage of each
// item's message.
type OverlapReranker struct {
	// Blend is the weight of term coverage in [0,1].
	Blend float64
}

// Rerank orders items by the blended score; ties keep the fused order.
func (r OverlapReranker) Rerank(_ context.Context, query string, items []models.EvidenceItem) ([]models.EvidenceItem, error) {
	terms := utils.Keywords(query)
	if len(terms) == 0 || len(items) < 2 {
		return items, nil
	}
	blend := r.Blend
	if blend <= 0 || blend > 1 {
		blend = 0.3
	}

	maxScore := 0.0
	for _, item := range items {
		if item.RelevanceScore > maxScore {
			maxScore = item.RelevanceScore
		}
	}

	type scored struct {
		item  models.EvidenceItem
		score float64
	}
	ranked := make([]scored, len(items))
	for i, item := range items {
		norm := 0.0
		if maxScore > 0 {
			norm = item.RelevanceScore / maxScore
		}
		ranked[i] = scored{item: item, score: (1-blend)*norm + blend*coverage(terms, item.Message)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]models.EvidenceItem, len(ranked))
	for i, s := range ranked {
		out[i] = s.item
	}
	return out, nil
}

func coverage(terms []string, text string) float64 {
	if text == "" {
		return 0
	}
	normalized := " " + utils.NormalizeText(text) + " "
	hits := 0
	for _, term := range terms {
		if strings.Contains(normalized, " "+term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
