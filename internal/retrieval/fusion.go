package retrieval

import (
	"sort"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/repo"
)

// DefaultRRFK is the usual reciprocal rank fusion damping constant.
const DefaultRRFK = 60

// FusedDocument is a document with its reciprocal rank fusion score.
type FusedDocument struct {
	Doc         repo.Document
	Score       float64
	LexicalRank int
	VectorRank  int
}

// Origin reports which legs contributed to the fused score.
func (f FusedDocument) Origin() models.RankOrigin {
	switch {
	case f.LexicalRank > 0 && f.VectorRank > 0:
		return models.RankFused
	case f.VectorRank > 0:
		return models.RankVector
	default:
		return models.RankLexical
	}
}

// Fuse merges two ranked lists with reciprocal rank fusion. A document scores
// the sum of 1/(k+rank) over the lists containing it, ranks being 1-based.
// Ties are broken by the most recent timestamp and then by document key.
func Fuse(k int, lexical, vector []repo.Document) []FusedDocument {
	if k <= 0 {
		k = DefaultRRFK
	}
	byKey := make(map[string]*FusedDocument, len(lexical)+len(vector))
	order := make([]string, 0, len(lexical)+len(vector))

	add := func(docs []repo.Document, lexicalLeg bool) {
		for i, doc := range docs {
			rank := i + 1
			key := documentKey(doc)
			fused, ok := byKey[key]
			if !ok {
				fused = &FusedDocument{Doc: doc}
				byKey[key] = fused
				order = append(order, key)
			}
			if lexicalLeg {
				if fused.LexicalRank != 0 {
					continue
				}
				fused.LexicalRank = rank
			} else {
				if fused.VectorRank != 0 {
					continue
				}
				fused.VectorRank = rank
			}
			fused.Score += 1.0 / float64(k+rank)
		}
	}
	add(lexical, true)
	add(vector, false)

	out := make([]FusedDocument, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Doc.Timestamp.Equal(out[j].Doc.Timestamp) {
			return out[i].Doc.Timestamp.After(out[j].Doc.Timestamp)
		}
		return documentKey(out[i].Doc) < documentKey(out[j].Doc)
	})
	return out
}

func documentKey(doc repo.Document) string {
	if doc.Index == "" {
		return doc.ID
	}
	return doc.Index + "/" + doc.ID
}
