package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// MaxCandidates caps the synthesized root causes.
const MaxCandidates = 3

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, p models.Prompt) (string, error)
}

// SynthesisInput is everything the synthesizer reasons over.
type SynthesisInput struct {
	Question   string
	Groups     []models.CorrelationGroup
	Similar    []models.SimilarIncident
	Highlights []models.Highlight
}

// Synthesis is the filtered, ranked model output.
type Synthesis struct {
	Candidates     []models.RootCauseCandidate
	SelfAssessment float64
	Dropped        int
}

// Synthesizer builds the context, calls the generator and enforces the
// citation and ranking rules on its output.
type Synthesizer struct {
	generator Generator
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// NewSynthesizer constructs a Synthesizer. A nil generator makes every call
// fail with ErrSynthesisUnavailable.
func NewSynthesizer(logger *slog.Logger, generator Generator, timeout time.Duration, maxTokens int) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Synthesizer{generator: generator, timeout: timeout, maxTokens: maxTokens, logger: logger}
}

// Synthesize returns at most MaxCandidates cited candidates. Model failures
// and malformed output wrap utils.ErrSynthesisUnavailable.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (Synthesis, error) {
	if s.generator == nil {
		return Synthesis{}, utils.KindError("synthesize", utils.ErrSynthesisUnavailable, errors.New("no generator configured"))
	}
	prompt := BuildPrompt(in, s.maxTokens)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	text, err := s.generator.Generate(callCtx, prompt)
	if err != nil {
		return Synthesis{}, utils.KindError("synthesize", utils.ErrSynthesisUnavailable, err)
	}

	out, err := ParseModelOutput(text)
	if err != nil {
		return Synthesis{}, utils.KindError("synthesize", utils.ErrSynthesisUnavailable, err)
	}
	result := Finalize(out, in)
	if result.Dropped > 0 {
		s.logger.Info("dropped uncited root-cause candidates", slog.Int("dropped", result.Dropped))
	}
	return result, nil
}

// ModelCandidate is one candidate as the model reported it.
type ModelCandidate struct {
	Text      string   `json:"text"`
	Rank      int      `json:"rank"`
	Citations []string `json:"citations"`
}

// ModelOutput is the JSON contract of the generator reply.
type ModelOutput struct {
	Candidates     []ModelCandidate `json:"candidates"`
	SelfAssessment *float64         `json:"self_assessment"`
}

// ParseModelOutput decodes a reply, tolerating a fenced code block around it.
func ParseModelOutput(text string) (ModelOutput, error) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		end := strings.LastIndex(body, "```")
		if end < 0 {
			return ModelOutput{}, errors.New("unterminated code fence in model output")
		}
		body = strings.TrimSpace(body[:end])
	}
	var out ModelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return ModelOutput{}, fmt.Errorf("malformed model output: %w", err)
	}
	if out.Candidates == nil {
		return ModelOutput{}, errors.New("malformed model output: missing candidates")
	}
	return out, nil
}

// Finalize deduplicates candidates by normalized text, keeps only citations
// of known evidence or incidents, drops candidates left without one, orders
// them and caps the list at MaxCandidates.
func Finalize(out ModelOutput, in SynthesisInput) Synthesis {
	weights := citationWeights(in)

	type pending struct {
		cand  models.RootCauseCandidate
		order int
	}
	byText := make(map[string]int)
	kept := make([]pending, 0, len(out.Candidates))
	dropped := 0

	for i, mc := range out.Candidates {
		text := strings.TrimSpace(mc.Text)
		norm := utils.NormalizeText(text)
		if norm == "" {
			dropped++
			continue
		}
		cited := make([]string, 0, len(mc.Citations))
		for _, raw := range mc.Citations {
			if id, ok := resolveCitation(raw, weights); ok {
				cited = append(cited, id)
			}
		}
		cited = utils.UniqueStrings(cited)

		if j, dup := byText[norm]; dup {
			merged := utils.UniqueStrings(append(kept[j].cand.SupportingEvidenceIDs, cited...))
			kept[j].cand.SupportingEvidenceIDs = merged
			if mc.Rank > 0 && (kept[j].cand.Rank == 0 || mc.Rank < kept[j].cand.Rank) {
				kept[j].cand.Rank = mc.Rank
			}
			continue
		}
		byText[norm] = len(kept)
		kept = append(kept, pending{
			cand:  models.RootCauseCandidate{Text: text, SupportingEvidenceIDs: cited, Rank: mc.Rank},
			order: i,
		})
	}

	candidates := make([]models.RootCauseCandidate, 0, len(kept))
	for _, p := range kept {
		if len(p.cand.SupportingEvidenceIDs) == 0 {
			dropped++
			continue
		}
		for _, id := range p.cand.SupportingEvidenceIDs {
			p.cand.Weight += weights[id]
		}
		candidates = append(candidates, p.cand)
	}

	ranked := true
	for _, c := range candidates {
		if c.Rank <= 0 {
			ranked = false
			break
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if ranked && candidates[i].Rank != candidates[j].Rank {
			return candidates[i].Rank < candidates[j].Rank
		}
		return candidates[i].Weight > candidates[j].Weight
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}

	self := 0.0
	if out.SelfAssessment != nil {
		self = unit(*out.SelfAssessment)
	}
	return Synthesis{Candidates: candidates, SelfAssessment: self, Dropped: dropped}
}

// citationWeights maps every citable id to its weight: relevance for evidence,
// similarity for incidents.
func citationWeights(in SynthesisInput) map[string]float64 {
	weights := make(map[string]float64)
	for _, g := range in.Groups {
		for _, m := range g.Members {
			weights[m.ID] = m.RelevanceScore
		}
	}
	for _, s := range in.Similar {
		weights[s.CitationID()] = s.SimilarityScore
	}
	return weights
}

// resolveCitation accepts an id as shown in the prompt, optionally wrapped in
// brackets, or a bare incident id.
func resolveCitation(raw string, known map[string]float64) (string, bool) {
	id := strings.Trim(strings.TrimSpace(raw), "[]")
	if _, ok := known[id]; ok {
		return id, true
	}
	if _, ok := known["incident:"+id]; ok {
		return "incident:" + id, true
	}
	return "", false
}
