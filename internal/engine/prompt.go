package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/llm"
	"github.com/miradorstack/mirador-investigator/internal/models"
)

const (
	maxPromptGroups     = 12
	maxMembersPerGroup  = 8
	maxPromptHighlights = 10
	maxMessageRunes     = 240
)

const systemPrompt = `You are an incident investigator. Use only the evidence provided.
Propose at most 3 root causes for the question.
Every root cause must cite the bracketed ids of the evidence items or past incidents it rests on.
Reply with JSON only, in this shape:
{"candidates":[{"text":"...","rank":1,"citations":["logs:..."]}],"self_assessment":0.0}
self_assessment is your confidence in [0,1] that the first candidate is right.`

// BuildPrompt renders the synthesis context. The same input always yields the
// same prompt: groups keep their correlation order, members are sorted by
// relevance then id, and every list is capped.
func BuildPrompt(in SynthesisInput, maxTokens int) models.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Question:\n%s\n", llm.SanitizeInput(in.Question, 0))

	b.WriteString("\nCorrelated evidence:\n")
	groups := in.Groups
	if len(groups) > maxPromptGroups {
		groups = groups[:maxPromptGroups]
	}
	if len(groups) == 0 {
		b.WriteString("(none)\n")
	}
	for _, g := range groups {
		kinds := make([]string, 0, 3)
		for _, k := range g.SourceKinds() {
			kinds = append(kinds, k.Signal())
		}
		fmt.Fprintf(&b, "Group %s=%s sources=%s items=%d window=%s..%s\n",
			g.KeyKind, g.Key, strings.Join(kinds, ","), len(g.Members), formatTime(g.Start), formatTime(g.End))
		for _, m := range topMembers(g.Members, maxMembersPerGroup) {
			fmt.Fprintf(&b, "- [%s] %s service=%s", m.ID, formatTime(m.Timestamp), promptText(m.Keys.Service, maxMessageRunes))
			if m.Keys.TraceID != "" {
				fmt.Fprintf(&b, " trace=%s", promptText(m.Keys.TraceID, maxMessageRunes))
			}
			if m.Keys.DeploymentID != "" {
				fmt.Fprintf(&b, " deployment=%s", promptText(m.Keys.DeploymentID, maxMessageRunes))
			}
			fmt.Fprintf(&b, ": %s\n", promptText(m.Message, maxMessageRunes))
		}
	}

	if len(in.Highlights) > 0 {
		b.WriteString("\nStatistical anomalies:\n")
		highlights := in.Highlights
		if len(highlights) > maxPromptHighlights {
			highlights = highlights[:maxPromptHighlights]
		}
		for _, h := range highlights {
			fmt.Fprintf(&b, "- [%s] %s\n", h.EvidenceID, h.Reason)
		}
	}

	b.WriteString("\nSimilar past incidents:\n")
	if len(in.Similar) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range in.Similar {
		fmt.Fprintf(&b, "- [%s] similarity=%.2f root_cause=%s", s.CitationID(), s.SimilarityScore, promptText(s.PriorRootCause, maxMessageRunes))
		if len(s.PriorFixSteps) > 0 {
			fmt.Fprintf(&b, " fixes=%s", promptText(strings.Join(s.PriorFixSteps, "; "), maxMessageRunes))
		}
		b.WriteString("\n")
	}

	return models.Prompt{System: systemPrompt, User: b.String(), MaxTokens: maxTokens}
}

func topMembers(members []models.EvidenceItem, n int) []models.EvidenceItem {
	sorted := append([]models.EvidenceItem(nil), members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RelevanceScore != sorted[j].RelevanceScore {
			return sorted[i].RelevanceScore > sorted[j].RelevanceScore
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// promptText flattens telemetry text to one bounded line and fences it when
// it carries an injection phrase.
func promptText(s string, limit int) string {
	return llm.SanitizeInput(oneLine(s, limit), 0)
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
