package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

func TestRemediationMapperBuiltInPlaybook(t *testing.T) {
	mapper, err := NewRemediationMapper("", slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	actions := mapper.Map([]models.RootCauseCandidate{
		{Text: "DB connection pool exhaustion on payment-api", Rank: 1, SupportingEvidenceIDs: []string{"logs:0"}},
	})
	if len(actions) == 0 {
		t.Fatalf("expected actions")
	}
	for _, a := range actions {
		if a.Category != "database" || a.CandidateRank != 1 {
			t.Fatalf("unexpected action %+v", a)
		}
	}
	// The irreversible entry must ask for confirmation even though the file omits it.
	var sawIrreversible bool
	for _, a := range actions {
		if !a.Reversible {
			sawIrreversible = true
			if !a.RequiresConfirmation {
				t.Fatalf("irreversible action must require confirmation: %+v", a)
			}
		}
	}
	if !sawIrreversible {
		t.Fatalf("expected the database category to include an irreversible action")
	}
}

func TestRemediationMapperFallsBackToInvestigate(t *testing.T) {
	mapper, err := NewRemediationMapper("", nil)
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	candidates := []models.RootCauseCandidate{
		{Text: "Cosmic rays flipped a bit", Rank: 1},
		{Text: "Something odd happened", Rank: 2},
	}
	actions := mapper.Map(candidates)
	if len(actions) != 2 {
		t.Fatalf("expected one generic action per candidate, got %d", len(actions))
	}
	for i, a := range actions {
		if a.Category != GenericCategory || a.RiskLevel != models.RiskLow || !a.Reversible || a.RequiresConfirmation {
			t.Fatalf("unexpected generic action %+v", a)
		}
		if a.CandidateRank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, a.CandidateRank)
		}
	}
	if got := mapper.Map(nil); len(got) != 0 {
		t.Fatalf("expected no actions without candidates")
	}
}

func TestRemediationMapperCustomPlaybook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbook.yaml")
	if err := os.WriteFile(path, []byte(`categories:
  - category: cache
    keywords: ["redis", "cache miss"]
    actions:
      - text: Flush the hot keys
        risk: critical
        reversible: true
        requires_confirmation: false
`), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
	mapper, err := NewRemediationMapper(path, nil)
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	actions := mapper.Map([]models.RootCauseCandidate{{Text: "Redis cache miss storm", Rank: 1}})
	if len(actions) != 1 || actions[0].RiskLevel != models.RiskCritical || actions[0].RequiresConfirmation {
		t.Fatalf("playbook values must be used verbatim, got %+v", actions)
	}
}

func TestRemediationMapperRejectsInvalidRisk(t *testing.T) {
	_, err := ParsePlaybook([]byte(`categories:
  - category: x
    keywords: [x]
    actions:
      - text: do it
        risk: spicy
`), nil)
	if err == nil {
		t.Fatalf("expected invalid risk error")
	}
}

func TestRemediationMapperMissingFileUsesBuiltIn(t *testing.T) {
	mapper, err := NewRemediationMapper("non-existent.yaml", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(mapper.Map([]models.RootCauseCandidate{{Text: "bad deploy", Rank: 1}})) == 0 {
		t.Fatalf("expected built-in playbook actions")
	}
}
