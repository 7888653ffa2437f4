package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

//go:embed playbook_default.yaml
var defaultPlaybook []byte

// GenericCategory labels the fallback action given to unmatched candidates.
const GenericCategory = "investigate"

// Playbook is the YAML root structure.
type Playbook struct {
	Categories []PlaybookCategory `yaml:"categories"`
}

// PlaybookCategory maps symptom keywords to remediation actions.
type PlaybookCategory struct {
	Category string           `yaml:"category"`
	Keywords []string         `yaml:"keywords"`
	Actions  []PlaybookAction `yaml:"actions"`
}

// PlaybookAction is one entry of a category. Risk and reversibility are
// taken as written; RequiresConfirmation defaults to high risk or irreversible.
type PlaybookAction struct {
	Text                 string `yaml:"text"`
	Risk                 string `yaml:"risk"`
	Reversible           bool   `yaml:"reversible"`
	RequiresConfirmation *bool  `yaml:"requires_confirmation"`
}

// RemediationMapper looks candidates up in a static playbook.
type RemediationMapper struct {
	categories []PlaybookCategory
	logger     *slog.Logger
}

// NewRemediationMapper loads the playbook at path. An empty path selects the
// built-in playbook; a missing file falls back to it with a warning.
func NewRemediationMapper(path string, logger *slog.Logger) (*RemediationMapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data := defaultPlaybook
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("playbook not found, using built-in playbook", slog.String("path", path))
		case err != nil:
			return nil, err
		default:
			data = raw
		}
	}
	return ParsePlaybook(data, logger)
}

// ParsePlaybook validates and indexes a YAML playbook.
func ParsePlaybook(data []byte, logger *slog.Logger) (*RemediationMapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	for i, cat := range pb.Categories {
		if cat.Category == "" {
			return nil, fmt.Errorf("playbook category %d has no name", i)
		}
		for j, action := range cat.Actions {
			if strings.TrimSpace(action.Text) == "" {
				return nil, fmt.Errorf("playbook category %s action %d has no text", cat.Category, j)
			}
			if _, ok := parseRisk(action.Risk); !ok {
				return nil, fmt.Errorf("playbook category %s action %d has invalid risk %q", cat.Category, j, action.Risk)
			}
		}
		normalized := make([]string, 0, len(cat.Keywords))
		for _, kw := range cat.Keywords {
			if n := utils.NormalizeText(kw); n != "" {
				normalized = append(normalized, n)
			}
		}
		pb.Categories[i].Keywords = normalized
	}
	return &RemediationMapper{categories: pb.Categories, logger: logger}, nil
}

// Map produces remediation actions for every candidate. The category with the
// most keyword hits wins, earlier categories breaking ties. Unmatched
// candidates get a single low-risk investigate action.
func (m *RemediationMapper) Map(candidates []models.RootCauseCandidate) []models.RemediationAction {
	actions := make([]models.RemediationAction, 0, len(candidates))
	for _, candidate := range candidates {
		cat, ok := m.match(candidate.Text)
		if !ok {
			actions = append(actions, genericAction(candidate))
			continue
		}
		for _, entry := range cat.Actions {
			risk, _ := parseRisk(entry.Risk)
			confirm := risk == models.RiskHigh || risk == models.RiskCritical || !entry.Reversible
			if entry.RequiresConfirmation != nil {
				confirm = *entry.RequiresConfirmation
			}
			actions = append(actions, models.RemediationAction{
				CandidateRank:        candidate.Rank,
				Category:             cat.Category,
				ActionText:           entry.Text,
				RiskLevel:            risk,
				Reversible:           entry.Reversible,
				RequiresConfirmation: confirm,
			})
		}
	}
	return actions
}

func (m *RemediationMapper) match(text string) (PlaybookCategory, bool) {
	normalized := " " + utils.NormalizeText(text) + " "
	best, bestHits := -1, 0
	for i, cat := range m.categories {
		if len(cat.Actions) == 0 {
			continue
		}
		hits := 0
		for _, kw := range cat.Keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return PlaybookCategory{}, false
	}
	return m.categories[best], true
}

func genericAction(candidate models.RootCauseCandidate) models.RemediationAction {
	return models.RemediationAction{
		CandidateRank:        candidate.Rank,
		Category:             GenericCategory,
		ActionText:           "Investigate further: review the cited evidence before changing the system",
		RiskLevel:            models.RiskLow,
		Reversible:           true,
		RequiresConfirmation: false,
	}
}

func parseRisk(value string) (models.RiskLevel, bool) {
	switch models.RiskLevel(strings.ToLower(strings.TrimSpace(value))) {
	case models.RiskLow:
		return models.RiskLow, true
	case models.RiskMedium:
		return models.RiskMedium, true
	case models.RiskHigh:
		return models.RiskHigh, true
	case models.RiskCritical:
		return models.RiskCritical, true
	}
	return "", false
}
