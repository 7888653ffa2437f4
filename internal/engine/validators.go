package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-investigator/internal/models"
	"github.com/miradorstack/mirador-investigator/internal/utils"
)

// DefaultMinEvidence is the smallest evidence count a result may rest on.
const DefaultMinEvidence = 2

// Validator gates a draft result. It only reads the draft.
type Validator struct {
	minEvidence int
	blocked     []string
}

// NewValidator constructs a Validator. blockedActions are verbs that may not
// appear in remediation text.
func NewValidator(minEvidence int, blockedActions []string) *Validator {
	if minEvidence <= 0 {
		minEvidence = DefaultMinEvidence
	}
	blocked := make([]string, 0, len(blockedActions))
	for _, b := range blockedActions {
		if n := utils.NormalizeText(strings.ReplaceAll(b, "_", " ")); n != "" {
			blocked = append(blocked, n)
		}
	}
	return &Validator{minEvidence: minEvidence, blocked: blocked}
}

// Validate returns rejected when a hard gate fails, degraded when the result
// stands on partial signals or low confidence, and accepted otherwise.
// Reasons accumulate in gate order.
func (v *Validator) Validate(draft *models.InvestigationResult) models.ValidationReport {
	var rejects, degrades []string

	if count := draft.Evidence.Count(); count < v.minEvidence {
		rejects = append(rejects, fmt.Sprintf("evidence count %d is below the minimum of %d", count, v.minEvidence))
	}
	for _, c := range draft.RootCauseCandidates {
		if len(c.SupportingEvidenceIDs) == 0 {
			rejects = append(rejects, fmt.Sprintf("candidate %d has no citation", c.Rank))
		}
	}
	if len(draft.RootCauseCandidates) == 0 {
		rejects = append(rejects, "no root-cause candidate survived synthesis")
	}
	for _, action := range draft.Remediations {
		if verb, ok := v.blockedVerb(action.ActionText); ok {
			rejects = append(rejects, fmt.Sprintf("remediation %q uses blocked action %q", action.ActionText, verb))
		}
	}

	signals := make([]string, 0, len(draft.SignalErrors))
	for signal := range draft.SignalErrors {
		signals = append(signals, signal)
	}
	sort.Strings(signals)
	for _, signal := range signals {
		degrades = append(degrades, fmt.Sprintf("%s unavailable: %s", signal, draft.SignalErrors[signal]))
	}
	degrades = append(degrades, draft.Degradations...)
	if draft.Confidence.Tier == models.TierLow {
		degrades = append(degrades, fmt.Sprintf("confidence tier is low (score %.2f)", draft.Confidence.Score))
	}

	report := models.ValidationReport{Reasons: append(rejects, degrades...)}
	switch {
	case len(rejects) > 0:
		report.Status = models.ValidationRejected
	case len(degrades) > 0:
		report.Status = models.ValidationDegraded
		report.Accepted = true
	default:
		report.Status = models.ValidationAccepted
		report.Accepted = true
	}
	return report
}

func (v *Validator) blockedVerb(text string) (string, bool) {
	normalized := " " + utils.NormalizeText(text) + " "
	for _, b := range v.blocked {
		if strings.Contains(normalized, " "+b+" ") {
			return b, true
		}
	}
	return "", false
}
