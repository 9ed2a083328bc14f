package validate

import (
	"fmt"
	"strings"
	"time"

	"patternline/internal/domain"
)

const (
	TypeSchema    = "Schema"
	TypeScorecard = "HQO Scorecard"
	TypeDiagram   = "Diagram Budget"
)

type requiredField struct {
	field   string
	display string
	value   func(domain.Pattern) string
}

var requiredFields = []requiredField{
	{"Id", "Pattern ID", func(p domain.Pattern) string { return p.ID }},
	{"Title", "Pattern title", func(p domain.Pattern) string { return p.Title }},
	{"Hook", "Pattern hook (hookMarkdown)", func(p domain.Pattern) string { return p.Hook }},
	{"ProblemDetail", "Problem detail", func(p domain.Pattern) string { return p.ProblemDetail }},
	{"AsIsDiagram", "As-Is diagram (asIsDiagramMermaid)", func(p domain.Pattern) string { return p.AsIsDiagram }},
	{"OrchestratedDiagram", "Orchestrated diagram (orchestratedDiagramMermaid)", func(p domain.Pattern) string { return p.OrchestratedDiagram }},
	{"DecisionPoint", "Decision point", func(p domain.Pattern) string { return p.DecisionPoint }},
	{"Metrics", "Metrics section", func(p domain.Pattern) string { return p.Metrics }},
	{"Checklist", "Implementation checklist", func(p domain.Pattern) string { return p.Checklist }},
	{"ClosingInsight", "Closing insight", func(p domain.Pattern) string { return p.ClosingInsight }},
}

// ValidateSchema checks that every required narrative field is present and
// that the scorecard, industries and broken signals were supplied.
func ValidateSchema(p domain.Pattern) domain.ValidationResult {
	return validateSchemaAt(p, time.Now().UTC())
}

func validateSchemaAt(p domain.Pattern, now time.Time) domain.ValidationResult {
	errs := []domain.ValidationError{}
	for _, f := range requiredFields {
		if strings.TrimSpace(f.value(p)) != "" {
			continue
		}
		errs = append(errs, domain.ValidationError{
			Field:       f.field,
			Message:     fmt.Sprintf("%s is required but was not provided", f.display),
			Severity:    domain.SeverityCritical,
			Remediation: fmt.Sprintf("Provide a valid value for %s", f.display),
		})
	}
	if p.Scorecard == nil || p.Scorecard.Total() == 0 {
		errs = append(errs, domain.ValidationError{
			Field:       "Scorecard",
			Message:     "Pattern scorecard is required with valid scores",
			Severity:    domain.SeverityCritical,
			Remediation: "Provide HQO scorecard with all 8 dimensions scored (Ownership, TimeSLA, Capacity, Visibility, CustomerLoop, Escalation, Handoffs, Documentation)",
		})
	}
	if len(p.Industries) == 0 {
		errs = append(errs, domain.ValidationError{
			Field:       "Industries",
			Message:     "At least one industry must be specified",
			Severity:    domain.SeverityMajor,
			Remediation: "Add relevant industries for this pattern (e.g., Technology, Healthcare, Finance)",
		})
	}
	if len(p.BrokenSignals) == 0 {
		errs = append(errs, domain.ValidationError{
			Field:       "BrokenSignals",
			Message:     "At least one broken signal must be specified",
			Severity:    domain.SeverityMajor,
			Remediation: "Identify the orchestration signals that are broken (e.g., Ownership, Visibility, Handoffs)",
		})
	}
	res := domain.ValidationResult{Type: TypeSchema, ValidatedAt: now, Errors: errs}
	res.IsValid = !res.HasCritical()
	return res
}
