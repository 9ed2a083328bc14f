package validate

import (
	"fmt"
	"time"

	"patternline/internal/diagram"
	"patternline/internal/domain"
)

// ValidateDiagrams checks both diagrams against the complexity budget.
func ValidateDiagrams(asIs, orchestrated string, budget DiagramBudget) domain.ValidationResult {
	return validateDiagramsAt(asIs, orchestrated, budget, time.Now().UTC())
}

func validateDiagramsAt(asIs, orchestrated string, budget DiagramBudget, now time.Time) domain.ValidationResult {
	errs := []domain.ValidationError{}
	errs = append(errs, checkDiagram("AsIsDiagram", "As-Is Diagram", asIs, budget)...)
	errs = append(errs, checkDiagram("OrchestratedDiagram", "Orchestrated Diagram", orchestrated, budget)...)
	return domain.ValidationResult{
		Type:        TypeDiagram,
		ValidatedAt: now,
		Errors:      errs,
		IsValid:     len(errs) == 0,
	}
}

func checkDiagram(field, display, text string, budget DiagramBudget) []domain.ValidationError {
	if diagram.Blank(text) {
		return []domain.ValidationError{{
			Field:       field,
			Message:     fmt.Sprintf("%s is missing or empty", display),
			Severity:    domain.SeverityCritical,
			Remediation: fmt.Sprintf("Provide a valid Mermaid sequence diagram for %s", display),
		}}
	}
	stats := diagram.Scan(text)
	var errs []domain.ValidationError
	if stats.Actors > budget.MaxActors {
		errs = append(errs, domain.ValidationError{
			Field:    field,
			Message:  fmt.Sprintf("%s exceeds actor budget (%d/%d)", display, stats.Actors, budget.MaxActors),
			Severity: domain.SeverityCritical,
			Remediation: fmt.Sprintf("Reduce the number of actors to %d or fewer. Consider grouping related actors or simplifying the workflow. Current count: %d",
				budget.MaxActors, stats.Actors),
		})
	}
	if stats.Steps > budget.MaxSteps {
		errs = append(errs, domain.ValidationError{
			Field:    field,
			Message:  fmt.Sprintf("%s exceeds step budget (%d/%d)", display, stats.Steps, budget.MaxSteps),
			Severity: domain.SeverityCritical,
			Remediation: fmt.Sprintf("Reduce the number of steps to %d or fewer. Consider breaking into multiple patterns or removing unnecessary steps. Current count: %d",
				budget.MaxSteps, stats.Steps),
		})
	}
	if stats.AltBlocks > budget.MaxAltBlocks {
		errs = append(errs, domain.ValidationError{
			Field:       field,
			Message:     fmt.Sprintf("%s exceeds alt block budget (%d/%d)", display, stats.AltBlocks, budget.MaxAltBlocks),
			Severity:    domain.SeverityCritical,
			Remediation: fmt.Sprintf("Reduce the number of alt blocks to %d or fewer. Current count: %d", budget.MaxAltBlocks, stats.AltBlocks),
		})
	}
	if stats.Nested() {
		errs = append(errs, domain.ValidationError{
			Field:       field,
			Message:     fmt.Sprintf("%s contains nested alt blocks", display),
			Severity:    domain.SeverityCritical,
			Remediation: "Diagrams cannot contain nested alt blocks. Simplify the diagram to remove nesting or split into separate patterns",
		})
	}
	return errs
}
