package validate

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"patternline/internal/domain"
)

// Validator runs the three validators for a pattern and aggregates them.
type Validator struct {
	Rules Rules
	Now   func() time.Time
}

func New(rules Rules) Validator {
	return Validator{Rules: rules, Now: func() time.Time { return time.Now().UTC() }}
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now().UTC()
}

// Run validates the pattern. The validators share no state so they run
// concurrently; the report is built once all three have finished.
func (v Validator) Run(ctx context.Context, submissionID string, p domain.Pattern) (domain.ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.ValidationReport{}, err
	}
	now := v.now()
	var schema, scorecard, diagrams domain.ValidationResult
	var wg conc.WaitGroup
	wg.Go(func() { schema = validateSchemaAt(p, now) })
	wg.Go(func() { scorecard = validateScorecardAt(p.Scorecard, v.Rules.Scorecard, now) })
	wg.Go(func() { diagrams = validateDiagramsAt(p.AsIsDiagram, p.OrchestratedDiagram, v.Rules.Diagram, now) })
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return domain.ValidationReport{}, err
	}
	return aggregateAt(submissionID, schema, scorecard, diagrams, now), nil
}
