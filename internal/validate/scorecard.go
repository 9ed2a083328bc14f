package validate

import (
	"fmt"
	"strings"
	"time"

	"patternline/internal/domain"
)

// ValidateScorecard checks each dimension against the per-dimension floor and
// range, then the total against the publication threshold. A nil scorecard is
// validated as all zeros.
func ValidateScorecard(sc *domain.Scorecard, rules ScorecardRules) domain.ValidationResult {
	return validateScorecardAt(sc, rules, time.Now().UTC())
}

func validateScorecardAt(sc *domain.Scorecard, rules ScorecardRules, now time.Time) domain.ValidationResult {
	var card domain.Scorecard
	if sc != nil {
		card = *sc
	}
	errs := []domain.ValidationError{}
	dims := card.Dimensions()
	for _, d := range dims {
		field := "Scorecard." + d.Name
		if d.Score < rules.MinDimension {
			errs = append(errs, domain.ValidationError{
				Field:    field,
				Message:  fmt.Sprintf("%s score (%d/%d) is below minimum threshold (%d/%d)", d.Name, d.Score, rules.MaxDimension, rules.MinDimension, rules.MaxDimension),
				Severity: domain.SeverityCritical,
				Remediation: fmt.Sprintf("Improve %s: %s. Current score: %d, minimum required: %d",
					d.Name, d.Description, d.Score, rules.MinDimension),
			})
		}
		if d.Score < 1 || d.Score > rules.MaxDimension {
			errs = append(errs, domain.ValidationError{
				Field:       field,
				Message:     fmt.Sprintf("%s score (%d) is out of valid range (1-%d)", d.Name, d.Score, rules.MaxDimension),
				Severity:    domain.SeverityCritical,
				Remediation: fmt.Sprintf("Provide a valid score between 1 and %d for %s", rules.MaxDimension, d.Name),
			})
		}
	}

	total := card.Total()
	suggestions := weakDimensions(dims, rules.StrongDimension)
	switch {
	case total < rules.MinTotal:
		errs = append(errs, domain.ValidationError{
			Field:    "TotalScore",
			Message:  fmt.Sprintf("Total HQO score (%d/%d) is below publication threshold (%d/%d)", total, rules.MaxTotal, rules.MinTotal, rules.MaxTotal),
			Severity: domain.SeverityCritical,
			Remediation: fmt.Sprintf("Improve weak dimensions to reach minimum total score of %d. Current score: %d. %s",
				rules.MinTotal, total, suggestions),
		})
	case total <= rules.MarginalCeiling:
		errs = append(errs, domain.ValidationError{
			Field:       "TotalScore",
			Message:     fmt.Sprintf("Total HQO score (%d/%d) is marginal", total, rules.MaxTotal),
			Severity:    domain.SeverityMinor,
			Remediation: "Score meets minimum threshold but is close to the boundary. Consider strengthening: " + suggestions,
		})
	}

	res := domain.ValidationResult{Type: TypeScorecard, ValidatedAt: now, Errors: errs}
	res.IsValid = !res.HasCritical()
	return res
}

func weakDimensions(dims []domain.Dimension, strong int) string {
	var weak []string
	for _, d := range dims {
		if d.Score < strong {
			weak = append(weak, d.Name)
		}
	}
	if len(weak) == 0 {
		return "All dimensions are strong"
	}
	return strings.Join(weak, ", ")
}
