package validate

import (
	"fmt"
	"strings"
	"time"

	"patternline/internal/domain"
)

// Aggregate combines the three validator results into one report. The
// next-step strings are shown to authors verbatim.
func Aggregate(submissionID string, schema, scorecard, diagram domain.ValidationResult) domain.ValidationReport {
	return aggregateAt(submissionID, schema, scorecard, diagram, time.Now().UTC())
}

func aggregateAt(submissionID string, schema, scorecard, diagram domain.ValidationResult, now time.Time) domain.ValidationReport {
	report := domain.ValidationReport{
		SubmissionID: submissionID,
		GeneratedAt:  now,
		OverallValid: schema.IsValid && scorecard.IsValid && diagram.IsValid,
		Schema:       schema,
		Scorecard:    scorecard,
		Diagram:      diagram,
	}
	if !report.OverallValid {
		report.Status = domain.ReportValidationFailed
		steps := []string{"Pattern has validation failures that must be addressed"}
		if !schema.IsValid {
			steps = append(steps, "Fix schema validation errors (missing required fields or incorrect data types)")
		}
		if !scorecard.IsValid {
			steps = append(steps, "Improve HQO scorecard dimensions to meet publication thresholds")
		}
		if !diagram.IsValid {
			steps = append(steps, "Adjust diagrams to meet budget constraints (actors, steps, alt blocks)")
		}
		report.NextSteps = append(steps, "Resubmit pattern after addressing all issues")
		return report
	}

	report.Status = domain.ReportReadyForReview
	if hasMarginalWarning(scorecard) {
		report.Status = domain.ReportReadyForReviewPriority
	}
	report.NextSteps = []string{
		"Pattern has passed all validation checks",
		"Pattern will be routed to reviewer queue",
		"Estimated review time: 3-5 business days",
		"You will receive email notification when review begins",
	}
	return report
}

func hasMarginalWarning(r domain.ValidationResult) bool {
	for _, e := range r.Errors {
		if e.Severity == domain.SeverityMinor && e.Field == "TotalScore" {
			return true
		}
	}
	return false
}

// Markdown renders the author-facing report.
func Markdown(r domain.ValidationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Validation Report - %s\n\n", r.SubmissionID)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", r.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if r.OverallValid {
		b.WriteString("**Overall Status:** ✓ PASSED\n\n")
	} else {
		b.WriteString("**Overall Status:** ✗ FAILED\n\n")
	}
	writeSection(&b, "Schema Validation", r.Schema)
	writeSection(&b, "HQO Scorecard Validation", r.Scorecard)
	writeSection(&b, "Diagram Budget Validation", r.Diagram)

	b.WriteString("## Next Steps\n\n")
	for _, step := range r.NextSteps {
		fmt.Fprintf(&b, "- %s\n", step)
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, res domain.ValidationResult) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if res.IsValid {
		b.WriteString("**Status:** ✓ Passed\n\n")
	} else {
		b.WriteString("**Status:** ✗ Failed\n\n")
	}
	if len(res.Errors) == 0 {
		b.WriteString("*No issues found*\n\n")
		return
	}
	b.WriteString("### Issues Found\n\n")
	groups := []struct {
		heading string
		sev     domain.Severity
	}{
		{"Critical Issues", domain.SeverityCritical},
		{"Major Issues", domain.SeverityMajor},
		{"Minor Issues / Warnings", domain.SeverityMinor},
	}
	for _, g := range groups {
		errs := res.BySeverity(g.sev)
		if len(errs) == 0 {
			continue
		}
		fmt.Fprintf(b, "#### %s\n\n", g.heading)
		for _, e := range errs {
			fmt.Fprintf(b, "- **%s**: %s\n", e.Field, e.Message)
			if e.Remediation != "" {
				fmt.Fprintf(b, "  - *Remediation:* %s\n", e.Remediation)
			}
		}
		b.WriteString("\n")
	}
}
