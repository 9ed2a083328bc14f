package domain

import "time"

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
)

type ValidationError struct {
	Field       string   `json:"field"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity" enum:"Critical,Major,Minor"`
	Remediation string   `json:"remediation,omitempty"`
}

// ReviewFeedback is one reviewer comment on a section of a pattern.
type ReviewFeedback struct {
	Section  string   `json:"section,omitempty"`
	Severity Severity `json:"severity,omitempty" enum:"Critical,Major,Minor"`
	Comment  string   `json:"comment"`
}

type ValidationResult struct {
	Type        string            `json:"type"`
	ValidatedAt time.Time         `json:"validated_at" format:"date-time"`
	Errors      []ValidationError `json:"errors"`
	IsValid     bool              `json:"is_valid"`
}

// HasCritical reports whether any error blocks advancement.
func (r ValidationResult) HasCritical() bool {
	return r.count(SeverityCritical) > 0
}

// BySeverity returns the errors of one severity, preserving order.
func (r ValidationResult) BySeverity(sev Severity) []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

func (r ValidationResult) count(sev Severity) int {
	n := 0
	for _, e := range r.Errors {
		if e.Severity == sev {
			n++
		}
	}
	return n
}

// ReportStatus classifies a validation report.
type ReportStatus string

const (
	ReportReadyForReview         ReportStatus = "ready_for_review"
	ReportReadyForReviewPriority ReportStatus = "ready_for_review_priority"
	ReportValidationFailed       ReportStatus = "validation_failed"
)

// ValidationReport combines the three validator results for one submission.
type ValidationReport struct {
	SubmissionID string           `json:"submission_id"`
	GeneratedAt  time.Time        `json:"generated_at" format:"date-time"`
	OverallValid bool             `json:"overall_valid"`
	Schema       ValidationResult `json:"schema"`
	Scorecard    ValidationResult `json:"scorecard"`
	Diagram      ValidationResult `json:"diagram"`
	Status       ReportStatus     `json:"status" enum:"ready_for_review,ready_for_review_priority,validation_failed"`
	NextSteps    []string         `json:"next_steps"`
}

// Priority reports whether reviewers should look at the submission first.
func (r ValidationReport) Priority() bool {
	return r.Status == ReportReadyForReviewPriority
}
