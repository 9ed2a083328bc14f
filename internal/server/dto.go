package server

import (
	"patternline/internal/domain"
)

// Request payloads

type TransitionRequest struct {
	Event    string                  `json:"event" enum:"review_started,review_decision,changes_resubmitted,build_started,build_completed,staging_verified,production_deployed,rollback_requested"`
	Outcome  string                  `json:"outcome,omitempty"`
	Reviewer string                  `json:"reviewer,omitempty"`
	Feedback []domain.ReviewFeedback `json:"feedback,omitempty" doc:"Reviewer comments, review_decision only"`
}

// Response payloads

type SubmissionResponse struct {
	Submission domain.Submission        `json:"submission"`
	Ticket     domain.Ticket            `json:"ticket"`
	Report     *domain.ValidationReport `json:"report,omitempty"`
}

type SubmissionSummary struct {
	ID          string                   `json:"id"`
	PatternID   string                   `json:"pattern_id"`
	Title       string                   `json:"title"`
	AuthorID    string                   `json:"author_id"`
	Status      domain.PublicationStatus `json:"status"`
	TicketID    string                   `json:"ticket_id"`
	SubmittedAt string                   `json:"submitted_at"`
}

type ListSubmissionsResponse struct {
	Items []SubmissionSummary `json:"items"`
}

type TransitionResponse struct {
	SubmissionID string                   `json:"submission_id"`
	Status       domain.PublicationStatus `json:"status"`
	Terminal     bool                     `json:"terminal"`
}

type ReportResponse struct {
	Report   domain.ValidationReport `json:"report"`
	Markdown string                  `json:"markdown,omitempty"`
}

type EventsResponse struct {
	Items []domain.TicketEvent `json:"items"`
}

type StatusResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

func submissionSummary(s domain.Submission) SubmissionSummary {
	return SubmissionSummary{
		ID:          s.ID,
		PatternID:   s.PatternID,
		Title:       s.Pattern.Title,
		AuthorID:    s.AuthorID,
		Status:      s.Status,
		TicketID:    s.TicketID,
		SubmittedAt: s.SubmittedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func mapSubmissions(items []domain.Submission) []SubmissionSummary {
	out := make([]SubmissionSummary, 0, len(items))
	for _, s := range items {
		out = append(out, submissionSummary(s))
	}
	return out
}
