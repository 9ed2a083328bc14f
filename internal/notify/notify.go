// Package notify delivers workflow notifications to authors, reviewers and
// downstream systems.
package notify

import (
	"context"
	"errors"
	"time"

	"patternline/internal/domain"
)

type Kind string

const (
	KindAcknowledged     Kind = "submission_acknowledged"
	KindValidationReport Kind = "validation_report"
	KindStatusChanged    Kind = "status_changed"
	KindReviewerAssigned Kind = "reviewer_assigned"
)

// Notification is one message about a submission. Which optional fields are
// set depends on Kind.
type Notification struct {
	Kind         Kind                     `json:"kind"`
	SubmissionID string                   `json:"submission_id"`
	TicketID     string                   `json:"ticket_id"`
	AuthorID     string                   `json:"author_id,omitempty"`
	AuthorEmail  string                   `json:"author_email,omitempty"`
	From         domain.PublicationStatus `json:"from,omitempty"`
	To           domain.PublicationStatus `json:"to,omitempty"`
	ReviewerID   string                   `json:"reviewer_id,omitempty"`
	Priority     int                      `json:"priority,omitempty"`
	Report       *domain.ValidationReport `json:"report,omitempty"`
	Event        *domain.TicketEvent      `json:"event,omitempty"`
	Feedback     []domain.ReviewFeedback  `json:"feedback,omitempty"`
	At           time.Time                `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
