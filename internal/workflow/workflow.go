package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"patternline/internal/domain"
	"patternline/internal/logging"
	"patternline/internal/metrics"
	"patternline/internal/notify"
	"patternline/internal/validate"
)

var ErrInvalidSubmission = errors.New("invalid submission")

// Store persists submissions, tickets and the audit log.
type Store interface {
	CreateSubmission(ctx context.Context, in domain.NewSubmission, actorID string) (domain.Submission, domain.Ticket, domain.TicketEvent, error)
	GetSubmission(ctx context.Context, id string) (domain.Submission, error)
	GetTicket(ctx context.Context, id string) (domain.Ticket, error)
	// ApplyTransition commits the status change, its audit event and any
	// report in one transaction.
	ApplyTransition(ctx context.Context, change domain.StatusChange) (domain.TicketEvent, error)
	AssignReviewer(ctx context.Context, ticketID, reviewerID, actorID string, at time.Time) (domain.TicketEvent, error)
}

// Workflow owns every submission's lifecycle. Transitions for one
// submission are serialized; different submissions proceed independently.
type Workflow struct {
	Store     Store
	Validator validate.Validator
	Router    ReviewerRouter
	Notifier  notify.Notifier
	Priority  PriorityRules
	Metrics   *metrics.Metrics
	Log       *logrus.Entry
	Now       func() time.Time

	locks *keyedMutex
}

func New(store Store, v validate.Validator, router ReviewerRouter, n notify.Notifier) Workflow {
	if n == nil {
		n = notify.Nop{}
	}
	return Workflow{
		Store:     store,
		Validator: v,
		Router:    router,
		Notifier:  n,
		Priority:  DefaultPriorityRules(),
		Log:       logging.WithModule("workflow"),
		Now:       time.Now,
		locks:     newKeyedMutex(),
	}
}

func (w Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w Workflow) log() *logrus.Entry {
	if w.Log != nil {
		return w.Log
	}
	return logging.WithModule("workflow")
}

func (w Workflow) lock(id string) func() {
	if w.locks == nil {
		panic("workflow: use workflow.New")
	}
	return w.locks.Lock(id)
}

// SubmitOptions describe a new pattern submission.
type SubmitOptions struct {
	Pattern     domain.Pattern
	AuthorID    string
	AuthorEmail string
	ActorID     string
}

// Submit records a new submission and its ticket in submission_received.
// Content problems are left to validation; only an unusable pattern id is
// refused here.
func (w Workflow) Submit(ctx context.Context, opts SubmitOptions) (domain.Submission, domain.Ticket, error) {
	opts.Pattern.ID = strings.TrimSpace(opts.Pattern.ID)
	if opts.Pattern.ID == "" {
		return domain.Submission{}, domain.Ticket{}, fmt.Errorf("%w: pattern id is required", ErrInvalidSubmission)
	}
	if opts.AuthorID == "" {
		opts.AuthorID = opts.ActorID
	}
	if opts.ActorID == "" {
		opts.ActorID = opts.AuthorID
	}
	now := w.now()
	meta := validate.ExtractMetadata(opts.Pattern, now)
	in := domain.NewSubmission{
		Pattern:     opts.Pattern,
		AuthorID:    opts.AuthorID,
		AuthorEmail: opts.AuthorEmail,
		Metadata:    &meta,
		Priority:    w.Priority.Priority(opts.Pattern.Industries),
		At:          now,
		Description: "Publication ticket created and added to validation queue",
	}
	sub, ticket, ev, err := w.Store.CreateSubmission(ctx, in, opts.ActorID)
	if err != nil {
		return domain.Submission{}, domain.Ticket{}, fmt.Errorf("create submission: %w", err)
	}
	w.Metrics.ObserveSubmission()
	w.log().WithFields(logrus.Fields{
		"submission_id": sub.ID,
		"ticket_id":     ticket.ID,
		"pattern_id":    sub.PatternID,
	}).Info("submission received")
	w.notify(ctx, notify.Notification{
		Kind:         notify.KindAcknowledged,
		SubmissionID: sub.ID,
		TicketID:     ticket.ID,
		AuthorID:     sub.AuthorID,
		AuthorEmail:  sub.AuthorEmail,
		To:           sub.Status,
		Priority:     ticket.Priority,
		Event:        &ev,
		At:           now,
	})
	return sub, ticket, nil
}

// RunValidation validates a received submission and moves it to
// awaiting_review or validation_failed. A passing submission is offered to
// the reviewer router.
func (w Workflow) RunValidation(ctx context.Context, submissionID, actorID string) (domain.ValidationReport, error) {
	unlock := w.lock(submissionID)
	defer unlock()

	sub, err := w.Store.GetSubmission(ctx, submissionID)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	switch sub.Status {
	case domain.StatusSubmissionReceived:
		sub, _, err = w.apply(ctx, sub, ValidationStarted(), actorID)
		if err != nil {
			return domain.ValidationReport{}, err
		}
	case domain.StatusValidationInProgress:
		// resumed after an interrupted run
	default:
		ev := Event{Kind: KindValidationCompleted}
		w.Metrics.ObserveRejected(sub.Status, ev.String())
		return domain.ValidationReport{}, &InvalidTransitionError{From: sub.Status, Event: ev}
	}

	started := time.Now()
	report, err := w.Validator.Run(ctx, sub.ID, sub.Pattern)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("run validators: %w", err)
	}
	w.Metrics.ObserveValidation(report, time.Since(started))

	if _, _, err = w.apply(ctx, sub, ValidationCompleted(report), actorID); err != nil {
		return domain.ValidationReport{}, err
	}
	return report, nil
}

// Advance applies an externally triggered event and returns the new status.
// A rejected event leaves the submission untouched and records nothing.
func (w Workflow) Advance(ctx context.Context, submissionID string, ev Event) (domain.PublicationStatus, error) {
	unlock := w.lock(submissionID)
	defer unlock()

	sub, err := w.Store.GetSubmission(ctx, submissionID)
	if err != nil {
		return "", err
	}
	sub, _, err = w.apply(ctx, sub, ev, ev.Actor)
	if err != nil {
		return sub.Status, err
	}
	return sub.Status, nil
}

// apply runs one transition for a submission whose lock is held. A
// completed validation also stores its report, sends it to the author and,
// when it passed, hands the submission to the reviewer router.
func (w Workflow) apply(ctx context.Context, sub domain.Submission, ev Event, actorID string) (domain.Submission, domain.TicketEvent, error) {
	if ev.Kind == KindValidationCompleted && ev.Report != nil {
		switch ev.Report.SubmissionID {
		case sub.ID:
		case "":
			report := *ev.Report
			report.SubmissionID = sub.ID
			ev.Report = &report
		default:
			return sub, domain.TicketEvent{}, fmt.Errorf("%w: report for %s applied to %s", ErrInvalidEvent, ev.Report.SubmissionID, sub.ID)
		}
	}
	t, err := Next(sub.Status, ev)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			w.Metrics.ObserveRejected(sub.Status, ev.String())
			w.log().WithFields(logrus.Fields{
				"submission_id": sub.ID,
				"from":          sub.Status,
				"event":         ev.String(),
			}).Warn("transition rejected")
		}
		return sub, domain.TicketEvent{}, err
	}
	if actorID == "" {
		actorID = ev.Reviewer
	}
	now := w.now()
	change := domain.StatusChange{
		SubmissionID: sub.ID,
		TicketID:     sub.TicketID,
		From:         t.From,
		To:           t.To,
		EventType:    t.EventType,
		Description:  t.Description,
		ActorID:      actorID,
		Report:       ev.Report,
		At:           now,
	}
	if ev.Kind == KindReviewStarted {
		change.ReviewerID = ev.Reviewer
	}
	recorded, err := w.Store.ApplyTransition(ctx, change)
	if err != nil {
		return sub, domain.TicketEvent{}, fmt.Errorf("apply %s: %w", ev, err)
	}
	w.Metrics.ObserveTransition(t.From, t.To)
	w.log().WithFields(logrus.Fields{
		"submission_id": sub.ID,
		"from":          t.From,
		"to":            t.To,
		"event":         t.EventType,
	}).Info("transition applied")

	sub.Status = t.To
	sub.UpdatedAt = now
	w.notify(ctx, notify.Notification{
		Kind:         notify.KindStatusChanged,
		SubmissionID: sub.ID,
		TicketID:     sub.TicketID,
		AuthorID:     sub.AuthorID,
		AuthorEmail:  sub.AuthorEmail,
		From:         t.From,
		To:           t.To,
		Event:        &recorded,
		Feedback:     ev.Feedback,
		At:           now,
	})
	if ev.Kind == KindValidationCompleted {
		w.notify(ctx, notify.Notification{
			Kind:         notify.KindValidationReport,
			SubmissionID: sub.ID,
			TicketID:     sub.TicketID,
			AuthorID:     sub.AuthorID,
			AuthorEmail:  sub.AuthorEmail,
			To:           sub.Status,
			Report:       ev.Report,
			At:           now,
		})
		if ev.Report.OverallValid {
			w.route(ctx, sub, actorID)
		}
	}
	return sub, recorded, nil
}

func (w Workflow) route(ctx context.Context, sub domain.Submission, actorID string) {
	if w.Router == nil {
		return
	}
	log := w.log().WithField("submission_id", sub.ID)
	ticket, err := w.Store.GetTicket(ctx, sub.TicketID)
	if err != nil {
		log.WithError(err).Warn("load ticket for routing")
		return
	}
	reviewer, err := w.Router.Route(ctx, sub, ticket)
	if err != nil {
		log.WithError(err).Warn("route to reviewer")
		return
	}
	if reviewer == "" {
		log.Info("no reviewer available; submission waits in queue")
		return
	}
	now := w.now()
	ev, err := w.Store.AssignReviewer(ctx, ticket.ID, reviewer, actorID, now)
	if err != nil {
		log.WithError(err).Warn("assign reviewer")
		return
	}
	w.notify(ctx, notify.Notification{
		Kind:         notify.KindReviewerAssigned,
		SubmissionID: sub.ID,
		TicketID:     ticket.ID,
		ReviewerID:   reviewer,
		Priority:     ticket.Priority,
		To:           sub.Status,
		Event:        &ev,
		At:           now,
	})
}

// notify never fails the caller; the transition is already committed.
func (w Workflow) notify(ctx context.Context, n notify.Notification) {
	if w.Notifier == nil {
		return
	}
	if err := w.Notifier.Notify(ctx, n); err != nil {
		w.Metrics.ObserveNotifyFailure(string(n.Kind))
		w.log().WithError(err).WithFields(logrus.Fields{
			"submission_id": n.SubmissionID,
			"kind":          n.Kind,
		}).Warn("notification failed")
	}
}
