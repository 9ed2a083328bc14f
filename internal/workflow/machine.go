package workflow

import (
	"errors"
	"fmt"
	"strings"

	"patternline/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidEvent      = errors.New("invalid event")
)

// InvalidTransitionError is returned when an event is not accepted in the
// submission's current status.
type InvalidTransitionError struct {
	From  domain.PublicationStatus
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s on %s", e.From, e.Event)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Ticket event types recorded in the audit log.
const (
	EventTicketCreated                = "ticket_created"
	EventValidationStarted            = "validation_started"
	EventValidationPassed             = "validation_passed"
	EventValidationFailed             = "validation_failed"
	EventRoutedToReviewer             = "routed_to_reviewer"
	EventReviewStarted                = "review_started"
	EventReviewApproved               = "review_approved"
	EventReviewRejected               = "review_rejected"
	EventChangesRequested             = "changes_requested"
	EventChangesResubmitted           = "changes_resubmitted"
	EventBuildTriggered               = "build_triggered"
	EventBuildCompleted               = "build_completed"
	EventBuildFailed                  = "build_failed"
	EventStagingVerified              = "staging_verified"
	EventStagingVerificationFailed    = "staging_verification_failed"
	EventProductionDeploymentComplete = "production_deployment_completed"
	EventProductionDeploymentFailed   = "production_deployment_failed"
	EventRolledBack                   = "rolled_back"
)

// Transition is the outcome of applying an event to a status. Via lists
// statuses passed through on the way to To, in order.
type Transition struct {
	From        domain.PublicationStatus
	To          domain.PublicationStatus
	Via         []domain.PublicationStatus
	EventType   string
	Description string
}

// Next computes the transition for event in status without side effects.
func Next(from domain.PublicationStatus, ev Event) (Transition, error) {
	t := Transition{From: from}
	reject := func() (Transition, error) {
		return Transition{}, &InvalidTransitionError{From: from, Event: ev}
	}

	switch ev.Kind {
	case KindValidationStarted:
		if from != domain.StatusSubmissionReceived {
			return reject()
		}
		t.To, t.EventType, t.Description = domain.StatusValidationInProgress, EventValidationStarted, "Automated validation started"

	case KindValidationCompleted:
		if from != domain.StatusSubmissionReceived && from != domain.StatusValidationInProgress {
			return reject()
		}
		if ev.Report == nil {
			return Transition{}, fmt.Errorf("%w: validation completed without a report", ErrInvalidEvent)
		}
		if ev.Report.OverallValid {
			t.Via = []domain.PublicationStatus{domain.StatusValidationPassed}
			t.To, t.EventType = domain.StatusAwaitingReview, EventValidationPassed
			t.Description = fmt.Sprintf("Validation passed (%s)", ev.Report.Status)
		} else {
			t.To, t.EventType = domain.StatusValidationFailed, EventValidationFailed
			t.Description = fmt.Sprintf("Validation failed with %d critical issue(s)", criticalCount(*ev.Report))
		}

	case KindReviewStarted:
		if from != domain.StatusAwaitingReview {
			return reject()
		}
		t.To, t.EventType = domain.StatusInReview, EventReviewStarted
		t.Description = reviewerDescription("Review started", ev.Reviewer)

	case KindReviewDecision:
		if from != domain.StatusInReview {
			return reject()
		}
		switch ev.Outcome {
		case OutcomeApproved:
			t.To, t.EventType = domain.StatusApproved, EventReviewApproved
			t.Description = reviewerDescription("Pattern approved", ev.Reviewer)
		case OutcomeRejected:
			t.To, t.EventType = domain.StatusValidationFailed, EventReviewRejected
			t.Description = reviewerDescription("Pattern rejected", ev.Reviewer)
		case OutcomeChangesRequested:
			t.To, t.EventType = domain.StatusChangesRequested, EventChangesRequested
			t.Description = reviewerDescription("Changes requested", ev.Reviewer)
		default:
			return Transition{}, fmt.Errorf("%w: review decision outcome %q", ErrInvalidEvent, ev.Outcome)
		}
		t.Description += feedbackSummary(ev.Feedback)

	case KindChangesResubmitted:
		if from != domain.StatusChangesRequested {
			return reject()
		}
		t.To, t.EventType, t.Description = domain.StatusAwaitingReview, EventChangesResubmitted, "Author resubmitted changes for review"

	case KindBuildStarted:
		if from != domain.StatusApproved && from != domain.StatusBuildFailed {
			return reject()
		}
		t.To, t.EventType, t.Description = domain.StatusBuildInProgress, EventBuildTriggered, "Build triggered for approved pattern"

	case KindBuildCompleted:
		if from != domain.StatusBuildInProgress {
			return reject()
		}
		if ok, err := outcomeOK(ev); err != nil {
			return Transition{}, err
		} else if ok {
			t.To, t.EventType, t.Description = domain.StatusDeployingToStaging, EventBuildCompleted, "Build succeeded, deploying to staging"
		} else {
			t.To, t.EventType, t.Description = domain.StatusBuildFailed, EventBuildFailed, "Build failed"
		}

	case KindStagingVerified:
		if from != domain.StatusDeployingToStaging {
			return reject()
		}
		if ok, err := outcomeOK(ev); err != nil {
			return Transition{}, err
		} else if ok {
			t.To, t.EventType, t.Description = domain.StatusDeployingToProduction, EventStagingVerified, "Staging verified, deploying to production"
		} else {
			t.To, t.EventType, t.Description = domain.StatusStagingVerificationFailed, EventStagingVerificationFailed, "Staging verification failed"
		}

	case KindProductionDeployed:
		if from != domain.StatusDeployingToProduction {
			return reject()
		}
		if ok, err := outcomeOK(ev); err != nil {
			return Transition{}, err
		} else if ok {
			t.To, t.EventType, t.Description = domain.StatusPublished, EventProductionDeploymentComplete, "Pattern published to production"
		} else {
			t.To, t.EventType, t.Description = domain.StatusPublicationFailed, EventProductionDeploymentFailed, "Production deployment failed"
		}

	case KindRollbackRequested:
		if from != domain.StatusPublished && from != domain.StatusPublicationFailed {
			return reject()
		}
		t.To, t.EventType, t.Description = domain.StatusRolledBack, EventRolledBack, "Publication rolled back"

	default:
		return Transition{}, fmt.Errorf("%w: unknown event kind %q", ErrInvalidEvent, ev.Kind)
	}
	return t, nil
}

func outcomeOK(ev Event) (bool, error) {
	switch ev.Outcome {
	case OutcomeSuccess:
		return true, nil
	case OutcomeFailure:
		return false, nil
	}
	return false, fmt.Errorf("%w: %s outcome %q", ErrInvalidEvent, ev.Kind, ev.Outcome)
}

func reviewerDescription(prefix, reviewer string) string {
	if reviewer == "" {
		return prefix
	}
	return prefix + " by " + reviewer
}

// feedbackSummary renders reviewer comments as "[section/Severity] comment".
func feedbackSummary(items []domain.ReviewFeedback) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, f := range items {
		section := f.Section
		if section == "" {
			section = "general"
		}
		parts = append(parts, fmt.Sprintf("[%s/%s] %s", section, f.Severity, f.Comment))
	}
	return fmt.Sprintf(" with %d feedback item(s): %s", len(items), strings.Join(parts, "; "))
}

func criticalCount(r domain.ValidationReport) int {
	n := 0
	for _, res := range []domain.ValidationResult{r.Schema, r.Scorecard, r.Diagram} {
		n += len(res.BySeverity(domain.SeverityCritical))
	}
	return n
}

// Terminal reports whether no event can move the submission any further.
func Terminal(s domain.PublicationStatus) bool {
	switch s {
	case domain.StatusValidationFailed, domain.StatusStagingVerificationFailed, domain.StatusRolledBack:
		return true
	}
	return false
}
