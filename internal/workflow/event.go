package workflow

import (
	"fmt"
	"strings"

	"patternline/internal/domain"
)

type EventKind string

const (
	KindValidationStarted   EventKind = "validation_started"
	KindValidationCompleted EventKind = "validation_completed"
	KindReviewStarted       EventKind = "review_started"
	KindReviewDecision      EventKind = "review_decision"
	KindChangesResubmitted  EventKind = "changes_resubmitted"
	KindBuildStarted        EventKind = "build_started"
	KindBuildCompleted      EventKind = "build_completed"
	KindStagingVerified     EventKind = "staging_verified"
	KindProductionDeployed  EventKind = "production_deployed"
	KindRollbackRequested   EventKind = "rollback_requested"
)

type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeRejected         Outcome = "rejected"
	OutcomeChangesRequested Outcome = "changes_requested"
	OutcomeSuccess          Outcome = "success"
	OutcomeFailure          Outcome = "failure"
)

// Event is a command applied to a submission's workflow.
type Event struct {
	Kind     EventKind
	Outcome  Outcome
	Reviewer string
	Actor    string
	Report   *domain.ValidationReport
	Feedback []domain.ReviewFeedback
}

func (e Event) String() string {
	if e.Outcome != "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Outcome)
	}
	return string(e.Kind)
}

func ValidationStarted() Event { return Event{Kind: KindValidationStarted} }

func ValidationCompleted(report domain.ValidationReport) Event {
	return Event{Kind: KindValidationCompleted, Report: &report}
}

func ReviewStarted(reviewer string) Event {
	return Event{Kind: KindReviewStarted, Reviewer: reviewer}
}

func ReviewDecision(outcome Outcome, reviewer string, feedback ...domain.ReviewFeedback) Event {
	return Event{Kind: KindReviewDecision, Outcome: outcome, Reviewer: reviewer, Feedback: feedback}
}

func ChangesResubmitted() Event { return Event{Kind: KindChangesResubmitted} }

func BuildStarted() Event { return Event{Kind: KindBuildStarted} }

func BuildCompleted(success bool) Event {
	return Event{Kind: KindBuildCompleted, Outcome: successOutcome(success)}
}

func StagingVerified(passed bool) Event {
	return Event{Kind: KindStagingVerified, Outcome: successOutcome(passed)}
}

func ProductionDeployed(success bool) Event {
	return Event{Kind: KindProductionDeployed, Outcome: successOutcome(success)}
}

func RollbackRequested() Event { return Event{Kind: KindRollbackRequested} }

func successOutcome(ok bool) Outcome {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// ParseEvent builds an externally triggered event from its wire form.
// Validation events are produced by RunValidation and cannot be parsed.
// Feedback is only accepted with a review decision.
func ParseEvent(kind, outcome, reviewer string, feedback ...domain.ReviewFeedback) (Event, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(kind)))
	o := Outcome(strings.ToLower(strings.TrimSpace(outcome)))
	if len(feedback) > 0 && k != KindReviewDecision {
		return Event{}, fmt.Errorf("%w: %s does not take feedback", ErrInvalidEvent, k)
	}
	switch k {
	case KindReviewStarted:
		if reviewer == "" {
			return Event{}, fmt.Errorf("%w: %s requires a reviewer", ErrInvalidEvent, k)
		}
		return ReviewStarted(reviewer), nil
	case KindReviewDecision:
		switch o {
		case OutcomeApproved, OutcomeRejected, OutcomeChangesRequested:
			items, err := parseFeedback(feedback)
			if err != nil {
				return Event{}, err
			}
			return ReviewDecision(o, reviewer, items...), nil
		}
		return Event{}, fmt.Errorf("%w: review decision outcome %q (want approved, rejected or changes_requested)", ErrInvalidEvent, outcome)
	case KindChangesResubmitted:
		return ChangesResubmitted(), nil
	case KindBuildStarted:
		return BuildStarted(), nil
	case KindRollbackRequested:
		return RollbackRequested(), nil
	case KindBuildCompleted, KindStagingVerified, KindProductionDeployed:
		ok, err := parseSuccess(o)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s outcome %q", ErrInvalidEvent, k, outcome)
		}
		return Event{Kind: k, Outcome: successOutcome(ok)}, nil
	case KindValidationStarted, KindValidationCompleted:
		return Event{}, fmt.Errorf("%w: %s is raised by running validation", ErrInvalidEvent, k)
	}
	return Event{}, fmt.Errorf("%w: unknown event %q", ErrInvalidEvent, kind)
}

func parseFeedback(in []domain.ReviewFeedback) ([]domain.ReviewFeedback, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.ReviewFeedback, 0, len(in))
	for i, f := range in {
		f.Section = strings.TrimSpace(f.Section)
		f.Comment = strings.TrimSpace(f.Comment)
		if f.Comment == "" {
			return nil, fmt.Errorf("%w: feedback %d has no comment", ErrInvalidEvent, i+1)
		}
		switch strings.ToLower(strings.TrimSpace(string(f.Severity))) {
		case "critical":
			f.Severity = domain.SeverityCritical
		case "major":
			f.Severity = domain.SeverityMajor
		case "minor", "":
			f.Severity = domain.SeverityMinor
		default:
			return nil, fmt.Errorf("%w: feedback %d severity %q (want Critical, Major or Minor)", ErrInvalidEvent, i+1, f.Severity)
		}
		out = append(out, f)
	}
	return out, nil
}

func parseSuccess(o Outcome) (bool, error) {
	switch o {
	case OutcomeSuccess, "passed", "pass", "ok":
		return true, nil
	case OutcomeFailure, "failed", "fail":
		return false, nil
	}
	return false, fmt.Errorf("unknown outcome %q", o)
}
