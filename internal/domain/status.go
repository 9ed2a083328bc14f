package domain

// PublicationStatus is the submission-level workflow state.
type PublicationStatus string

const (
	StatusSubmissionReceived        PublicationStatus = "submission_received"
	StatusValidationInProgress      PublicationStatus = "validation_in_progress"
	StatusValidationFailed          PublicationStatus = "validation_failed"
	StatusValidationPassed          PublicationStatus = "validation_passed"
	StatusAwaitingReview            PublicationStatus = "awaiting_review"
	StatusInReview                  PublicationStatus = "in_review"
	StatusChangesRequested          PublicationStatus = "changes_requested"
	StatusApproved                  PublicationStatus = "approved"
	StatusBuildInProgress           PublicationStatus = "build_in_progress"
	StatusBuildFailed               PublicationStatus = "build_failed"
	StatusDeployingToStaging        PublicationStatus = "deploying_to_staging"
	StatusStagingVerificationFailed PublicationStatus = "staging_verification_failed"
	StatusDeployingToProduction     PublicationStatus = "deploying_to_production"
	StatusPublished                 PublicationStatus = "published"
	StatusPublicationFailed         PublicationStatus = "publication_failed"
	StatusRolledBack                PublicationStatus = "rolled_back"
)

// AllStatuses lists every publication status in lifecycle order.
var AllStatuses = []PublicationStatus{
	StatusSubmissionReceived,
	StatusValidationInProgress,
	StatusValidationFailed,
	StatusValidationPassed,
	StatusAwaitingReview,
	StatusInReview,
	StatusChangesRequested,
	StatusApproved,
	StatusBuildInProgress,
	StatusBuildFailed,
	StatusDeployingToStaging,
	StatusStagingVerificationFailed,
	StatusDeployingToProduction,
	StatusPublished,
	StatusPublicationFailed,
	StatusRolledBack,
}

// Valid reports whether s is a known status.
func (s PublicationStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// TicketStatus mirrors PublicationStatus at a coarser grain for operators.
type TicketStatus string

const (
	TicketCreated        TicketStatus = "created"
	TicketValidating     TicketStatus = "validating"
	TicketAwaitingReview TicketStatus = "awaiting_review"
	TicketInReview       TicketStatus = "in_review"
	TicketApproved       TicketStatus = "approved"
	TicketBuilding       TicketStatus = "building"
	TicketDeploying      TicketStatus = "deploying"
	TicketCompleted      TicketStatus = "completed"
	TicketFailed         TicketStatus = "failed"
)

// TicketStatusFor maps a submission status onto the ticket enum.
func TicketStatusFor(s PublicationStatus) TicketStatus {
	switch s {
	case StatusSubmissionReceived:
		return TicketCreated
	case StatusValidationInProgress, StatusValidationPassed:
		return TicketValidating
	case StatusAwaitingReview, StatusChangesRequested:
		return TicketAwaitingReview
	case StatusInReview:
		return TicketInReview
	case StatusApproved:
		return TicketApproved
	case StatusBuildInProgress:
		return TicketBuilding
	case StatusDeployingToStaging, StatusDeployingToProduction:
		return TicketDeploying
	case StatusPublished:
		return TicketCompleted
	default:
		return TicketFailed
	}
}
