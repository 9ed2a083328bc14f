package notify

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"patternline/internal/validate"
)

// Console logs notifications. Validation reports are rendered in full at
// debug level.
type Console struct {
	Log *logrus.Entry
}

func NewConsole(log *logrus.Entry) Console {
	return Console{Log: log}
}

func (c Console) Notify(_ context.Context, n Notification) error {
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{
		"kind":          n.Kind,
		"submission_id": n.SubmissionID,
		"ticket_id":     n.TicketID,
	})
	switch n.Kind {
	case KindAcknowledged:
		log.WithFields(logrus.Fields{"author_id": n.AuthorID, "priority": n.Priority}).
			Info("submission received and queued for validation")
	case KindValidationReport:
		if n.Report == nil {
			return nil
		}
		log.WithFields(logrus.Fields{"status": n.Report.Status, "overall_valid": n.Report.OverallValid}).
			Info("validation report ready")
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			log.Debug("\n" + strings.TrimRight(validate.Markdown(*n.Report), "\n"))
		}
	case KindStatusChanged:
		fields := logrus.Fields{"from": n.From, "to": n.To}
		if n.Event != nil {
			fields["event"] = n.Event.Type
			fields["actor_id"] = n.Event.ActorID
		}
		log.WithFields(fields).Info("status changed")
		for _, f := range n.Feedback {
			log.WithFields(logrus.Fields{
				"section":  f.Section,
				"severity": f.Severity,
			}).Info("reviewer feedback: " + f.Comment)
		}
	case KindReviewerAssigned:
		log.WithField("reviewer_id", n.ReviewerID).Info("reviewer assigned")
	default:
		log.Warn("unknown notification kind")
	}
	return nil
}
