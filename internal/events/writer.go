package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"patternline/internal/domain"
)

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Nullable maps an empty string to SQL NULL.
func Nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Writer appends ticket events inside the caller's transaction so the audit
// entry commits or rolls back together with the change it records.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ticketID, evtType, description, actorID string, at time.Time) (domain.TicketEvent, error) {
	if ticketID == "" || evtType == "" {
		return domain.TicketEvent{}, errors.New("ticket event requires ticket id and type")
	}
	if at.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		at = w.Now()
	}
	at = at.UTC()
	res, err := tx.ExecContext(ctx, `INSERT INTO ticket_events(ticket_id,ts,type,description,actor_id) VALUES (?,?,?,?,?)`,
		ticketID, at.Format(TimeLayout), evtType, description, Nullable(actorID))
	if err != nil {
		return domain.TicketEvent{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.TicketEvent{}, err
	}
	return domain.TicketEvent{
		ID:          id,
		TicketID:    ticketID,
		Timestamp:   at,
		Type:        evtType,
		Description: description,
		ActorID:     actorID,
	}, nil
}
