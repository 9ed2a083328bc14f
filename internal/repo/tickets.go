package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"patternline/internal/domain"
)

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var t domain.Ticket
	var createdAt, status string
	var reviewer sql.NullString
	err := row.Scan(&t.ID, &t.SubmissionID, &createdAt, &status, &t.Priority, &reviewer)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.Status = domain.TicketStatus(status)
	if reviewer.Valid {
		t.ReviewerID = reviewer.String
	}
	return t, nil
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return scanTicket(r.DB.QueryRowContext(ctx, `SELECT id,submission_id,created_at,status,priority,reviewer_id FROM tickets WHERE id=?`, id))
}

// AssignReviewer records the routed reviewer on the ticket without changing
// the workflow status.
func (r Repo) AssignReviewer(ctx context.Context, ticketID, reviewerID, actorID string, at time.Time) (domain.TicketEvent, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TicketEvent{}, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE tickets SET reviewer_id=? WHERE id=?`, reviewerID, ticketID)
	if err != nil {
		return domain.TicketEvent{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.TicketEvent{}, ErrNotFound
	}
	ev, err := r.Events.Append(ctx, tx, ticketID, "routed_to_reviewer", fmt.Sprintf("Assigned to reviewer %s", reviewerID), actorID, at)
	if err != nil {
		return domain.TicketEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TicketEvent{}, err
	}
	return ev, nil
}

// ListTicketEvents returns a ticket's audit log oldest first.
func (r Repo) ListTicketEvents(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ticket_id,ts,type,description,COALESCE(actor_id,'') FROM ticket_events WHERE ticket_id=? ORDER BY id ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter pages through the whole event log by id, for delivery cursors.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.TicketEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ticket_id,ts,type,description,COALESCE(actor_id,'') FROM ticket_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM ticket_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func scanEvents(rows *sql.Rows) ([]domain.TicketEvent, error) {
	defer rows.Close()
	var res []domain.TicketEvent
	for rows.Next() {
		var e domain.TicketEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.TicketID, &ts, &e.Type, &e.Description, &e.ActorID); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		res = append(res, e)
	}
	return res, rows.Err()
}
