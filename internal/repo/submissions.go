package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"patternline/internal/domain"
	"patternline/internal/events"
)

const submissionColumns = `id,pattern_id,author_id,COALESCE(author_email,''),submitted_at,updated_at,status,pattern_json,COALESCE(metadata_json,''),ticket_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (domain.Submission, error) {
	var s domain.Submission
	var submittedAt, updatedAt, status, patternJSON, metaJSON string
	err := row.Scan(&s.ID, &s.PatternID, &s.AuthorID, &s.AuthorEmail, &submittedAt, &updatedAt, &status, &patternJSON, &metaJSON, &s.TicketID)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.SubmittedAt = parseTime(submittedAt)
	s.UpdatedAt = parseTime(updatedAt)
	s.Status = domain.PublicationStatus(status)
	if err := json.Unmarshal([]byte(patternJSON), &s.Pattern); err != nil {
		return s, fmt.Errorf("decode pattern for %s: %w", s.ID, err)
	}
	if metaJSON != "" {
		var md domain.PatternMetadata
		if err := json.Unmarshal([]byte(metaJSON), &md); err != nil {
			return s, fmt.Errorf("decode metadata for %s: %w", s.ID, err)
		}
		s.Metadata = &md
	}
	return s, nil
}

// CreateSubmission assigns submission and ticket ids and stores both along
// with the ticket_created event.
func (r Repo) CreateSubmission(ctx context.Context, in domain.NewSubmission, actorID string) (domain.Submission, domain.Ticket, domain.TicketEvent, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	defer tx.Rollback()

	subID, err := submissionID(ctx, tx, in.At)
	if err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	tID, err := ticketID(ctx, tx, in.At)
	if err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	sub := domain.Submission{
		ID:          subID,
		PatternID:   in.Pattern.ID,
		AuthorID:    in.AuthorID,
		AuthorEmail: in.AuthorEmail,
		SubmittedAt: in.At.UTC(),
		UpdatedAt:   in.At.UTC(),
		Status:      domain.StatusSubmissionReceived,
		Pattern:     in.Pattern,
		Metadata:    in.Metadata,
		TicketID:    tID,
	}
	ticket := domain.Ticket{
		ID:           tID,
		SubmissionID: subID,
		CreatedAt:    in.At.UTC(),
		Status:       domain.TicketStatusFor(sub.Status),
		Priority:     in.Priority,
	}
	if err := r.insertSubmissionTx(ctx, tx, sub); err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO tickets(id,submission_id,created_at,status,priority,reviewer_id) VALUES (?,?,?,?,?,NULL)`,
		ticket.ID, ticket.SubmissionID, formatTime(ticket.CreatedAt), string(ticket.Status), ticket.Priority); err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, fmt.Errorf("insert ticket: %w", err)
	}
	ev, err := r.Events.Append(ctx, tx, ticket.ID, "ticket_created", in.Description, actorID, in.At)
	if err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, domain.Ticket{}, domain.TicketEvent{}, err
	}
	return sub, ticket, ev, nil
}

func (r Repo) insertSubmissionTx(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	patternJSON, err := json.Marshal(s.Pattern)
	if err != nil {
		return fmt.Errorf("encode pattern: %w", err)
	}
	var metaJSON any
	if s.Metadata != nil {
		data, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metaJSON = string(data)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions(id,pattern_id,author_id,author_email,submitted_at,updated_at,status,pattern_json,metadata_json,ticket_id)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.PatternID, s.AuthorID, events.Nullable(s.AuthorEmail), formatTime(s.SubmittedAt), formatTime(s.UpdatedAt),
		string(s.Status), string(patternJSON), metaJSON, s.TicketID)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r Repo) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return scanSubmission(r.DB.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

// SubmissionFilters narrow ListSubmissions. Zero values match everything.
type SubmissionFilters struct {
	Status    domain.PublicationStatus
	PatternID string
	AuthorID  string
	Limit     int
}

func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.PatternID != "" {
		clauses = append(clauses, "pattern_id=?")
		args = append(args, f.PatternID)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE %s ORDER BY submitted_at DESC, id DESC LIMIT ?`,
		submissionColumns, strings.Join(clauses, " AND "))
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountByStatus returns the number of submissions per status.
func (r Repo) CountByStatus(ctx context.Context) (map[domain.PublicationStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.PublicationStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.PublicationStatus(status)] = n
	}
	return res, rows.Err()
}

// ApplyTransition moves the submission from change.From to change.To,
// mirrors the ticket status, stores the report if any and appends the audit
// event, all in one transaction. ErrStaleStatus is returned when the stored
// status is no longer change.From.
func (r Repo) ApplyTransition(ctx context.Context, change domain.StatusChange) (domain.TicketEvent, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TicketEvent{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE submissions SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(change.To), formatTime(change.At), change.SubmissionID, string(change.From))
	if err != nil {
		return domain.TicketEvent{}, fmt.Errorf("update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id=?`, change.SubmissionID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TicketEvent{}, ErrNotFound
		}
		if err != nil {
			return domain.TicketEvent{}, err
		}
		return domain.TicketEvent{}, fmt.Errorf("%w: %s is %s, expected %s", ErrStaleStatus, change.SubmissionID, current, change.From)
	}

	ticketStatus := string(domain.TicketStatusFor(change.To))
	if change.ReviewerID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE tickets SET status=?, reviewer_id=? WHERE id=?`, ticketStatus, change.ReviewerID, change.TicketID)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE tickets SET status=? WHERE id=?`, ticketStatus, change.TicketID)
	}
	if err != nil {
		return domain.TicketEvent{}, fmt.Errorf("update ticket: %w", err)
	}
	if change.Report != nil {
		if err := r.saveReportTx(ctx, tx, *change.Report); err != nil {
			return domain.TicketEvent{}, err
		}
	}
	ev, err := r.Events.Append(ctx, tx, change.TicketID, change.EventType, change.Description, change.ActorID, change.At)
	if err != nil {
		return domain.TicketEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TicketEvent{}, err
	}
	return ev, nil
}
