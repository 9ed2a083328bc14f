package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"patternline/internal/events"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Writer{}}
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleStatus means the stored status moved on since it was read.
	ErrStaleStatus = errors.New("stale status")
)

// nextSequence bumps and returns the counter for scope.
func nextSequence(ctx context.Context, tx *sql.Tx, scope string) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx, `INSERT INTO id_sequences(scope,value) VALUES (?,1)
ON CONFLICT(scope) DO UPDATE SET value=value+1 RETURNING value`, scope).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, err)
	}
	return v, nil
}

// submissionID is SUB-YYYYMMDD-NNNN, counted per day.
func submissionID(ctx context.Context, tx *sql.Tx, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")
	n, err := nextSequence(ctx, tx, "SUB-"+day)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SUB-%s-%04d", day, n), nil
}

// ticketID is PUB-YYYY-NNN, counted per year.
func ticketID(ctx context.Context, tx *sql.Tx, at time.Time) (string, error) {
	year := at.UTC().Year()
	n, err := nextSequence(ctx, tx, fmt.Sprintf("PUB-%d", year))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PUB-%d-%03d", year, n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(events.TimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
