package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternline/internal/db"
	"patternline/internal/domain"
	"patternline/internal/events"
	"patternline/internal/migrate"
	"patternline/internal/repo"
	"patternline/internal/validate"
	"patternline/internal/workflow"
)

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
}

var day1 = time.Date(2026, 2, 3, 8, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	v, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	latest, err := migrate.Latest()
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	return testEnv{Repo: repo.New(conn), Ctx: ctx}
}

func newSubmission(id string, at time.Time) domain.NewSubmission {
	return domain.NewSubmission{
		Pattern: domain.Pattern{
			ID:         id,
			Title:      "Title " + id,
			Scorecard:  &domain.Scorecard{Ownership: 4, TimeSLA: 4, Capacity: 4, Visibility: 4, CustomerLoop: 4, Escalation: 4, Handoffs: 4, Documentation: 4},
			Industries: []string{"Retail"},
		},
		AuthorID:    "author-1",
		AuthorEmail: "author@example.com",
		Metadata:    &domain.PatternMetadata{ActorCountAsIs: 3, ComplexityLevel: "Basic", ExtractedAt: at},
		Priority:    3,
		At:          at,
		Description: "Publication ticket created and added to validation queue",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	v, err := migrate.Migrate(env.Ctx, env.Repo.DB)
	require.NoError(t, err)
	current, err := migrate.Version(env.Ctx, env.Repo.DB)
	require.NoError(t, err)
	assert.Equal(t, v, current)
}

func TestCreateSubmissionAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)

	sub1, t1, ev, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p1", day1), "author-1")
	require.NoError(t, err)
	sub2, t2, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p2", day1.Add(time.Hour)), "author-1")
	require.NoError(t, err)
	sub3, t3, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p3", day1.AddDate(0, 0, 1)), "author-1")
	require.NoError(t, err)

	assert.Equal(t, "SUB-20260203-0001", sub1.ID)
	assert.Equal(t, "SUB-20260203-0002", sub2.ID)
	assert.Equal(t, "SUB-20260204-0001", sub3.ID)
	assert.Equal(t, "PUB-2026-001", t1.ID)
	assert.Equal(t, "PUB-2026-002", t2.ID)
	assert.Equal(t, "PUB-2026-003", t3.ID)
	assert.Equal(t, "ticket_created", ev.Type)
	assert.Equal(t, t1.ID, ev.TicketID)

	got, err := env.Repo.GetSubmission(env.Ctx, sub1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmissionReceived, got.Status)
	assert.Equal(t, "author@example.com", got.AuthorEmail)
	assert.Equal(t, 32, got.Pattern.Scorecard.Total())
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 3, got.Metadata.ActorCountAsIs)
	assert.True(t, day1.Equal(got.SubmittedAt))

	ticket, err := env.Repo.GetTicket(env.Ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCreated, ticket.Status)
	assert.Equal(t, sub1.ID, ticket.SubmissionID)
}

func TestStoredTimestampsShareOneLayout(t *testing.T) {
	env := newTestEnv(t)
	in := newSubmission("p1", day1.Add(1500*time.Millisecond))
	in.AuthorEmail = ""
	sub, ticket, _, err := env.Repo.CreateSubmission(env.Ctx, in, "")
	require.NoError(t, err)

	var submittedAt string
	var email sql.NullString
	require.NoError(t, env.Repo.DB.QueryRowContext(env.Ctx,
		`SELECT submitted_at, author_email FROM submissions WHERE id=?`, sub.ID).Scan(&submittedAt, &email))
	var ts string
	var actor sql.NullString
	require.NoError(t, env.Repo.DB.QueryRowContext(env.Ctx,
		`SELECT ts, actor_id FROM ticket_events WHERE ticket_id=?`, ticket.ID).Scan(&ts, &actor))

	want := day1.Add(1500 * time.Millisecond).Format(events.TimeLayout)
	assert.Equal(t, want, submittedAt)
	assert.Equal(t, want, ts)
	assert.False(t, email.Valid)
	assert.False(t, actor.Valid)
}

func TestGetMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Repo.GetSubmission(env.Ctx, "SUB-nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Repo.GetTicket(env.Ctx, "PUB-nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Repo.GetReport(env.Ctx, "SUB-nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestApplyTransitionGuardsStatus(t *testing.T) {
	env := newTestEnv(t)
	sub, ticket, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p1", day1), "a")
	require.NoError(t, err)

	change := domain.StatusChange{
		SubmissionID: sub.ID,
		TicketID:     ticket.ID,
		From:         domain.StatusSubmissionReceived,
		To:           domain.StatusValidationInProgress,
		EventType:    "validation_started",
		Description:  "Automated validation started",
		ActorID:      "ci",
		At:           day1.Add(time.Minute),
	}
	ev, err := env.Repo.ApplyTransition(env.Ctx, change)
	require.NoError(t, err)
	assert.Equal(t, "validation_started", ev.Type)

	// Replaying the same change must not overwrite the newer status.
	_, err = env.Repo.ApplyTransition(env.Ctx, change)
	assert.ErrorIs(t, err, repo.ErrStaleStatus)

	change.SubmissionID = "SUB-missing"
	_, err = env.Repo.ApplyTransition(env.Ctx, change)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	events, err := env.Repo.ListTicketEvents(env.Ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"ticket_created", "validation_started"}, []string{events[0].Type, events[1].Type})

	got, err := env.Repo.GetTicket(env.Ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketValidating, got.Status)
}

func TestReportStoredWithTransition(t *testing.T) {
	env := newTestEnv(t)
	sub, ticket, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p1", day1), "a")
	require.NoError(t, err)

	report := domain.ValidationReport{
		SubmissionID: sub.ID,
		GeneratedAt:  day1,
		OverallValid: true,
		Status:       domain.ReportReadyForReviewPriority,
		Scorecard: domain.ValidationResult{Type: "HQO Scorecard", ValidatedAt: day1, IsValid: true, Errors: []domain.ValidationError{
			{Field: "TotalScore", Message: "Total HQO score (32/40) is marginal", Severity: domain.SeverityMinor},
		}},
		NextSteps: []string{"Pattern has passed all validation checks"},
	}
	_, err = env.Repo.ApplyTransition(env.Ctx, domain.StatusChange{
		SubmissionID: sub.ID, TicketID: ticket.ID,
		From: domain.StatusSubmissionReceived, To: domain.StatusAwaitingReview,
		EventType: "validation_passed", Description: "Validation passed", Report: &report, At: day1,
	})
	require.NoError(t, err)

	got, err := env.Repo.GetReport(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Status, got.Status)
	assert.Equal(t, report.Scorecard.Errors, got.Scorecard.Errors)
	assert.True(t, got.Priority())
}

func TestListAndCount(t *testing.T) {
	env := newTestEnv(t)
	for i, id := range []string{"p1", "p2", "p3"} {
		_, _, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission(id, day1.Add(time.Duration(i)*time.Minute)), "a")
		require.NoError(t, err)
	}
	all, err := env.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilters{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p3", all[0].PatternID)

	one, err := env.Repo.ListSubmissions(env.Ctx, repo.SubmissionFilters{PatternID: "p2"})
	require.NoError(t, err)
	require.Len(t, one, 1)

	counts, err := env.Repo.CountByStatus(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.StatusSubmissionReceived])
}

func TestEventCursor(t *testing.T) {
	env := newTestEnv(t)
	latest, err := env.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	_, _, _, err = env.Repo.CreateSubmission(env.Ctx, newSubmission("p1", day1), "a")
	require.NoError(t, err)
	_, t2, _, err := env.Repo.CreateSubmission(env.Ctx, newSubmission("p2", day1), "a")
	require.NoError(t, err)
	_, err = env.Repo.AssignReviewer(env.Ctx, t2.ID, "rev-1", "router", day1)
	require.NoError(t, err)

	after, err := env.Repo.EventsAfter(env.Ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "routed_to_reviewer", after[1].Type)
	assert.Equal(t, "Assigned to reviewer rev-1", after[1].Description)

	latest, err = env.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, after[1].ID, latest)

	ticket, err := env.Repo.GetTicket(env.Ctx, t2.ID)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", ticket.ReviewerID)
}

func TestWorkflowOnSQLite(t *testing.T) {
	env := newTestEnv(t)
	v := validate.Validator{Rules: validate.DefaultRules(), Now: func() time.Time { return day1 }}
	wf := workflow.New(env.Repo, v, workflow.NewRoundRobin([]string{"rev-9"}), nil)
	wf.Now = func() time.Time { return day1 }

	p := domain.Pattern{
		ID: "p1", Title: "T", Hook: "H", ProblemDetail: "P",
		AsIsDiagram:         "participant A as Alpha\nA->>A: think\n",
		OrchestratedDiagram: "participant A as Alpha\nA->>A: act\n",
		DecisionPoint:       "D", Metrics: "M", Checklist: "C", ClosingInsight: "I",
		Scorecard:     &domain.Scorecard{Ownership: 5, TimeSLA: 5, Capacity: 5, Visibility: 5, CustomerLoop: 5, Escalation: 5, Handoffs: 5, Documentation: 5},
		Industries:    []string{"Healthcare"},
		BrokenSignals: []string{"Visibility"},
	}
	sub, ticket, err := wf.Submit(env.Ctx, workflow.SubmitOptions{Pattern: p, AuthorID: "author-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, ticket.Priority)

	report, err := wf.RunValidation(env.Ctx, sub.ID, "ci")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportReadyForReview, report.Status)

	status, err := wf.Advance(env.Ctx, sub.ID, workflow.ProductionDeployed(true))
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
	assert.Equal(t, domain.StatusAwaitingReview, status)

	status, err = wf.Advance(env.Ctx, sub.ID, workflow.ReviewStarted("rev-9"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInReview, status)

	events, err := env.Repo.ListTicketEvents(env.Ctx, ticket.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"ticket_created", "validation_started", "validation_passed", "routed_to_reviewer", "review_started"}, types)

	stored, err := env.Repo.GetReport(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.OverallValid)
}
