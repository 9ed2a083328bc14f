package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternline/internal/domain"
	"patternline/internal/notify"
	"patternline/internal/validate"
)

var errNotFound = errors.New("not found")

// memStore is an in-memory Store with the same stale-status guard as the
// SQL repository.
type memStore struct {
	mu          sync.Mutex
	seq         int
	submissions map[string]domain.Submission
	tickets     map[string]domain.Ticket
	reports     map[string]domain.ValidationReport
	events      []domain.TicketEvent
}

func newMemStore() *memStore {
	return &memStore{
		submissions: map[string]domain.Submission{},
		tickets:     map[string]domain.Ticket{},
		reports:     map[string]domain.ValidationReport{},
	}
}

func (m *memStore) appendEvent(ticketID, typ, desc, actor string, at time.Time) domain.TicketEvent {
	ev := domain.TicketEvent{ID: int64(len(m.events) + 1), TicketID: ticketID, Timestamp: at, Type: typ, Description: desc, ActorID: actor}
	m.events = append(m.events, ev)
	return ev
}

func (m *memStore) CreateSubmission(_ context.Context, in domain.NewSubmission, actorID string) (domain.Submission, domain.Ticket, domain.TicketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	sub := domain.Submission{
		ID:          fmt.Sprintf("SUB-%s-%04d", in.At.Format("20060102"), m.seq),
		PatternID:   in.Pattern.ID,
		AuthorID:    in.AuthorID,
		AuthorEmail: in.AuthorEmail,
		SubmittedAt: in.At,
		UpdatedAt:   in.At,
		Status:      domain.StatusSubmissionReceived,
		Pattern:     in.Pattern,
		Metadata:    in.Metadata,
		TicketID:    fmt.Sprintf("PUB-%d-%03d", in.At.Year(), m.seq),
	}
	ticket := domain.Ticket{ID: sub.TicketID, SubmissionID: sub.ID, CreatedAt: in.At, Status: domain.TicketCreated, Priority: in.Priority}
	m.submissions[sub.ID] = sub
	m.tickets[ticket.ID] = ticket
	ev := m.appendEvent(ticket.ID, EventTicketCreated, in.Description, actorID, in.At)
	return sub, ticket, ev, nil
}

func (m *memStore) GetSubmission(_ context.Context, id string) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[id]
	if !ok {
		return domain.Submission{}, errNotFound
	}
	return sub, nil
}

func (m *memStore) GetTicket(_ context.Context, id string) (domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return domain.Ticket{}, errNotFound
	}
	return t, nil
}

func (m *memStore) ApplyTransition(_ context.Context, c domain.StatusChange) (domain.TicketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[c.SubmissionID]
	if !ok {
		return domain.TicketEvent{}, errNotFound
	}
	if sub.Status != c.From {
		return domain.TicketEvent{}, fmt.Errorf("stale status %s", sub.Status)
	}
	sub.Status = c.To
	sub.UpdatedAt = c.At
	m.submissions[sub.ID] = sub
	t := m.tickets[c.TicketID]
	t.Status = domain.TicketStatusFor(c.To)
	if c.ReviewerID != "" {
		t.ReviewerID = c.ReviewerID
	}
	m.tickets[t.ID] = t
	if c.Report != nil {
		m.reports[c.Report.SubmissionID] = *c.Report
	}
	return m.appendEvent(c.TicketID, c.EventType, c.Description, c.ActorID, c.At), nil
}

func (m *memStore) AssignReviewer(_ context.Context, ticketID, reviewerID, actorID string, at time.Time) (domain.TicketEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tickets[ticketID]
	t.ReviewerID = reviewerID
	m.tickets[ticketID] = t
	return m.appendEvent(ticketID, EventRoutedToReviewer, "Assigned to reviewer "+reviewerID, actorID, at), nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
	all   []notify.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, n.Kind)
	r.all = append(r.all, n)
	return r.err
}

var testNow = time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)

const diagramText = "sequenceDiagram\n    participant A as Alice\n    participant B as Bob\n    A->>B: Hello\n    B-->>A: Hi\n"

func samplePattern(score int) domain.Pattern {
	return domain.Pattern{
		ID: "handoff", Title: "Handoff", Hook: "Hook", ProblemDetail: "Problem",
		AsIsDiagram: diagramText, OrchestratedDiagram: diagramText,
		DecisionPoint: "Decide", Metrics: "Measure", Checklist: "Check", ClosingInsight: "Close",
		Scorecard: &domain.Scorecard{
			Ownership: score, TimeSLA: score, Capacity: score, Visibility: score,
			CustomerLoop: score, Escalation: score, Handoffs: score, Documentation: score,
		},
		Industries:    []string{"Finance"},
		BrokenSignals: []string{"Handoffs"},
	}
}

type fixture struct {
	wf    Workflow
	store *memStore
	note  *recordingNotifier
	ctx   context.Context
}

func newFixture(t *testing.T, reviewers ...string) fixture {
	t.Helper()
	store := newMemStore()
	note := &recordingNotifier{}
	v := validate.Validator{Rules: validate.DefaultRules(), Now: func() time.Time { return testNow }}
	wf := New(store, v, NewRoundRobin(reviewers), note)
	wf.Now = func() time.Time { return testNow }
	return fixture{wf: wf, store: store, note: note, ctx: context.Background()}
}

func (f fixture) submit(t *testing.T, p domain.Pattern) domain.Submission {
	t.Helper()
	sub, _, err := f.wf.Submit(f.ctx, SubmitOptions{Pattern: p, AuthorID: "author-1", ActorID: "author-1"})
	require.NoError(t, err)
	return sub
}

func TestSubmitCreatesTicket(t *testing.T) {
	f := newFixture(t)
	sub, ticket, err := f.wf.Submit(f.ctx, SubmitOptions{Pattern: samplePattern(5), AuthorID: "author-1"})
	require.NoError(t, err)

	assert.Equal(t, "SUB-20260506-0001", sub.ID)
	assert.Equal(t, domain.StatusSubmissionReceived, sub.Status)
	assert.Equal(t, 2, ticket.Priority)
	require.NotNil(t, sub.Metadata)
	assert.Equal(t, 2, sub.Metadata.ActorCountAsIs)
	assert.Equal(t, []string{EventTicketCreated}, f.store.eventTypes())
	assert.Equal(t, []notify.Kind{notify.KindAcknowledged}, f.note.kinds)
}

func TestSubmitRequiresPatternID(t *testing.T) {
	f := newFixture(t)
	p := samplePattern(5)
	p.ID = "  "
	_, _, err := f.wf.Submit(f.ctx, SubmitOptions{Pattern: p, AuthorID: "a"})
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.Empty(t, f.store.eventTypes())
}

func TestRunValidationPassRoutesReviewer(t *testing.T) {
	f := newFixture(t, "rev-1", "rev-2")
	sub := f.submit(t, samplePattern(4))

	report, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportReadyForReviewPriority, report.Status)

	got, err := f.store.GetSubmission(f.ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingReview, got.Status)

	ticket, err := f.store.GetTicket(f.ctx, sub.TicketID)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", ticket.ReviewerID)
	assert.Equal(t, domain.TicketAwaitingReview, ticket.Status)

	assert.Equal(t, []string{EventTicketCreated, EventValidationStarted, EventValidationPassed, EventRoutedToReviewer}, f.store.eventTypes())
	assert.Equal(t, report, f.store.reports[sub.ID])
	assert.Equal(t, []notify.Kind{
		notify.KindAcknowledged, notify.KindStatusChanged, notify.KindStatusChanged,
		notify.KindValidationReport, notify.KindReviewerAssigned,
	}, f.note.kinds)
}

func TestRunValidationFailure(t *testing.T) {
	f := newFixture(t, "rev-1")
	p := samplePattern(5)
	p.Hook = ""
	sub := f.submit(t, p)

	report, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)
	assert.False(t, report.OverallValid)

	got, _ := f.store.GetSubmission(f.ctx, sub.ID)
	assert.Equal(t, domain.StatusValidationFailed, got.Status)
	ticket, _ := f.store.GetTicket(f.ctx, sub.TicketID)
	assert.Equal(t, domain.TicketFailed, ticket.Status)
	assert.Empty(t, ticket.ReviewerID)

	// no in-place retry
	_, err = f.wf.RunValidation(f.ctx, sub.ID, "ci")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAdvanceFullLifecycle(t *testing.T) {
	f := newFixture(t, "rev-1")
	sub := f.submit(t, samplePattern(5))
	_, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)

	for _, step := range []struct {
		ev   Event
		want domain.PublicationStatus
	}{
		{ReviewStarted("rev-1"), domain.StatusInReview},
		{ReviewDecision(OutcomeChangesRequested, "rev-1"), domain.StatusChangesRequested},
		{ChangesResubmitted(), domain.StatusAwaitingReview},
		{ReviewStarted("rev-1"), domain.StatusInReview},
		{ReviewDecision(OutcomeApproved, "rev-1"), domain.StatusApproved},
		{BuildStarted(), domain.StatusBuildInProgress},
		{BuildCompleted(false), domain.StatusBuildFailed},
		{BuildStarted(), domain.StatusBuildInProgress},
		{BuildCompleted(true), domain.StatusDeployingToStaging},
		{StagingVerified(true), domain.StatusDeployingToProduction},
		{ProductionDeployed(true), domain.StatusPublished},
	} {
		status, err := f.wf.Advance(f.ctx, sub.ID, step.ev)
		require.NoError(t, err, step.ev.String())
		assert.Equal(t, step.want, status)
	}
	ticket, _ := f.store.GetTicket(f.ctx, sub.TicketID)
	assert.Equal(t, domain.TicketCompleted, ticket.Status)
}

func TestAdvanceValidationCompletedHandsOffLikeRunValidation(t *testing.T) {
	f := newFixture(t, "rev-1")
	a := f.submit(t, samplePattern(4))
	b := f.submit(t, samplePattern(4))

	forB, err := f.wf.Validator.Run(f.ctx, b.ID, b.Pattern)
	require.NoError(t, err)
	before := f.store.eventTypes()
	_, err = f.wf.Advance(f.ctx, a.ID, ValidationCompleted(forB))
	require.ErrorIs(t, err, ErrInvalidEvent)
	gotA, _ := f.store.GetSubmission(f.ctx, a.ID)
	assert.Equal(t, domain.StatusSubmissionReceived, gotA.Status)
	assert.Empty(t, f.store.reports)
	assert.Equal(t, before, f.store.eventTypes())

	unowned, err := f.wf.Validator.Run(f.ctx, "", a.Pattern)
	require.NoError(t, err)
	status, err := f.wf.Advance(f.ctx, a.ID, ValidationCompleted(unowned))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingReview, status)

	require.Contains(t, f.store.reports, a.ID)
	assert.Equal(t, a.ID, f.store.reports[a.ID].SubmissionID)
	assert.NotContains(t, f.store.reports, b.ID)
	ticket, _ := f.store.GetTicket(f.ctx, a.TicketID)
	assert.Equal(t, "rev-1", ticket.ReviewerID)
	assert.Equal(t, []notify.Kind{notify.KindValidationReport, notify.KindReviewerAssigned}, f.note.kinds[len(f.note.kinds)-2:])
}

func TestReviewFeedbackReachesAuditAndAuthor(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, samplePattern(5))
	_, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)
	_, err = f.wf.Advance(f.ctx, sub.ID, ReviewStarted("rev-1"))
	require.NoError(t, err)

	feedback := []domain.ReviewFeedback{{Section: "checklist", Severity: domain.SeverityCritical, Comment: "Steps are missing"}}
	status, err := f.wf.Advance(f.ctx, sub.ID, ReviewDecision(OutcomeRejected, "rev-1", feedback...))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidationFailed, status)

	last := f.store.events[len(f.store.events)-1]
	assert.Equal(t, EventReviewRejected, last.Type)
	assert.Equal(t, "Pattern rejected by rev-1 with 1 feedback item(s): [checklist/Critical] Steps are missing", last.Description)

	n := f.note.all[len(f.note.all)-1]
	assert.Equal(t, notify.KindStatusChanged, n.Kind)
	assert.Equal(t, feedback, n.Feedback)
}

func TestAdvanceIllegalEventLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, samplePattern(5))
	_, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)
	for _, ev := range []Event{ReviewStarted("r"), ReviewDecision(OutcomeApproved, "r")} {
		_, err := f.wf.Advance(f.ctx, sub.ID, ev)
		require.NoError(t, err)
	}
	before := f.store.eventTypes()

	status, err := f.wf.Advance(f.ctx, sub.ID, ProductionDeployed(true))
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StatusApproved, status)

	got, _ := f.store.GetSubmission(f.ctx, sub.ID)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, before, f.store.eventTypes())
}

func TestAdvanceUnknownSubmission(t *testing.T) {
	f := newFixture(t)
	_, err := f.wf.Advance(f.ctx, "SUB-missing", BuildStarted())
	assert.ErrorIs(t, err, errNotFound)
}

func TestNotificationFailureDoesNotUndoTransition(t *testing.T) {
	f := newFixture(t)
	f.note.err = errors.New("smtp down")
	sub := f.submit(t, samplePattern(5))

	_, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)
	got, _ := f.store.GetSubmission(f.ctx, sub.ID)
	assert.Equal(t, domain.StatusAwaitingReview, got.Status)
}

func TestConcurrentAdvanceSerializesPerSubmission(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, samplePattern(5))
	_, err := f.wf.RunValidation(f.ctx, sub.ID, "ci")
	require.NoError(t, err)

	// Only one of the racing ReviewStarted events can win.
	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.wf.Advance(f.ctx, sub.ID, ReviewStarted(fmt.Sprintf("rev-%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrInvalidTransition) {
				rejected++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, racers-1, rejected)
	assert.Equal(t, 0, f.wf.locks.size())
}

func TestConcurrentSubmissionsProgressIndependently(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, f.submit(t, samplePattern(5)).ID)
	}
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.wf.RunValidation(f.ctx, id, "ci")
		}(i, id)
	}
	wg.Wait()
	for i, id := range ids {
		require.NoError(t, errs[i])
		got, _ := f.store.GetSubmission(f.ctx, id)
		assert.Equal(t, domain.StatusAwaitingReview, got.Status)
	}
}

func TestRoundRobin(t *testing.T) {
	r := NewRoundRobin([]string{"a", " ", "b"})
	var got []string
	for i := 0; i < 4; i++ {
		id, err := r.Route(context.Background(), domain.Submission{}, domain.Ticket{})
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)

	id, err := NewRoundRobin(nil).Route(context.Background(), domain.Submission{}, domain.Ticket{})
	require.NoError(t, err)
	assert.Empty(t, id)
}
