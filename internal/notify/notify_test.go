package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternline/internal/domain"
)

type failing struct{ err error }

func (f failing) Notify(context.Context, Notification) error { return f.err }

type collecting struct {
	mu  sync.Mutex
	got []Notification
}

func (c *collecting) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	return nil
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	c := &collecting{}
	m := Multi{failing{errA}, c, nil, Nop{}}

	err := m.Notify(context.Background(), Notification{Kind: KindStatusChanged, SubmissionID: "SUB-1"})
	assert.ErrorIs(t, err, errA)
	require.Len(t, c.got, 1)
	assert.Equal(t, "SUB-1", c.got[0].SubmissionID)
}

func TestConsoleLogsStatusChange(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewConsole(logrus.NewEntry(logger))

	err := c.Notify(context.Background(), Notification{
		Kind:         KindStatusChanged,
		SubmissionID: "SUB-1",
		From:         domain.StatusInReview,
		To:           domain.StatusApproved,
		Event:        &domain.TicketEvent{Type: "review_approved", ActorID: "rev-1"},
	})
	require.NoError(t, err)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "status changed", entry.Message)
	assert.Equal(t, domain.StatusApproved, entry.Data["to"])
	assert.Equal(t, "review_approved", entry.Data["event"])
}

func TestConsoleLogsReviewerFeedback(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewConsole(logrus.NewEntry(logger))

	err := c.Notify(context.Background(), Notification{
		Kind:         KindStatusChanged,
		SubmissionID: "SUB-1",
		From:         domain.StatusInReview,
		To:           domain.StatusChangesRequested,
		Feedback:     []domain.ReviewFeedback{{Section: "hook", Severity: domain.SeverityMajor, Comment: "Name the victim"}},
	})
	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 2)
	entry := hook.LastEntry()
	assert.Equal(t, "reviewer feedback: Name the victim", entry.Message)
	assert.Equal(t, "hook", entry.Data["section"])
	assert.Equal(t, domain.SeverityMajor, entry.Data["severity"])
}

func TestConsoleRendersReportAtDebug(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := NewConsole(logrus.NewEntry(logger))

	report := domain.ValidationReport{SubmissionID: "SUB-9", OverallValid: true, Status: domain.ReportReadyForReview, NextSteps: []string{"Pattern has passed all validation checks"}}
	require.NoError(t, c.Notify(context.Background(), Notification{Kind: KindValidationReport, SubmissionID: "SUB-9", Report: &report}))

	require.Len(t, hook.AllEntries(), 2)
	assert.Contains(t, hook.LastEntry().Message, "# Validation Report - SUB-9")
}

func TestBusRoundTrip(t *testing.T) {
	ch := NewChannel()
	t.Cleanup(func() { ch.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 1)
	err := Consume(ctx, ch, "", func(_ context.Context, n Notification) error {
		received <- n
		return nil
	}, nil)
	require.NoError(t, err)

	bus := NewBus(ch, "")
	require.NoError(t, bus.Notify(ctx, Notification{Kind: KindReviewerAssigned, SubmissionID: "SUB-2", ReviewerID: "rev-1"}))

	select {
	case n := <-received:
		assert.Equal(t, KindReviewerAssigned, n.Kind)
		assert.Equal(t, "rev-1", n.ReviewerID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestConsumeKeepsDeliveringAfterHandlerError(t *testing.T) {
	ch := NewChannel()
	t.Cleanup(func() { ch.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, hook := logtest.NewNullLogger()
	c := &collecting{}
	err := Consume(ctx, ch, "topic", Multi{failing{errors.New("smtp down")}, c}.Notify, logrus.NewEntry(logger))
	require.NoError(t, err)

	bus := NewBus(ch, "topic")
	require.NoError(t, bus.Notify(ctx, Notification{Kind: KindStatusChanged, SubmissionID: "SUB-1"}))
	require.NoError(t, bus.Notify(ctx, Notification{Kind: KindStatusChanged, SubmissionID: "SUB-2"}))

	// publishing blocks until the consumer acks, so both are already handled
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.got, 2)
	assert.Equal(t, "SUB-2", c.got[1].SubmissionID)
	assert.Len(t, hook.AllEntries(), 2)
}

type fakeSource struct {
	mu     sync.Mutex
	events []domain.TicketEvent
}

func (f *fakeSource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.TicketEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TicketEvent
	for _, e := range f.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestEventID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return 0, nil
	}
	return f.events[len(f.events)-1].ID, nil
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		if fail {
			fail = false
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-Patternline-Secret"))
		assert.Equal(t, evt.Type, r.Header.Get("X-Patternline-Event"))
		assert.NotEmpty(t, r.Header.Get("X-Patternline-Delivery"))
	}))
	defer srv.Close()

	src := &fakeSource{events: []domain.TicketEvent{{ID: 1, TicketID: "PUB-2026-001", Type: "ticket_created"}}}
	d := NewWebhookDispatcher(src, []Webhook{
		{URL: srv.URL, Events: []string{"validation_passed", "validation_failed"}, Secret: "s3cret", Enabled: true},
		{URL: srv.URL, Enabled: false},
	}, nil)
	require.True(t, d.Active())
	require.NoError(t, d.Prime(context.Background()))

	src.events = append(src.events,
		domain.TicketEvent{ID: 2, TicketID: "PUB-2026-001", Type: "validation_started"},
		domain.TicketEvent{ID: 3, TicketID: "PUB-2026-001", Type: "validation_passed"},
	)

	d.DispatchOnce(context.Background()) // server fails the first delivery
	d.DispatchOnce(context.Background())
	d.DispatchOnce(context.Background()) // nothing new

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, "validation_passed", got[0].Type)
	assert.Equal(t, []string{"s3cret"}, secrets)
}

func TestWebhookDispatcherWakesOnTicketEvent(t *testing.T) {
	delivered := make(chan int64, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		delivered <- evt.ID
	}))
	defer srv.Close()

	src := &fakeSource{events: []domain.TicketEvent{{ID: 1, TicketID: "PUB-2026-001", Type: "ticket_created"}}}
	d := NewWebhookDispatcher(src, []Webhook{{URL: srv.URL, Enabled: true}}, nil)
	d.Interval = time.Hour
	require.NoError(t, d.Prime(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	ev := domain.TicketEvent{ID: 2, TicketID: "PUB-2026-001", Type: "validation_started"}
	// let the initial pass find nothing new
	time.Sleep(50 * time.Millisecond)
	src.mu.Lock()
	src.events = append(src.events, ev)
	src.mu.Unlock()
	require.NoError(t, d.Notify(ctx, Notification{Kind: KindStatusChanged, Event: &ev}))

	select {
	case id := <-delivered:
		assert.Equal(t, int64(2), id)
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a delivery pass")
	}
	cancel()
	<-done
}

func TestEventFilter(t *testing.T) {
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{" "}).match("anything"))
	f := newEventFilter([]string{"rolled_back"})
	assert.True(t, f.match("rolled_back"))
	assert.False(t, f.match("published"))
}
