package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"patternline/internal/domain"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// EventSource pages through the persisted ticket event log.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.TicketEvent, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type Webhook struct {
	URL     string
	Events  []string
	Secret  string
	Enabled bool
	Timeout time.Duration
}

// WebhookDispatcher posts ticket events to webhooks. Each hook keeps its own
// cursor, starting at the newest event when the dispatcher starts, and stops
// at the first failed delivery so it is retried on the next pass.
type WebhookDispatcher struct {
	Source   EventSource
	Hooks    []Webhook
	Interval time.Duration
	Log      *logrus.Entry

	client  *http.Client
	mu      sync.Mutex
	cursors map[int]int64
	wake    chan struct{}
}

func NewWebhookDispatcher(src EventSource, hooks []Webhook, log *logrus.Entry) *WebhookDispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WebhookDispatcher{
		Source:   src,
		Hooks:    hooks,
		Interval: defaultWebhookInterval,
		Log:      log,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
		wake:     make(chan struct{}, 1),
	}
}

// Notify wakes Run for notifications that carry a recorded ticket event, so
// hooks see it without waiting for the next tick.
func (d *WebhookDispatcher) Notify(_ context.Context, n Notification) error {
	if n.Event != nil {
		d.Wake()
	}
	return nil
}

// Wake asks a running dispatcher for an immediate pass.
func (d *WebhookDispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Active reports whether any hook would receive events.
func (d *WebhookDispatcher) Active() bool {
	for _, h := range d.Hooks {
		if h.Enabled && strings.TrimSpace(h.URL) != "" {
			return true
		}
	}
	return false
}

// Run dispatches until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if !d.Active() {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchOnce makes one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.Hooks {
		if !hook.Enabled || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook Webhook) {
	log := d.Log.WithField("url", hook.URL)
	cursor := d.cursorFor(ctx, idx)
	events, err := d.Source.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.WithError(err).Warn("webhook: fetch events failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.WithError(err).WithField("event_id", evt.ID).Warn("webhook: delivery failed")
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// Prime sets every hook's cursor to the newest stored event.
func (d *WebhookDispatcher) Prime(ctx context.Context) error {
	latest, err := d.Source.LatestEventID(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.Hooks {
		d.cursors[i] = latest
	}
	return nil
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Source.LatestEventID(ctx)
	if err != nil {
		d.Log.WithError(err).Warn("webhook: init cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	TicketID    string    `json:"ticket_id"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook Webhook, evt domain.TicketEvent) error {
	data, err := json.Marshal(webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		TicketID:    evt.TicketID,
		Description: evt.Description,
		ActorID:     evt.ActorID,
		Timestamp:   evt.Timestamp,
	})
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.Timeout > 0 && hook.Timeout != client.Timeout {
		client = &http.Client{Timeout: hook.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Patternline-Event", evt.Type)
	req.Header.Set("X-Patternline-Delivery", uuid.NewString())
	req.Header.Set("X-Patternline-Event-Id", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Patternline-Ticket", evt.TicketID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Patternline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
