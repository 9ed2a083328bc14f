package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus"

	"patternline/internal/config"
	"patternline/internal/db"
	"patternline/internal/logging"
	"patternline/internal/metrics"
	"patternline/internal/migrate"
	"patternline/internal/notify"
	"patternline/internal/repo"
	"patternline/internal/validate"
	"patternline/internal/workflow"
)

// App is the wired pipeline for one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Workflow  workflow.Workflow
	Metrics   *metrics.Metrics
	Bus       *gochannel.GoChannel
	Webhooks  *notify.WebhookDispatcher
	Log       *logrus.Entry

	stopConsumer context.CancelFunc
}

type Options struct {
	Workspace string
	// Config overrides the workspace config file when set.
	Config *config.Config
	Now    func() time.Time
}

// Open loads config, opens and migrates the database and wires the
// workflow with its notifiers.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log := logging.WithModule("app")
	r := repo.New(conn)
	m := metrics.New()
	bus := notify.NewChannel()

	hooks := notify.NewWebhookDispatcher(r, Webhooks(cfg), logging.WithModule("webhooks"))

	// The workflow only publishes; delivery happens on the bus consumer.
	deliver := notify.Multi{
		notify.NewConsole(logging.WithModule("notify")),
		hooks,
	}
	consumeCtx, stop := context.WithCancel(context.Background())
	err = notify.Consume(consumeCtx, bus, cfg.Notifications.BusTopic, func(ctx context.Context, n notify.Notification) error {
		if err := deliver.Notify(ctx, n); err != nil {
			m.ObserveNotifyFailure(string(n.Kind))
			return err
		}
		return nil
	}, logging.WithModule("bus"))
	if err != nil {
		stop()
		bus.Close()
		conn.Close()
		return nil, fmt.Errorf("start notification consumer: %w", err)
	}

	v := validate.New(cfg.Validation)
	wf := workflow.New(r, v, cfg.ReviewerRouter(), notify.NewBus(bus, cfg.Notifications.BusTopic))
	wf.Priority = cfg.Priority
	wf.Metrics = m
	if opts.Now != nil {
		wf.Now = opts.Now
		wf.Validator.Now = opts.Now
		r.Events.Now = opts.Now
		wf.Store = r
	}

	return &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Repo:      r,
		Workflow:  wf,
		Metrics:   m,
		Bus:       bus,
		Webhooks:  hooks,
		Log:       log,

		stopConsumer: stop,
	}, nil
}

// Webhooks converts the configured hooks for the dispatcher.
func Webhooks(cfg *config.Config) []notify.Webhook {
	var hooks []notify.Webhook
	for _, h := range cfg.Webhooks {
		enabled := h.Enabled == nil || *h.Enabled
		hooks = append(hooks, notify.Webhook{
			URL:     h.URL,
			Events:  h.Events,
			Secret:  h.Secret,
			Enabled: enabled,
			Timeout: time.Duration(h.TimeoutSeconds) * time.Second,
		})
	}
	return hooks
}

// Close stops the notification consumer and releases the bus and database.
func (a *App) Close() error {
	if a.stopConsumer != nil {
		a.stopConsumer()
	}
	var busErr error
	if a.Bus != nil {
		busErr = a.Bus.Close()
	}
	if err := a.DB.Close(); err != nil {
		return err
	}
	return busErr
}
