package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"patternline/internal/app"
	"patternline/internal/config"
	"patternline/internal/db"
	"patternline/internal/domain"
	"patternline/internal/intake"
	"patternline/internal/logging"
	"patternline/internal/repo"
	"patternline/internal/server"
	"patternline/internal/validate"
	"patternline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Patternline CLI",
	Long: `Patternline validates orchestration pattern submissions and tracks them to publication.
- Validation: schema, HQO scorecard and diagram budget checks combine into one report.
- Submissions: each gets a SUB id and a PUB ticket; every status change is logged.
- Workflow: received -> validating -> awaiting review -> in review -> approved -> build -> staging -> production.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		level := cfg.Log.Level
		if override := viper.GetString("log-level"); override != "" {
			level = override
		}
		return logging.Setup(level, cfg.Log.Format, os.Stderr)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PATTERNLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(advanceCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and a default patternline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s exists; keeping it (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("database ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect patternline.yml",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := c.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate patternline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func validateCmd() *cobra.Command {
	var file string
	var markdown bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pattern file without submitting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			p, err := intake.ParseFile(file)
			if err != nil {
				return err
			}
			report, err := validate.New(cfg.Validation).Run(cmd.Context(), p.ID, p)
			if err != nil {
				return err
			}
			if err := printReport(report, markdown); err != nil {
				return err
			}
			if !report.OverallValid {
				return errors.New("pattern failed validation")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "pattern file (JSON or YAML)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the report as Markdown")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func submitCmd() *cobra.Command {
	var file, email string
	var run bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pattern for publication",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := intake.ParseFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				actor := viper.GetString("actor-id")
				sub, ticket, err := a.Workflow.Submit(ctx, workflow.SubmitOptions{
					Pattern:     p,
					AuthorID:    actor,
					AuthorEmail: email,
					ActorID:     actor,
				})
				if err != nil {
					return err
				}
				if !run {
					return printJSONOrTable(map[string]any{"submission_id": sub.ID, "ticket_id": ticket.ID, "status": sub.Status, "priority": ticket.Priority})
				}
				report, err := a.Workflow.RunValidation(ctx, sub.ID, actor)
				if err != nil {
					return err
				}
				return printReport(report, false)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "pattern file (JSON or YAML)")
	cmd.Flags().StringVar(&email, "author-email", "", "author contact email")
	cmd.Flags().BoolVar(&run, "run", false, "run validation immediately")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <submission-id>",
		Short: "Run validation for a received submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Workflow.RunValidation(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printReport(report, false)
			})
		},
	}
}

func advanceCmd() *cobra.Command {
	var outcome, reviewer string
	var feedback []string
	cmd := &cobra.Command{
		Use:   "advance <submission-id> <event>",
		Short: "Apply a workflow event",
		Long: `Events: review_started (needs --reviewer), review_decision (--outcome approved|rejected|changes_requested),
changes_resubmitted, build_started, build_completed, staging_verified, production_deployed (--outcome success|failure),
rollback_requested.
Reviewer comments go with review_decision as --feedback "section:severity:comment" (repeatable).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := viper.GetString("actor-id")
			if reviewer == "" && workflow.EventKind(args[1]) == workflow.KindReviewDecision {
				reviewer = actor
			}
			items, err := parseFeedbackFlags(feedback)
			if err != nil {
				return err
			}
			ev, err := workflow.ParseEvent(args[1], outcome, reviewer, items...)
			if err != nil {
				return err
			}
			ev.Actor = actor
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				status, err := a.Workflow.Advance(ctx, args[0], ev)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"submission_id": args[0], "status": status, "terminal": workflow.Terminal(status)})
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "event outcome")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer id")
	cmd.Flags().StringArrayVar(&feedback, "feedback", nil, "review comment as section:severity:comment")
	return cmd
}

// parseFeedbackFlags splits "section:severity:comment"; the comment may
// contain colons.
func parseFeedbackFlags(in []string) ([]domain.ReviewFeedback, error) {
	var out []domain.ReviewFeedback
	for _, raw := range in {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("feedback %q: want section:severity:comment", raw)
		}
		out = append(out, domain.ReviewFeedback{
			Section:  parts[0],
			Severity: domain.Severity(parts[1]),
			Comment:  parts[2],
		})
	}
	return out, nil
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <submission-id>",
		Short: "Show a submission and its ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sub, err := a.Repo.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				ticket, err := a.Repo.GetTicket(ctx, sub.TicketID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"submission": sub, "ticket": ticket})
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Submission counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				counts, err := a.Repo.CountByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				total := 0
				for _, s := range domain.AllStatuses {
					if n := counts[s]; n > 0 {
						tw.AppendRow(table.Row{s, n})
						total += n
					}
				}
				tw.AppendFooter(table.Row{"Total", total})
				tw.Render()
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	var f repo.SubmissionFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.PublicationStatus(status)
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListSubmissions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Ticket", "Pattern", "Title", "Status", "Submitted"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.TicketID, s.PatternID, s.Pattern.Title, s.Status, s.SubmittedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.PatternID, "pattern", "", "pattern id filter")
	cmd.Flags().StringVar(&f.AuthorID, "author", "", "author filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <submission-id>",
		Short: "Show the ticket audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sub, err := a.Repo.GetSubmission(ctx, args[0])
				if err != nil {
					return err
				}
				events, err := a.Repo.ListTicketEvents(ctx, sub.TicketID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(sub.TicketID)
				tw.AppendHeader(table.Row{"#", "Time", "Event", "Actor", "Description"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.Timestamp.Format(time.DateTime), e.Type, e.ActorID, e.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "report <submission-id>",
		Short: "Show the latest validation report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Repo.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printReport(report, markdown)
			})
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as Markdown")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			token, err := server.IssueToken(jwtSecret(cfg), subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id placed in the token (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        jwtSecret(a.Config),
					AllowActorHeader: a.Config.Server.AllowActorHeader,
					Log:              logging.WithModule("auth"),
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
					return fmt.Errorf("PATTERNLINE_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Workflow: a.Workflow,
					Repo:     a.Repo,
					Metrics:  a.Metrics,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}

				if a.Webhooks.Active() {
					if err := a.Webhooks.Prime(ctx); err != nil {
						return err
					}
					go a.Webhooks.Run(ctx)
				}

				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				fmt.Printf("Serving Patternline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				return serveHTTP(ctx, &http.Server{Handler: handler}, ln, 5*time.Second, logging.WithModule("server"))
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

// --- helpers ---

// serveHTTP serves on ln until ctx is done, then gives in-flight requests
// grace to finish.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration, log *logrus.Entry) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http server shutdown")
		}
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func jwtSecret(cfg *config.Config) string {
	if s := viper.GetString("jwt-secret"); s != "" {
		return s
	}
	return cfg.Server.JWTSecret
}

func printReport(report domain.ValidationReport, markdown bool) error {
	if markdown {
		fmt.Print(validate.Markdown(report))
		return nil
	}
	if viper.GetBool("json") {
		return printJSON(report)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s: %s", report.SubmissionID, report.Status))
	tw.AppendHeader(table.Row{"Validator", "Severity", "Field", "Message"})
	for _, res := range []domain.ValidationResult{report.Schema, report.Scorecard, report.Diagram} {
		errs := append([]domain.ValidationError(nil), res.Errors...)
		sort.SliceStable(errs, func(i, j int) bool {
			return severityRank(errs[i].Severity) < severityRank(errs[j].Severity)
		})
		for _, e := range errs {
			tw.AppendRow(table.Row{res.Type, e.Severity, e.Field, e.Message})
		}
	}
	tw.Render()
	for _, step := range report.NextSteps {
		fmt.Println("-", step)
	}
	return nil
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 0
	case domain.SeverityMajor:
		return 1
	}
	return 2
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
