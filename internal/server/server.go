package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"patternline/internal/domain"
	"patternline/internal/intake"
	"patternline/internal/metrics"
	"patternline/internal/repo"
	"patternline/internal/validate"
	"patternline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Workflow workflow.Workflow
	Repo     repo.Repo
	Metrics  *metrics.Metrics
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition from submission_received on build_started"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the pipeline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// request validation failures are plain bad requests
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(data))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, data)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Patternline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	registerHealth(group)
	registerValidate(group, cfg.Workflow.Validator)
	registerStatus(group, cfg.Repo)
	registerSubmissions(group, cfg)
	registerTransitions(group, cfg.Workflow)
	registerReports(group, cfg.Repo)
	registerEvents(group, cfg.Repo)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te *workflow.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"status": te.From,
			"event":  te.Event.String(),
		})
	}
	var se *intake.SchemaError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "invalid_pattern", err.Error(), map[string]any{"problems": se.Problems})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrStaleStatus):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidEvent), errors.Is(err, workflow.ErrInvalidSubmission):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Patternline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// PatternInput carries a raw JSON or YAML pattern document.
type PatternInput struct {
	ContentType string `header:"Content-Type"`
}

func (in PatternInput) format() intake.Format {
	ct := strings.ToLower(in.ContentType)
	switch {
	case strings.Contains(ct, "yaml"):
		return intake.FormatYAML
	case strings.Contains(ct, "json"):
		return intake.FormatJSON
	}
	return intake.FormatAuto
}

func parsePattern(ctx context.Context, in PatternInput) (domain.Pattern, huma.StatusError) {
	data := bodyBytes(ctx)
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Pattern{}, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	p, err := intake.Parse(data, in.format())
	if err != nil {
		return domain.Pattern{}, handleError(err)
	}
	return p, nil
}

func registerValidate(api huma.API, v validate.Validator) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-pattern",
		Method:      http.MethodPost,
		Path:        "/validate",
		Summary:     "Validate a pattern without submitting it",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PatternInput
		Markdown bool `query:"markdown"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		p, perr := parsePattern(ctx, input.PatternInput)
		if perr != nil {
			return nil, perr
		}
		report, err := v.Run(ctx, p.ID, p)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ReportResponse{Report: report}
		if input.Markdown {
			resp.Markdown = validate.Markdown(report)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerStatus(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Submission counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := r.CountByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := StatusResponse{Counts: map[string]int{}}
		for status, n := range counts {
			resp.Counts[string(status)] = n
			resp.Total += n
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSubmissions(api huma.API, cfg Config) {
	wf := cfg.Workflow
	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Submit a pattern for publication",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		PatternInput
		AuthorEmail string `query:"author_email"`
		Validate    bool   `query:"validate"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, perr := parsePattern(ctx, input.PatternInput)
		if perr != nil {
			return nil, perr
		}
		sub, ticket, err := wf.Submit(ctx, workflow.SubmitOptions{
			Pattern:     p,
			AuthorID:    actorID,
			AuthorEmail: input.AuthorEmail,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := SubmissionResponse{Submission: sub, Ticket: ticket}
		if input.Validate {
			report, err := wf.RunValidation(ctx, sub.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Report = &report
			if resp.Submission, err = cfg.Repo.GetSubmission(ctx, sub.ID); err != nil {
				return nil, handleError(err)
			}
			if resp.Ticket, err = cfg.Repo.GetTicket(ctx, sub.TicketID); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status"`
		PatternID string `query:"pattern_id"`
		AuthorID  string `query:"author_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body ListSubmissionsResponse `json:"body"`
	}, error) {
		status := domain.PublicationStatus(input.Status)
		if status != "" && !status.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown status %q", input.Status), nil)
		}
		items, err := cfg.Repo.ListSubmissions(ctx, repo.SubmissionFilters{
			Status:    status,
			PatternID: input.PatternID,
			AuthorID:  input.AuthorID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ListSubmissionsResponse `json:"body"`
		}{Body: ListSubmissionsResponse{Items: mapSubmissions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Get submission with its ticket",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		sub, err := cfg.Repo.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ticket, err := cfg.Repo.GetTicket(ctx, sub.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := SubmissionResponse{Submission: sub, Ticket: ticket}
		if report, err := cfg.Repo.GetReport(ctx, sub.ID); err == nil {
			resp.Report = &report
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-validation",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/validation",
		Summary:     "Validate a received submission",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ValidationReport `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := wf.RunValidation(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ValidationReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerTransitions(api huma.API, wf workflow.Workflow) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-transition",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/transitions",
		Summary:     "Apply a workflow event",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reviewer := input.Body.Reviewer
		if reviewer == "" && workflow.EventKind(input.Body.Event) != workflow.KindReviewStarted {
			reviewer = actorID
		}
		ev, err := workflow.ParseEvent(input.Body.Event, input.Body.Outcome, reviewer, input.Body.Feedback...)
		if err != nil {
			return nil, handleError(err)
		}
		ev.Actor = actorID
		status, err := wf.Advance(ctx, input.ID, ev)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{SubmissionID: input.ID, Status: status, Terminal: workflow.Terminal(status)}}, nil
	})
}

func registerReports(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/report",
		Summary:     "Latest validation report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Markdown bool   `query:"markdown"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		report, err := r.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ReportResponse{Report: report}
		if input.Markdown {
			resp.Markdown = validate.Markdown(report)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/events",
		Summary:     "Ticket audit log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		sub, err := r.GetSubmission(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := r.ListTicketEvents(ctx, sub.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.TicketEvent{}
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Items: items}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
