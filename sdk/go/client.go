package patternlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Patternline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Issue is one validation finding (partial).
type Issue struct {
	Field       string `json:"field"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
	Remediation string `json:"remediation,omitempty"`
}

type Result struct {
	Type    string  `json:"type"`
	Errors  []Issue `json:"errors"`
	IsValid bool    `json:"is_valid"`
}

// Report is the combined validation report.
type Report struct {
	SubmissionID string   `json:"submission_id"`
	GeneratedAt  string   `json:"generated_at"`
	OverallValid bool     `json:"overall_valid"`
	Schema       Result   `json:"schema"`
	Scorecard    Result   `json:"scorecard"`
	Diagram      Result   `json:"diagram"`
	Status       string   `json:"status"`
	NextSteps    []string `json:"next_steps"`
}

type Submission struct {
	ID          string `json:"id"`
	PatternID   string `json:"pattern_id"`
	AuthorID    string `json:"author_id"`
	Status      string `json:"status"`
	TicketID    string `json:"ticket_id"`
	SubmittedAt string `json:"submitted_at"`
}

type Ticket struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Priority   int    `json:"priority"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}

// SubmissionDetail bundles a submission with its ticket and latest report.
type SubmissionDetail struct {
	Submission Submission `json:"submission"`
	Ticket     Ticket     `json:"ticket"`
	Report     *Report    `json:"report,omitempty"`
}

// Event is one ticket audit-log entry.
type Event struct {
	ID          int64  `json:"id"`
	TicketID    string `json:"ticket_id"`
	Timestamp   string `json:"timestamp"`
	Type        string `json:"type"`
	Description string `json:"description"`
	ActorID     string `json:"actor_id,omitempty"`
}

type TransitionResult struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Terminal     bool   `json:"terminal"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Document is a raw pattern file. ContentType selects the decoder on the
// server; leave it empty to let the server detect JSON or YAML.
type Document struct {
	Data        []byte
	ContentType string
}

// Validate runs the validators without creating a submission.
func (c *Client) Validate(ctx context.Context, doc Document) (Report, error) {
	var resp struct {
		Report Report `json:"report"`
	}
	err := c.do(ctx, http.MethodPost, "validate", doc.ContentType, doc.Data, &resp)
	return resp.Report, err
}

// Submit creates a submission. With runValidation the server validates it
// before responding.
func (c *Client) Submit(ctx context.Context, doc Document, authorEmail string, runValidation bool) (SubmissionDetail, error) {
	q := url.Values{}
	if authorEmail != "" {
		q.Set("author_email", authorEmail)
	}
	if runValidation {
		q.Set("validate", "true")
	}
	endpoint := "submissions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp SubmissionDetail
	err := c.do(ctx, http.MethodPost, endpoint, doc.ContentType, doc.Data, &resp)
	return resp, err
}

func (c *Client) GetSubmission(ctx context.Context, id string) (SubmissionDetail, error) {
	var resp SubmissionDetail
	err := c.doJSON(ctx, http.MethodGet, "submissions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListSubmissions returns submissions, optionally filtered by status.
func (c *Client) ListSubmissions(ctx context.Context, status string, limit int) ([]Submission, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "submissions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Submission `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) RunValidation(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.doJSON(ctx, http.MethodPost, "submissions/"+url.PathEscape(id)+"/validation", nil, &resp)
	return resp, err
}

// Feedback is a reviewer comment sent with a review decision. Severity is
// Critical, Major or Minor.
type Feedback struct {
	Section  string `json:"section,omitempty"`
	Severity string `json:"severity,omitempty"`
	Comment  string `json:"comment"`
}

// Transition applies a workflow event such as review_decision or
// build_completed. Feedback is only accepted with review_decision.
func (c *Client) Transition(ctx context.Context, id, event, outcome, reviewer string, feedback ...Feedback) (TransitionResult, error) {
	body := map[string]any{"event": event}
	if outcome != "" {
		body["outcome"] = outcome
	}
	if reviewer != "" {
		body["reviewer"] = reviewer
	}
	if len(feedback) > 0 {
		body["feedback"] = feedback
	}
	var resp TransitionResult
	err := c.doJSON(ctx, http.MethodPost, "submissions/"+url.PathEscape(id)+"/transitions", body, &resp)
	return resp, err
}

func (c *Client) Events(ctx context.Context, id string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.doJSON(ctx, http.MethodGet, "submissions/"+url.PathEscape(id)+"/events", nil, &resp)
	return resp.Items, err
}

// Report returns the latest stored report and, when asked, its Markdown.
func (c *Client) Report(ctx context.Context, id string, markdown bool) (Report, string, error) {
	endpoint := "submissions/" + url.PathEscape(id) + "/report"
	if markdown {
		endpoint += "?markdown=true"
	}
	var resp struct {
		Report   Report `json:"report"`
		Markdown string `json:"markdown"`
	}
	err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Report, resp.Markdown, err
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body any, out any) error {
	var data []byte
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	return c.do(ctx, method, endpoint, "application/json", data, out)
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body []byte, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
