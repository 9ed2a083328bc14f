package domain

import "time"

// Pattern is a submitted orchestration case study.
type Pattern struct {
	ID                  string      `json:"id" yaml:"id"`
	Title               string      `json:"title" yaml:"title"`
	Hook                string      `json:"hook" yaml:"hook"`
	ProblemDetail       string      `json:"problem_detail" yaml:"problem_detail"`
	AsIsDiagram         string      `json:"as_is_diagram" yaml:"as_is_diagram"`
	OrchestratedDiagram string      `json:"orchestrated_diagram" yaml:"orchestrated_diagram"`
	DecisionPoint       string      `json:"decision_point" yaml:"decision_point"`
	Metrics             string      `json:"metrics" yaml:"metrics"`
	Checklist           string      `json:"checklist" yaml:"checklist"`
	ClosingInsight      string      `json:"closing_insight" yaml:"closing_insight"`
	Scorecard           *Scorecard  `json:"scorecard,omitempty" yaml:"scorecard,omitempty"`
	Industries          []string    `json:"industries,omitempty" yaml:"industries,omitempty"`
	BrokenSignals       []string    `json:"broken_signals,omitempty" yaml:"broken_signals,omitempty"`
	MaturityLevel       string      `json:"maturity_level,omitempty" yaml:"maturity_level,omitempty"`
	Components          []Component `json:"components,omitempty" yaml:"components,omitempty"`
}

type Component struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Scorecard is the 8-dimension HQO quality score. Each dimension is meant to be 1..5.
type Scorecard struct {
	Ownership     int `json:"ownership" yaml:"ownership"`
	TimeSLA       int `json:"time_sla" yaml:"time_sla"`
	Capacity      int `json:"capacity" yaml:"capacity"`
	Visibility    int `json:"visibility" yaml:"visibility"`
	CustomerLoop  int `json:"customer_loop" yaml:"customer_loop"`
	Escalation    int `json:"escalation" yaml:"escalation"`
	Handoffs      int `json:"handoffs" yaml:"handoffs"`
	Documentation int `json:"documentation" yaml:"documentation"`
}

// Dimension is one named scorecard entry.
type Dimension struct {
	Name        string
	Description string
	Score       int
}

// Dimensions returns the eight dimensions in their fixed reporting order.
func (s Scorecard) Dimensions() []Dimension {
	return []Dimension{
		{Name: "Ownership", Description: "Clear ownership assignment and accountability", Score: s.Ownership},
		{Name: "TimeSLA", Description: "Time-based SLAs and response requirements", Score: s.TimeSLA},
		{Name: "Capacity", Description: "Capacity planning and load balancing", Score: s.Capacity},
		{Name: "Visibility", Description: "System visibility and observability", Score: s.Visibility},
		{Name: "CustomerLoop", Description: "Customer feedback and communication loop", Score: s.CustomerLoop},
		{Name: "Escalation", Description: "Escalation paths and procedures", Score: s.Escalation},
		{Name: "Handoffs", Description: "Clean handoff procedures and protocols", Score: s.Handoffs},
		{Name: "Documentation", Description: "Documentation quality and completeness", Score: s.Documentation},
	}
}

// Total is the sum of all eight dimensions.
func (s Scorecard) Total() int {
	return s.Ownership + s.TimeSLA + s.Capacity + s.Visibility +
		s.CustomerLoop + s.Escalation + s.Handoffs + s.Documentation
}

// PatternMetadata is derived from a pattern at intake.
type PatternMetadata struct {
	ActorCountAsIs         int       `json:"actor_count_as_is"`
	ActorCountOrchestrated int       `json:"actor_count_orchestrated"`
	StepCountAsIs          int       `json:"step_count_as_is"`
	StepCountOrchestrated  int       `json:"step_count_orchestrated"`
	AltBlocksAsIs          int       `json:"alt_blocks_as_is"`
	AltBlocksOrchestrated  int       `json:"alt_blocks_orchestrated"`
	TotalWordCount         int       `json:"total_word_count"`
	ComplexityLevel        string    `json:"complexity_level"`
	ExtractedAt            time.Time `json:"extracted_at" format:"date-time"`
}

type Submission struct {
	ID          string            `json:"id"`
	PatternID   string            `json:"pattern_id"`
	AuthorID    string            `json:"author_id"`
	AuthorEmail string            `json:"author_email,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at" format:"date-time"`
	UpdatedAt   time.Time         `json:"updated_at" format:"date-time"`
	Status      PublicationStatus `json:"status"`
	Pattern     Pattern           `json:"pattern"`
	Metadata    *PatternMetadata  `json:"metadata,omitempty"`
	TicketID    string            `json:"ticket_id"`
}

// Ticket is the operator-facing tracking record paired 1:1 with a submission.
type Ticket struct {
	ID           string       `json:"id"`
	SubmissionID string       `json:"submission_id"`
	CreatedAt    time.Time    `json:"created_at" format:"date-time"`
	Status       TicketStatus `json:"status"`
	Priority     int          `json:"priority"`
	ReviewerID   string       `json:"reviewer_id,omitempty"`
}

// TicketEvent is one immutable audit-log entry.
type TicketEvent struct {
	ID          int64     `json:"id"`
	TicketID    string    `json:"ticket_id"`
	Timestamp   time.Time `json:"timestamp" format:"date-time"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id,omitempty"`
}

// NewSubmission carries what intake knows before ids are assigned.
type NewSubmission struct {
	Pattern     Pattern
	AuthorID    string
	AuthorEmail string
	Metadata    *PatternMetadata
	Priority    int
	At          time.Time
	Description string
}

// StatusChange is one committed workflow step. The submission row is only
// updated when its stored status still equals From.
type StatusChange struct {
	SubmissionID string
	TicketID     string
	From         PublicationStatus
	To           PublicationStatus
	EventType    string
	Description  string
	ActorID      string
	ReviewerID   string
	Report       *ValidationReport
	At           time.Time
}
