package workflow

import (
	"context"
	"strings"
	"sync/atomic"

	"patternline/internal/domain"
)

// ReviewerRouter picks a reviewer for a submission that passed validation.
// An empty id means no reviewer could be chosen; the submission still waits
// in awaiting_review.
type ReviewerRouter interface {
	Route(ctx context.Context, sub domain.Submission, ticket domain.Ticket) (string, error)
}

// RoundRobin hands submissions to a fixed reviewer list in turn.
type RoundRobin struct {
	reviewers []string
	next      *atomic.Uint64
}

func NewRoundRobin(reviewers []string) RoundRobin {
	var ids []string
	for _, r := range reviewers {
		if r = strings.TrimSpace(r); r != "" {
			ids = append(ids, r)
		}
	}
	return RoundRobin{reviewers: ids, next: new(atomic.Uint64)}
}

func (r RoundRobin) Route(context.Context, domain.Submission, domain.Ticket) (string, error) {
	if len(r.reviewers) == 0 || r.next == nil {
		return "", nil
	}
	n := r.next.Add(1) - 1
	return r.reviewers[n%uint64(len(r.reviewers))], nil
}

// PriorityRules map industries onto ticket priority, 1 being the highest.
type PriorityRules struct {
	High   []string `yaml:"high" json:"high"`
	Medium []string `yaml:"medium" json:"medium"`
}

func DefaultPriorityRules() PriorityRules {
	return PriorityRules{
		High:   []string{"Technology", "Healthcare"},
		Medium: []string{"Finance", "Professional Services"},
	}
}

// Priority returns the best priority any of the industries earns.
func (p PriorityRules) Priority(industries []string) int {
	best := 3
	for _, ind := range industries {
		switch {
		case containsFold(p.High, ind):
			return 1
		case containsFold(p.Medium, ind):
			best = 2
		}
	}
	return best
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
