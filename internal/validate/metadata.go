package validate

import (
	"strings"
	"time"

	"patternline/internal/diagram"
	"patternline/internal/domain"
)

const (
	ComplexityBasic        = "Basic"
	ComplexityIntermediate = "Intermediate"
	ComplexityAdvanced     = "Advanced"
)

// ExtractMetadata derives diagram counts, word count and a complexity level
// from the pattern. It never fails; missing parts count as zero.
func ExtractMetadata(p domain.Pattern, now time.Time) domain.PatternMetadata {
	asIs := diagram.Scan(p.AsIsDiagram)
	orch := diagram.Scan(p.OrchestratedDiagram)
	return domain.PatternMetadata{
		ActorCountAsIs:         asIs.Actors,
		ActorCountOrchestrated: orch.Actors,
		StepCountAsIs:          asIs.Steps,
		StepCountOrchestrated:  orch.Steps,
		AltBlocksAsIs:          asIs.AltBlocks,
		AltBlocksOrchestrated:  orch.AltBlocks,
		TotalWordCount:         wordCount(p),
		ComplexityLevel:        complexity(p),
		ExtractedAt:            now,
	}
}

func wordCount(p domain.Pattern) int {
	n := 0
	for _, text := range []string{p.Title, p.Hook, p.ProblemDetail, p.DecisionPoint, p.Metrics, p.Checklist, p.ClosingInsight} {
		n += len(strings.Fields(text))
	}
	return n
}

func complexity(p domain.Pattern) string {
	total := 0
	if p.Scorecard != nil {
		total = p.Scorecard.Total()
	}
	components := len(p.Components)
	switch {
	case total >= 35 && components >= 5:
		return ComplexityAdvanced
	case total >= 28 && components >= 3:
		return ComplexityIntermediate
	default:
		return ComplexityBasic
	}
}
