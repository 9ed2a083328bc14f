// Package diagram performs a lexical scan of Mermaid-style sequence diagrams.
//
// The scan is pattern based, not a grammar: text that matches nothing yields
// zero counts. Nesting depth treats every "end" line as closing the innermost
// open alt block, so loop/opt/par blocks closed by "end" are not told apart.
// Identifiers and words are Unicode letters, digits and underscore.
package diagram

import (
	"regexp"
	"strings"
)

var (
	participantRe = regexp.MustCompile(`participant\s+[\p{L}\p{N}_]+\s+as`)
	arrowRe       = regexp.MustCompile(`->>|-->>|->`)
	wordRe        = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// Stats are the complexity counts of one diagram.
type Stats struct {
	Actors      int `json:"actors"`
	Steps       int `json:"steps"`
	AltBlocks   int `json:"alt_blocks"`
	MaxAltDepth int `json:"max_alt_depth"`
}

// Nested reports whether an alt block was opened inside another open one.
func (s Stats) Nested() bool {
	return s.MaxAltDepth > 1
}

// Blank reports whether the diagram has no content at all.
func Blank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Scan counts actors, steps, alt blocks and the deepest alt nesting.
func Scan(text string) Stats {
	if Blank(text) {
		return Stats{}
	}
	return Stats{
		Actors:      CountActors(text),
		Steps:       CountSteps(text),
		AltBlocks:   CountAltBlocks(text),
		MaxAltDepth: MaxAltDepth(text),
	}
}

// CountActors counts "participant <id> as" declarations.
func CountActors(text string) int {
	return len(participantRe.FindAllStringIndex(text, -1))
}

// CountSteps counts message arrows. Matches are leftmost-first and do not
// overlap, so "-->>" is one step and an activation suffix ("->>+") is ignored.
func CountSteps(text string) int {
	return len(arrowRe.FindAllStringIndex(text, -1))
}

// CountAltBlocks counts case-insensitive whole-word "alt" occurrences.
func CountAltBlocks(text string) int {
	n := 0
	for _, w := range wordRe.FindAllString(text, -1) {
		if strings.EqualFold(w, "alt") {
			n++
		}
	}
	return n
}

// MaxAltDepth walks lines keeping an alt depth counter.
func MaxAltDepth(text string) int {
	depth, maxDepth := 0, 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(trimmed, "alt "):
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case trimmed == "end":
			if depth > 0 {
				depth--
			}
		}
	}
	return maxDepth
}
