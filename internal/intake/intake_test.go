package intake

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlPattern = `id: ticket-handoff
title: Ticket handoff
hook: Every handoff loses context.
as_is_diagram: |
  sequenceDiagram
      participant A as Agent
      A->>A: Forward
industries: [Technology]
broken_signals: [Handoffs]
scorecard:
  ownership: 4
  time_sla: 4
  capacity: 3
  visibility: 5
  customer_loop: 4
  escalation: 4
  handoffs: 4
  documentation: 4
components:
  - id: router
    name: Router
`

func TestParseYAML(t *testing.T) {
	p, err := Parse([]byte(yamlPattern), FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, "ticket-handoff", p.ID)
	require.NotNil(t, p.Scorecard)
	assert.Equal(t, 32, p.Scorecard.Total())
	assert.Equal(t, []string{"Technology"}, p.Industries)
	assert.Contains(t, p.AsIsDiagram, "participant A as Agent")
	require.Len(t, p.Components, 1)
	assert.Equal(t, "Router", p.Components[0].Name)
}

func TestParseJSON(t *testing.T) {
	p, err := Parse([]byte(`{"id":"x","scorecard":{"ownership":5},"hook":""}`), FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, "x", p.ID)
	assert.Equal(t, 5, p.Scorecard.Ownership)
}

func TestParseMissingFieldsIsNotAnError(t *testing.T) {
	p, err := Parse([]byte("title: only a title\n"), FormatYAML)
	require.NoError(t, err)
	assert.Nil(t, p.Scorecard)
	assert.Empty(t, p.ID)

	_, err = Parse([]byte(""), FormatYAML)
	require.NoError(t, err)
}

func TestParseRejectsWrongTypes(t *testing.T) {
	_, err := Parse([]byte("id: x\nscorecard:\n  ownership: high\nindustries: Technology\n"), FormatYAML)
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	joined := serr.Error()
	assert.Contains(t, joined, "/scorecard/ownership")
	assert.Contains(t, joined, "/industries")
}

func TestParseRejectsFractionalScores(t *testing.T) {
	_, err := Parse([]byte(`{"scorecard":{"capacity":3.5}}`), FormatJSON)
	var serr *SchemaError
	assert.ErrorAs(t, err, &serr)
}

func TestParseRejectsOutOfRangeScores(t *testing.T) {
	var serr *SchemaError
	_, err := Parse([]byte(`{"id":"x","scorecard":{"ownership":99999999999999999999}}`), FormatJSON)
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "/scorecard/ownership")

	_, err = Parse([]byte("id: x\nscorecard:\n  handoffs: -99999999999999999999\n"), FormatYAML)
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, serr.Error(), "/scorecard/handoffs")

	p, err := Parse([]byte(`{"scorecard":{"ownership":-3,"capacity":2147483647}}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, -3, p.Scorecard.Ownership)
}

func TestParseRejectsBrokenDocuments(t *testing.T) {
	var serr *SchemaError
	_, err := Parse([]byte("{not json"), FormatJSON)
	assert.ErrorAs(t, err, &serr)
	_, err = Parse([]byte("id: [unclosed"), FormatYAML)
	assert.ErrorAs(t, err, &serr)
	_, err = Parse([]byte("- a\n- b\n"), FormatYAML)
	assert.ErrorAs(t, err, &serr)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pattern.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlPattern), 0o644))
	p, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Ticket handoff", p.Title)

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
