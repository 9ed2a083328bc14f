// Package intake decodes pattern files. It only checks value types; whether
// the content is complete enough to publish is decided by validation.
package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"patternline/internal/domain"
)

const schemaURL = "https://patternline.local/schemas/pattern.schema.json"

const patternSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "score": {"type": "integer", "minimum": -2147483648, "maximum": 2147483647}
  },
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string"},
    "hook": {"type": "string"},
    "problem_detail": {"type": "string"},
    "as_is_diagram": {"type": "string"},
    "orchestrated_diagram": {"type": "string"},
    "decision_point": {"type": "string"},
    "metrics": {"type": "string"},
    "checklist": {"type": "string"},
    "closing_insight": {"type": "string"},
    "maturity_level": {"type": "string"},
    "industries": {"type": "array", "items": {"type": "string"}},
    "broken_signals": {"type": "array", "items": {"type": "string"}},
    "scorecard": {
      "type": ["object", "null"],
      "properties": {
        "ownership": {"$ref": "#/$defs/score"},
        "time_sla": {"$ref": "#/$defs/score"},
        "capacity": {"$ref": "#/$defs/score"},
        "visibility": {"$ref": "#/$defs/score"},
        "customer_loop": {"$ref": "#/$defs/score"},
        "escalation": {"$ref": "#/$defs/score"},
        "handoffs": {"$ref": "#/$defs/score"},
        "documentation": {"$ref": "#/$defs/score"}
      }
    },
    "components": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "name": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(patternSchema)); err != nil {
			compileErr = fmt.Errorf("pattern schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// SchemaError lists the type problems found in a pattern document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "pattern document is malformed: " + strings.Join(e.Problems, "; ")
}

type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Parse decodes a pattern from JSON or YAML.
func Parse(data []byte, format Format) (domain.Pattern, error) {
	if format == FormatAuto {
		format = sniff(data)
	}
	doc, err := normalize(data, format)
	if err != nil {
		return domain.Pattern{}, err
	}
	s, err := schema()
	if err != nil {
		return domain.Pattern{}, err
	}
	var instance any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return domain.Pattern{}, fmt.Errorf("decode pattern: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return domain.Pattern{}, &SchemaError{Problems: problems(verr)}
		}
		return domain.Pattern{}, err
	}
	var p domain.Pattern
	if err := json.Unmarshal(doc, &p); err != nil {
		return domain.Pattern{}, &SchemaError{Problems: []string{err.Error()}}
	}
	return p, nil
}

// ParseFile decodes a pattern file, picking the format from its extension.
func ParseFile(path string) (domain.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Pattern{}, err
	}
	format := FormatAuto
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = FormatJSON
	case ".yml", ".yaml":
		format = FormatYAML
	}
	p, err := Parse(data, format)
	if err != nil {
		return domain.Pattern{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// normalize returns the document as JSON bytes.
func normalize(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		if !json.Valid(data) {
			return nil, &SchemaError{Problems: []string{"invalid JSON"}}
		}
		return data, nil
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &SchemaError{Problems: []string{fmt.Sprintf("invalid YAML: %v", err)}}
		}
		if doc == nil {
			doc = map[string]any{}
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, &SchemaError{Problems: []string{fmt.Sprintf("unsupported YAML value: %v", err)}}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown pattern format %q", format)
}

func problems(verr *jsonschema.ValidationError) []string {
	var out []string
	for _, e := range verr.BasicOutput().Errors {
		if e.InstanceLocation == "" && e.KeywordLocation == "" {
			continue
		}
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		out = append(out, fmt.Sprintf("%s: %s", loc, e.Error))
	}
	if len(out) == 0 {
		out = append(out, verr.Error())
	}
	return out
}
