package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const documentSchema = `{
  "type": "object",
  "required": ["blocks"],
  "properties": {
    "blocks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["start", "message", "userResponse", "option", "condition", "end"]},
          "message": {"type": "string"},
          "options": {"type": "array", "items": {"type": "string"}},
          "condition": {"type": "string"}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string"},
          "to": {"type": "string"},
          "fromOptionIndex": {"type": ["integer", "null"], "minimum": 0}
        }
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// Parse decodes a stored workflow document. A nil, empty or "null" document
// returns ErrNoWorkflow; anything that fails the schema or lacks exactly one
// start block returns a ConfigurationError.
func Parse(doc []byte) (*Graph, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, ErrNoWorkflow
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &ConfigurationError{Problems: problems}
	}

	var g Graph
	if err := json.Unmarshal(trimmed, &g); err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}
	if len(g.Blocks) == 0 {
		return nil, ErrNoWorkflow
	}

	starts := 0
	for _, b := range g.Blocks {
		if b.Type == BlockStart {
			starts++
		}
	}
	if starts != 1 {
		return nil, &ConfigurationError{Problems: []string{fmt.Sprintf("expected exactly one start block, found %d", starts)}}
	}

	g.buildIndex()
	return &g, nil
}

// Severity grades a Validate finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one authoring problem found by Validate.
type Issue struct {
	Severity Severity `json:"severity"`
	BlockID  string   `json:"block_id,omitempty"`
	Message  string   `json:"message"`
}

// Validate checks the structural invariants an owner-authored graph should
// hold. Errors make the graph unusable for authoring; warnings are tolerated
// at runtime (first connection wins) but should be surfaced to the author.
func Validate(g *Graph) []Issue {
	var issues []Issue
	errorf := func(id, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, BlockID: id, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(id, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, BlockID: id, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool, len(g.Blocks))
	var start string
	starts := 0
	for _, b := range g.Blocks {
		if seen[b.ID] {
			errorf(b.ID, "duplicate block id")
		}
		seen[b.ID] = true
		if b.Type == BlockStart {
			starts++
			start = b.ID
		}
		if b.Type == BlockOption && len(b.Options) == 0 {
			errorf(b.ID, "option block has no options")
		}
	}
	if starts != 1 {
		errorf("", "expected exactly one start block, found %d", starts)
	}

	for _, c := range g.Connections {
		if !seen[c.From] {
			errorf(c.From, "connection starts at unknown block")
		}
		if !seen[c.To] {
			errorf(c.To, "connection ends at unknown block")
		}
	}

	for _, b := range g.Blocks {
		out := g.OutgoingConnections(b.ID)
		switch b.Type {
		case BlockOption:
			wired := make(map[int]bool, len(b.Options))
			for _, c := range out {
				if c.FromOptionIndex == nil {
					continue
				}
				if *c.FromOptionIndex >= len(b.Options) || *c.FromOptionIndex < 0 {
					errorf(b.ID, "connection uses option index %d of %d options", *c.FromOptionIndex, len(b.Options))
					continue
				}
				wired[*c.FromOptionIndex] = true
			}
			if hasIndexed(out) {
				for i, label := range b.Options {
					if !wired[i] {
						warnf(b.ID, "option %q has no connection; choosing it ends the workflow", label)
					}
				}
			}
		case BlockEnd:
			if len(out) > 0 {
				warnf(b.ID, "end block has outgoing connections; the chat keeps chaining after it")
			}
		default:
			if len(out) > 1 {
				warnf(b.ID, "%s block has %d outgoing connections; only the first is followed", b.Type, len(out))
			}
		}
	}

	if starts == 1 {
		reached := reachable(g, start)
		for _, b := range g.Blocks {
			if !reached[b.ID] {
				errorf(b.ID, "block is unreachable from start")
			}
		}
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func reachable(g *Graph, from string) map[string]bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.OutgoingConnections(id) {
			if !seen[c.To] {
				seen[c.To] = true
				queue = append(queue, c.To)
			}
		}
	}
	return seen
}
