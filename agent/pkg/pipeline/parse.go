package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/rwe/pkg/metrics"
)

// StripCodeFences removes a surrounding Markdown code block, with or
// without a language tag, if present.
func StripCodeFences(response string) string {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "```") {
		return response
	}
	lines := strings.Split(response, "\n")
	if len(lines) < 2 {
		return strings.Trim(response, "`")
	}
	// Find the closing fence
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// parseOutput parses a model response as JSON, validates it against schema
// and decodes it into T. Failures are returned as data in Output.Failure.
func parseOutput[T any](agent, response string, schema *jsonschema.Resolved, check func(*T) error) *Output[T] {
	text := StripCodeFences(response)

	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err != nil {
		metrics.StructuredOutputFailuresTotal.WithLabelValues(agent, "parse").Inc()
		return &Output[T]{Failure: &ParseFailure{RawText: response, ParseError: true}}
	}
	if _, ok := generic.(map[string]any); !ok {
		metrics.StructuredOutputFailuresTotal.WithLabelValues(agent, "parse").Inc()
		return &Output[T]{Failure: &ParseFailure{RawText: response, ParseError: true}}
	}

	var violations []string
	if err := schema.Validate(generic); err != nil {
		violations = append(violations, err.Error())
	}

	var value T
	if len(violations) == 0 {
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			violations = append(violations, err.Error())
		} else if check != nil {
			if err := check(&value); err != nil {
				violations = append(violations, err.Error())
			}
		}
	}
	if len(violations) > 0 {
		metrics.StructuredOutputFailuresTotal.WithLabelValues(agent, "schema").Inc()
		return &Output[T]{Failure: &ParseFailure{
			RawText:         response,
			ParseError:      true,
			SchemaViolation: true,
			Violations:      violations,
		}}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(text)); err != nil {
		compact.Reset()
		compact.WriteString(text)
	}
	return &Output[T]{Value: &value, raw: compact.Bytes()}
}

// truncateForError truncates a string for inclusion in error messages.
func truncateForError(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in schema: %v", err))
	}
	return r
}
