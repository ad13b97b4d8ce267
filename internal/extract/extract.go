// Package extract turns raw model text into typed values. Models are asked
// for JSON but return whatever they like: prose wrappers, fenced blocks,
// truncated objects, or nothing. Every parse problem is represented as a
// ParseFailure value with a classified reason; nothing here panics or
// returns bare errors for malformed input. The reason classification drives
// the retry policy in the deliberation and judge layers.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FailureReason classifies why extraction failed.
type FailureReason string

const (
	// ReasonEmpty - the model returned nothing usable.
	ReasonEmpty FailureReason = "empty"
	// ReasonTruncated - output hit a length ceiling mid-structure.
	ReasonTruncated FailureReason = "truncated"
	// ReasonInvalidSyntax - structure present but not parseable JSON.
	ReasonInvalidSyntax FailureReason = "invalid-syntax"
	// ReasonSchemaMismatch - valid JSON missing required fields or with
	// wrong types.
	ReasonSchemaMismatch FailureReason = "schema-mismatch"
)

// ParseFailure is the typed failure value for unusable model output.
type ParseFailure struct {
	Reason  FailureReason
	Detail  string
	RawText string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure (%s): %s", f.Reason, f.Detail)
}

// FieldKind is the expected type of a schema field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
	KindMap // nested object, values not further typed
)

// Field is one required (or optional) field of an expected schema.
type Field struct {
	Name     string
	Kind     FieldKind
	Optional bool
}

// Schema is the set of fields a structured response must carry.
type Schema struct {
	Fields []Field
}

// Result is a validated structured value keyed by field name.
type Result map[string]any

// String returns the named field as a string.
func (r Result) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Number returns the named field as a float64.
func (r Result) Number(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns the named field as a bool.
func (r Result) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// Map returns the named field as a nested object.
func (r Result) Map(name string) map[string]any {
	m, _ := r[name].(map[string]any)
	return m
}

// Extract locates a JSON object in raw model text and validates it against
// the schema. Exactly one of the returns is non-nil.
func Extract(raw string, schema Schema) (Result, *ParseFailure) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseFailure{Reason: ReasonEmpty, Detail: "no output", RawText: raw}
	}

	candidate, truncated := locateJSON(trimmed)
	if truncated {
		return nil, &ParseFailure{
			Reason:  ReasonTruncated,
			Detail:  "JSON object opened but never closed",
			RawText: raw,
		}
	}
	if candidate == "" {
		return nil, &ParseFailure{
			Reason:  ReasonInvalidSyntax,
			Detail:  "no JSON object found in output",
			RawText: raw,
		}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, &ParseFailure{
			Reason:  ReasonInvalidSyntax,
			Detail:  err.Error(),
			RawText: raw,
		}
	}

	if detail := checkSchema(parsed, schema); detail != "" {
		return nil, &ParseFailure{
			Reason:  ReasonSchemaMismatch,
			Detail:  detail,
			RawText: raw,
		}
	}
	return Result(parsed), nil
}

// locateJSON finds the JSON object inside model text: a fenced code block
// first, then a brace-matched scan. The second return reports truncation:
// an object that opens but never balances before the text ends.
func locateJSON(s string) (candidate string, truncated bool) {
	if block, ok, trunc := fencedBlock(s); trunc {
		return "", true
	} else if ok {
		s = block
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], false
			}
		}
	}
	// Object opened but input ended first: the output was cut off.
	return "", true
}

// fencedBlock extracts the body of a ```json fenced block. ok reports a
// complete block; truncated reports an opening fence with no closing fence,
// which means the output stopped mid-block.
func fencedBlock(s string) (body string, ok, truncated bool) {
	open := strings.Index(s, "```")
	if open == -1 {
		return "", false, false
	}
	rest := s[open+3:]
	nl := strings.Index(rest, "\n")
	if nl == -1 {
		return "", false, true
	}
	rest = rest[nl+1:]
	closing := strings.Index(rest, "```")
	if closing == -1 {
		return "", false, true
	}
	return strings.TrimSpace(rest[:closing]), true, false
}

// checkSchema returns a non-empty detail string when parsed does not satisfy
// the schema.
func checkSchema(parsed map[string]any, schema Schema) string {
	var problems []string
	for _, f := range schema.Fields {
		v, present := parsed[f.Name]
		if !present || v == nil {
			if !f.Optional {
				problems = append(problems, fmt.Sprintf("missing field %q", f.Name))
			}
			continue
		}
		if !kindMatches(v, f.Kind) {
			problems = append(problems,
				fmt.Sprintf("field %q has type %T, want %s", f.Name, v, kindName(f.Kind)))
		}
	}
	return strings.Join(problems, "; ")
}

func kindMatches(v any, k FieldKind) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindMap:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func kindName(k FieldKind) string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "object"
	}
	return "unknown"
}
