// Package llmjson turns model output into JSON. Parsing is layered: strict
// parse, then structural fixes, then salvage of individual annotation
// objects. Each tier is a pure function; only the last failure is reported.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrUnparsable = errors.New("unparsable model response")

// Step names a parsing tier. It is reported on success for diagnostics and on
// failure as the tier that gave up.
type Step string

const (
	StepExtract   Step = "extract"
	StepStrict    Step = "strict_parse"
	StepWrapArray Step = "wrap_array"
	StepFixSyntax Step = "fix_syntax"
	StepSalvage   Step = "salvage"
)

type UnparsableError struct {
	Step Step
	Err  error
}

func (e *UnparsableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (step=%s)", ErrUnparsable, e.Step)
	}
	return fmt.Sprintf("%v (step=%s): %v", ErrUnparsable, e.Step, e.Err)
}

func (e *UnparsableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnparsable}
	}
	return []error{ErrUnparsable, e.Err}
}

type Options struct {
	// Truncated is set when the completion stopped on its output-token limit.
	Truncated bool
	// Salvage enables the annotation-fragment tier. Only meaningful for
	// responses shaped like {"annotations": [...]}.
	Salvage bool
	// ArrayKey, when set, accepts a bare array of objects as the response
	// and wraps it as {ArrayKey: [...]}. The array must open before any
	// object does; prose ahead of it is skipped.
	ArrayKey string
}

type Result struct {
	JSON []byte
	Step Step
}

// Parse returns a JSON object extracted from raw model output, or an
// *UnparsableError naming the tier that failed last.
func Parse(raw string, opts Options) (Result, error) {
	s := raw
	if opts.Truncated {
		s = CloseTruncated(s)
	}
	s = StripFences(s)

	if opts.ArrayKey != "" {
		if arr, ok := leadingArray(s); ok {
			wrapped := wrapArray(opts.ArrayKey, arr)
			if strictObject(wrapped) == nil {
				return Result{JSON: []byte(wrapped), Step: StepWrapArray}, nil
			}
			fixed := FixSyntax(wrapped)
			fixErr := strictObject(fixed)
			if fixErr == nil {
				return Result{JSON: []byte(fixed), Step: StepFixSyntax}, nil
			}
			// The first object inside the array is an element, not the response.
			if !opts.Salvage {
				return Result{}, &UnparsableError{Step: StepFixSyntax, Err: fixErr}
			}
			return salvage(s, fixErr)
		}
	}

	candidate, ok := ExtractObject(s)
	if !ok {
		if i := strings.IndexByte(s, '{'); i >= 0 {
			candidate = s[i:]
		} else {
			return Result{}, &UnparsableError{Step: StepExtract, Err: errors.New("no JSON object found")}
		}
	}

	strictErr := strictObject(candidate)
	if strictErr == nil {
		return Result{JSON: []byte(candidate), Step: StepStrict}, nil
	}

	fixed := FixSyntax(candidate)
	fixErr := strictObject(fixed)
	if fixErr == nil {
		return Result{JSON: []byte(fixed), Step: StepFixSyntax}, nil
	}
	if !opts.Salvage {
		return Result{}, &UnparsableError{Step: StepFixSyntax, Err: fixErr}
	}

	return salvage(s, fixErr)
}

func salvage(s string, cause error) (Result, error) {
	fragments := SalvageAnnotations(s)
	if len(fragments) == 0 {
		return Result{}, &UnparsableError{Step: StepSalvage, Err: cause}
	}
	return Result{JSON: []byte(`{"annotations":[` + strings.Join(fragments, ",") + `]}`), Step: StepSalvage}, nil
}

// Repair parses raw into a generic object, with salvage enabled.
func Repair(raw string, truncated bool) (map[string]any, error) {
	res, err := Parse(raw, Options{Truncated: truncated, Salvage: true})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(res.JSON, &out); err != nil {
		return nil, &UnparsableError{Step: res.Step, Err: err}
	}
	return out, nil
}

// Decode parses raw and unmarshals it into v, returning the tier that succeeded.
func Decode(raw string, opts Options, v any) (Step, error) {
	res, err := Parse(raw, opts)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(res.JSON, v); err != nil {
		return "", &UnparsableError{Step: res.Step, Err: err}
	}
	return res.Step, nil
}

func strictObject(s string) error {
	var obj map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &obj)
}

// StripFences removes a leading ``` line (with optional language tag) and a
// trailing ``` fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimLeft(strings.TrimPrefix(s, "```"), "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractObject returns the first balanced top-level {...} in s. Braces
// inside string literals are ignored.
func ExtractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	return balanced(s, start)
}

// leadingArray finds an array of objects (or an empty array) that opens
// before the first '{' of s.
func leadingArray(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			return "", false
		case '[':
			next := nextNonSpace(s, i+1)
			if next < 0 || (s[next] != '{' && s[next] != ']') {
				continue
			}
			if arr, ok := balanced(s, i); ok {
				return arr, true
			}
			return s[i:], true
		}
	}
	return "", false
}

func wrapArray(key, arr string) string {
	k, _ := json.Marshal(key)
	return "{" + string(k) + ":" + arr + "}"
}

// balanced returns s[start:] up to the bracket that closes the one at start.
func balanced(s string, start int) (string, bool) {
	depth := 0
	inString, escaped := false, false
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func nextNonSpace(s string, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return i
	}
	return -1
}

// CloseTruncated cuts s after its last '}' and appends the closers for any
// brackets still open at that point, in nesting order.
func CloseTruncated(s string) string {
	last := strings.LastIndexByte(s, '}')
	if last < 0 {
		return s
	}
	s = s[:last+1]

	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

var annotationFragRe = regexp.MustCompile(`\{[^{}]*"phrase"\s*:[^{}]*\}`)

// FixSyntax applies the textual repairs models most often need: trailing
// commas, a dangling comma at the end, and a missing comma between objects.
// String literals are copied unchanged.
func FixSyntax(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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
		case ',':
			if next := nextNonSpace(s, i+1); next < 0 || s[next] == ']' || s[next] == '}' {
				continue
			}
		case '}':
			if next := nextNonSpace(s, i+1); next >= 0 && s[next] == '{' {
				b.WriteString("},")
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SalvageAnnotations returns every flat object fragment in s that parses and
// carries string "phrase" and "type" fields.
func SalvageAnnotations(s string) []string {
	var out []string
	for _, frag := range annotationFragRe.FindAllString(s, -1) {
		frag = FixSyntax(frag)
		if !gjson.Valid(frag) {
			continue
		}
		phrase := gjson.Get(frag, "phrase")
		kind := gjson.Get(frag, "type")
		if phrase.Type != gjson.String || kind.Type != gjson.String || kind.Str == "" {
			continue
		}
		out = append(out, frag)
	}
	return out
}
