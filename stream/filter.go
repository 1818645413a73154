// Package stream implements the server- and client-side stream
// registries, the bounded per-stream ring buffer, and the filter
// evaluator of §4.D/§4.E/§4.F.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/itchyny/gojq"
)

// CustomHook is the per-actor "filterable" callback a custom filter
// delegates to. Actors that don't implement it cause custom filters to
// always pass (§4.F).
type CustomHook func(payload []byte, customData []byte) bool

// Evaluator runs one streamID's active filter against each candidate
// payload before it is buffered or emitted. A single Evaluator instance
// is scoped to one streamID so its `changed` state is private to that
// stream.
type Evaluator struct {
	mu       sync.Mutex
	filter   envelope.Filter
	lastPass []byte // last payload that passed a "changed" filter
	hasLast  bool
	hook     CustomHook
	query    *gojq.Code // compiled "threshold" field path, if any
}

// NewEvaluator compiles filter into an Evaluator. hook is consulted for
// Kind == FilterCustom; pass nil if the actor implements no such hook.
func NewEvaluator(filter envelope.Filter, hook CustomHook) (*Evaluator, error) {
	e := &Evaluator{filter: filter, hook: hook}

	if filter.Kind == envelope.FilterPredefined && filter.Name == "threshold" {
		field := filter.Params["field"]
		if field != "" {
			q, err := compileFieldPath(field)
			if err != nil {
				return nil, fmt.Errorf("stream: threshold filter: %w", err)
			}
			e.query = q
		}
	}
	return e, nil
}

// compileFieldPath turns a dotted field path ("a.b.c") into a gojq query
// ".a.b.c" so threshold extraction reuses the same expression engine the
// rest of the platform uses for JSON field access.
func compileFieldPath(field string) (*gojq.Code, error) {
	expr := "."
	for i, part := range splitDotted(field) {
		if i > 0 {
			expr += "."
		}
		expr += part
	}
	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, err
	}
	return gojq.Compile(parsed)
}

func splitDotted(field string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(field); i++ {
		if i == len(field) || field[i] == '.' {
			if i > start {
				parts = append(parts, field[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Pass evaluates the active filter against payload, returning true if
// the candidate should be buffered and emitted.
func (e *Evaluator) Pass(payload []byte) bool {
	switch e.filter.Kind {
	case envelope.FilterAll, "":
		return true
	case envelope.FilterPredefined:
		return e.passPredefined(payload)
	case envelope.FilterCustom:
		if e.hook == nil {
			return true
		}
		return e.hook(payload, e.filter.CustomData)
	default:
		return true
	}
}

func (e *Evaluator) passPredefined(payload []byte) bool {
	switch e.filter.Name {
	case "changed":
		return e.passChanged(payload)
	case "nonEmpty":
		return passNonEmpty(payload)
	case "threshold":
		return e.passThreshold(payload)
	default:
		return true
	}
}

// passChanged compares payload bytewise to the last payload that
// passed. Pass if different or first; state is private per streamID via
// the Evaluator instance and is cleared by Reset on stream end.
func (e *Evaluator) passChanged(payload []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasLast && bytes.Equal(e.lastPass, payload) {
		return false
	}
	e.lastPass = append([]byte(nil), payload...)
	e.hasLast = true
	return true
}

// passNonEmpty decodes payload as JSON; array/object/string top-levels
// pass iff non-empty, everything else passes unconditionally.
func passNonEmpty(payload []byte) bool {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return len(t) > 0
	default:
		return true
	}
}

// passThreshold extracts a numeric value (via the compiled field path,
// or the bare payload if none was configured), compares it against the
// configured value using the configured operator. Non-numeric
// extraction fails closed: pass is false (§4.F, §8).
func (e *Evaluator) passThreshold(payload []byte) bool {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return false
	}

	extracted := v
	if e.query != nil {
		iter := e.query.Run(v)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if err, isErr := result.(error); isErr {
			_ = err
			return false
		}
		extracted = result
	}

	num, ok := extracted.(float64)
	if !ok {
		return false
	}

	threshold, err := thresholdValue(e.filter.Params["value"])
	if err != nil {
		return false
	}

	switch e.filter.Params["operator"] {
	case "lt":
		return num < threshold
	case "lte":
		return num <= threshold
	case "gt", "":
		return num > threshold
	case "gte":
		return num >= threshold
	case "eq":
		return num == threshold
	case "neq":
		return num != threshold
	default:
		return false
	}
}

func thresholdValue(raw string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(raw, "%g", &f)
	if err != nil {
		return 0, fmt.Errorf("stream: invalid threshold value %q: %w", raw, err)
	}
	return f, nil
}

// Reset clears the `changed` filter's last-passed state, called on
// stream end (§4.F).
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPass = nil
	e.hasLast = false
}
