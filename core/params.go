package core

import (
	"encoding/json"
	"fmt"
)

// ParameterSet maps parameter names to scalar or structured values. A set is
// owned by a single run; callers Clone before handing it to code that may
// mutate it.
type ParameterSet map[string]any

// Clone returns a deep copy of the set. Nested maps and slices produced by
// encoding/json are copied recursively so the clone never aliases p.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return ParameterSet{}
	}
	out := make(ParameterSet, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new set containing every key of p overlaid with update.
// Existing keys are overwritten, new keys are added and no key is dropped.
func (p ParameterSet) Merge(update map[string]any) ParameterSet {
	out := p.Clone()
	for k, v := range update {
		out[k] = cloneValue(v)
	}
	return out
}

// JSON serializes the set. Map keys are emitted in sorted order so prompts
// built from the same parameters are byte-identical.
func (p ParameterSet) JSON() (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}
	return string(b), nil
}

// ParseParameterSet decodes a JSON object into a ParameterSet.
func ParseParameterSet(raw string) (ParameterSet, error) {
	var p ParameterSet
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("decode parameters: not a JSON object")
	}
	return p, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case ParameterSet:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case []float64:
		return append([]float64(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
