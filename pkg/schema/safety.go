package schema

import (
	"encoding/json"
	"fmt"
)

// SafetyLimits bounds a JSON-safety check over an arbitrary evidence/meta/
// ext payload, spec §4.5: defeats hostile payloads (deep nesting, wide
// objects, huge arrays, node-count bombs) before such a value is ever
// accepted into the envelope.
type SafetyLimits struct {
	MaxDepth      int
	MaxKeys       int // per object
	MaxArrayLen   int
	MaxTotalNodes int
}

// DefaultSafetyLimits are conservative bounds suitable for evidence/meta/
// ext fields attached to a single receipt.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxDepth:      16,
		MaxKeys:       256,
		MaxArrayLen:   1024,
		MaxTotalNodes: 10000,
	}
}

// frame is one level of the explicit work stack CheckSafe walks, avoiding
// Go-level recursion so a maliciously deep payload can't blow the checker's
// own stack before the depth limit is even evaluated.
type frame struct {
	value any
	depth int
}

// CheckSafe iteratively walks raw (already unmarshalled into `any`) and
// returns an error the first time any limit is exceeded.
func CheckSafe(v any, limits SafetyLimits) error {
	stack := []frame{{value: v, depth: 0}}
	nodes := 0

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nodes++
		if nodes > limits.MaxTotalNodes {
			return fmt.Errorf("schema: payload exceeds max total nodes (%d)", limits.MaxTotalNodes)
		}
		if f.depth > limits.MaxDepth {
			return fmt.Errorf("schema: payload exceeds max depth (%d)", limits.MaxDepth)
		}

		switch val := f.value.(type) {
		case map[string]any:
			if len(val) > limits.MaxKeys {
				return fmt.Errorf("schema: object exceeds max keys (%d)", limits.MaxKeys)
			}
			for _, child := range val {
				stack = append(stack, frame{value: child, depth: f.depth + 1})
			}
		case []any:
			if len(val) > limits.MaxArrayLen {
				return fmt.Errorf("schema: array exceeds max length (%d)", limits.MaxArrayLen)
			}
			for _, child := range val {
				stack = append(stack, frame{value: child, depth: f.depth + 1})
			}
		default:
			// scalar: string, number, bool, nil — nothing further to walk.
		}
	}
	return nil
}

// CheckSafeJSON unmarshals raw and applies CheckSafe to the result, for
// callers holding an un-decoded evidence/meta/ext blob.
func CheckSafeJSON(raw json.RawMessage, limits SafetyLimits) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("schema: invalid json: %w", err)
	}
	return CheckSafe(v, limits)
}
