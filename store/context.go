package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"
)

// ContextLimits bound the size, breadth and nesting of an execution's
// context. Exceeding any of them is a hard failure distinct from a handler
// failure (see engine errors CONTEXT_KEY_LIMIT, CONTEXT_SIZE_LIMIT,
// CONTEXT_DEPTH_LIMIT).
type ContextLimits struct {
	MaxKeys      int
	MaxSizeBytes int
	MaxDepth     int
}

// DefaultContextLimits matches the budgets the reference relational backend
// is sized for; callers needing different caps pass their own ContextLimits
// to engine.Option WithContextLimits.
var DefaultContextLimits = ContextLimits{
	MaxKeys:      256,
	MaxSizeBytes: 1 << 20, // 1MiB
	MaxDepth:     16,
}

// LargeValueThreshold is the per-value byte size above which a context
// value counts as large. No code in this module moves a large value into a
// ContextStorage side store or replaces it with a LargeValueRef; values of
// any size stay inline in the context.
const LargeValueThreshold = 32 * 1024

// LargeValueRef is the marker object shape {_ref, summary, size,
// createdAt} for a context value held in a ContextStorage side store.
type LargeValueRef struct {
	Ref       bool      `json:"_ref"`
	Summary   string    `json:"summary"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsLargeValueRef reports whether v has the LargeValueRef marker shape,
// so callers can distinguish a reference from a literal value that
// happens to share its shape.
func IsLargeValueRef(v any) (LargeValueRef, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return LargeValueRef{}, false
	}
	refFlag, ok := m["_ref"].(bool)
	if !ok || !refFlag {
		return LargeValueRef{}, false
	}
	ref := LargeValueRef{Ref: true}
	if s, ok := m["summary"].(string); ok {
		ref.Summary = s
	}
	if sz, ok := m["size"].(float64); ok {
		ref.Size = int(sz)
	} else if sz, ok := m["size"].(int); ok {
		ref.Size = sz
	}
	if t, ok := m["createdAt"].(time.Time); ok {
		ref.CreatedAt = t
	}
	return ref, true
}

// DeepCopyValue recursively copies a JSON-shaped value (maps, slices,
// scalars) so that mutating the copy can never alias the original. The
// engine calls this on every store write to prevent aliasing bugs between
// the in-flight execution and whatever the caller continues to hold.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = DeepCopyValue(val)
		}
		return out
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopyValue(val)
		}
		return out
	default:
		return v
	}
}

// CanonicalJSON marshals v deterministically. Go's encoding/json already
// sorts map[string]any keys on marshal, which is exactly the determinism
// property idempotency-key and job-id hashing need: the same logical
// context always produces the same bytes.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// depth returns the maximum nesting depth of a JSON-shaped value, where a
// bare scalar has depth 1.
func depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, val := range t {
			if d := depth(val); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, val := range t {
			if d := depth(val); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}

// SetContextPath writes value into ctx at key, which may be a plain
// top-level key or a dot-path ("profile.address.city") for placement under
// nested structure — the write-side counterpart of the input resolver's
// gjson-backed dot-path reads. A plain key (no ".") is a direct map
// assignment; a dotted key is applied via sjson against the context's JSON
// encoding and the result re-decoded, creating intermediate objects as
// needed.
func SetContextPath(ctx map[string]any, key string, value any) error {
	if !strings.Contains(key, ".") {
		ctx[key] = value
		return nil
	}

	data, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("context is not serializable: %w", err)
	}
	updated, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return fmt.Errorf("setting context path %q: %w", key, err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(updated, &decoded); err != nil {
		return fmt.Errorf("decoding updated context: %w", err)
	}
	for k := range ctx {
		delete(ctx, k)
	}
	for k, v := range decoded {
		ctx[k] = v
	}
	return nil
}

// ValidateContext enforces key-count, serialized-size and nesting-depth
// caps over a context map, returning a *ExecError with one of
// CONTEXT_KEY_LIMIT, CONTEXT_SIZE_LIMIT or CONTEXT_DEPTH_LIMIT when a cap is
// exceeded.
func ValidateContext(ctx map[string]any, limits ContextLimits) error {
	if limits.MaxKeys > 0 && len(ctx) > limits.MaxKeys {
		return &ExecError{
			Code:    "CONTEXT_KEY_LIMIT",
			Message: fmt.Sprintf("context has %d keys, limit is %d", len(ctx), limits.MaxKeys),
		}
	}
	if limits.MaxDepth > 0 {
		if d := depth(ctx); d > limits.MaxDepth {
			return &ExecError{
				Code:    "CONTEXT_DEPTH_LIMIT",
				Message: fmt.Sprintf("context nesting depth %d exceeds limit %d", d, limits.MaxDepth),
			}
		}
	}
	if limits.MaxSizeBytes > 0 {
		b, err := CanonicalJSON(ctx)
		if err != nil {
			return &ExecError{Code: "CONTEXT_SIZE_LIMIT", Message: "context is not serializable: " + err.Error()}
		}
		if len(b) > limits.MaxSizeBytes {
			return &ExecError{
				Code:    "CONTEXT_SIZE_LIMIT",
				Message: fmt.Sprintf("serialized context is %d bytes, limit is %d", len(b), limits.MaxSizeBytes),
			}
		}
	}
	return nil
}
