package engine

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/flowmonkey-go/store"
)

// templateSpan matches a single ${path} interpolation span.
var templateSpan = regexp.MustCompile(`\$\{([^}]*)\}`)

// ResolveInput derives a step's handler input from an execution's context
// using one of the six selector variants (spec §4.1 Input resolver).
func ResolveInput(selector store.InputSelector, execContext map[string]any) (any, error) {
	switch selector.Type {
	case store.SelectorKey:
		return resolveKey(selector, execContext)
	case store.SelectorKeys:
		return resolveKeys(selector, execContext)
	case store.SelectorPath:
		return resolvePath(selector, execContext)
	case store.SelectorTemplate:
		return resolveTemplate(selector, execContext)
	case store.SelectorFull:
		return store.DeepCopyValue(execContext), nil
	case store.SelectorStatic:
		return selector.Value, nil
	default:
		return nil, newError(CodeInputKeyMissing, "unknown input selector type: "+string(selector.Type))
	}
}

func resolveKey(selector store.InputSelector, ctx map[string]any) (any, error) {
	value, ok := ctx[selector.Key]
	if !ok {
		if selector.Required {
			return nil, newError(CodeInputKeyMissing, "missing required context key", "key", selector.Key)
		}
		return nil, nil
	}
	return store.DeepCopyValue(value), nil
}

func resolveKeys(selector store.InputSelector, ctx map[string]any) (any, error) {
	out := make(map[string]any, len(selector.Keys))
	for _, key := range selector.Keys {
		if value, ok := ctx[key]; ok {
			out[key] = store.DeepCopyValue(value)
		}
	}
	return out, nil
}

// contextJSON marshals the context once; callers needing gjson path
// traversal reuse the same encoding spec.md requires for determinism.
func contextJSON(ctx map[string]any) ([]byte, error) {
	return json.Marshal(ctx)
}

func resolvePath(selector store.InputSelector, ctx map[string]any) (any, error) {
	data, err := contextJSON(ctx)
	if err != nil {
		return nil, newError(CodeInputPathMissing, "context is not serializable: "+err.Error())
	}
	result := gjson.GetBytes(data, selector.Path)
	if !result.Exists() {
		if selector.Required {
			return nil, newError(CodeInputPathMissing, "missing required context path", "path", selector.Path)
		}
		return nil, nil
	}
	return result.Value(), nil
}

func resolveTemplate(selector store.InputSelector, ctx map[string]any) (any, error) {
	data, err := contextJSON(ctx)
	if err != nil {
		return nil, newError(CodeInputTemplateUnresolved, "context is not serializable: "+err.Error())
	}

	onMissing := selector.OnMissing
	if onMissing == "" {
		onMissing = "fail"
	}

	var missingPath string
	rendered := templateSpan.ReplaceAllStringFunc(selector.Template, func(span string) string {
		path := strings.TrimSuffix(strings.TrimPrefix(span, "${"), "}")
		result := gjson.GetBytes(data, path)
		if !result.Exists() {
			if missingPath == "" {
				missingPath = path
			}
			return ""
		}
		return result.String()
	})

	if missingPath != "" && onMissing != "empty" {
		return nil, newError(CodeInputTemplateUnresolved, "unresolved template path", "path", missingPath)
	}

	if containsControlChar(rendered) {
		return nil, newError(CodeInputTemplateUnresolved, "template expansion contains control characters")
	}

	return rendered, nil
}

func containsControlChar(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\t' {
			return true
		}
	}
	return false
}
