package sqlbackend

import "encoding/json"

// marshalJSON serializes v, treating a nil map/slice identically to an
// absent value so optional columns stay NULL instead of the literal
// string "null".
func marshalJSON(v any) (any, error) {
	if isNilish(v) {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isNilish(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return t == nil
	case []string:
		return t == nil
	}
	return false
}

// unmarshalJSON decodes a nullable TEXT/JSON column into dst. An absent
// column leaves dst untouched.
func unmarshalJSON(raw *string, dst any) error {
	if raw == nil || *raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(*raw), dst)
}
