package extract

import (
	"encoding/json"
	"fmt"
)

// String returns obj[key] when it is a non-empty string
func String(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// Object returns obj[key] when it is a JSON object
func Object(obj map[string]any, key string) (map[string]any, bool) {
	v, ok := obj[key].(map[string]any)
	return v, ok
}

// Strings coerces every element of a JSON array to its string form.
// Anything that is not an array yields an empty slice.
func Strings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		out[i] = stringify(e)
	}
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprint(x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
