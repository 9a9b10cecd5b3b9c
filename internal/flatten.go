package internal

import "fmt"

// Flatten collapses a nested payload map into a single-level map whose keys
// join the nesting path with ".". Arrays are exposed under the raw path,
// under "path[]", and element-wise under "path[i]", so guard expressions can
// address any of them. For example, `{"change": {"number": 12}}` becomes
// `{"change.number": 12}`.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenInto(out, fmt.Sprintf("%s.%s", path, key), child)
		}
	case []interface{}:
		out[path] = typed
		out[path+"[]"] = typed
		for i, child := range typed {
			flattenInto(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
