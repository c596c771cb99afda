package rosetta

import (
	"fmt"
	"strconv"
	"strings"
)

// ResolvePath evaluates a json-path subset against a decoded JSON document.
// Supported grammar: `$.a.b.c` with optional array index steps `a[0]`.
// Returns the value rendered as a string, plus whether the path resolved.
// Non-scalar leaves resolve to their JSON-ish rendering via fmt.
func ResolvePath(doc any, path string) (string, bool, error) {
	if !strings.HasPrefix(path, "$") {
		return "", false, fmt.Errorf("path %q must start with $", path)
	}
	rest := strings.TrimPrefix(path, "$")
	rest = strings.TrimPrefix(rest, ".")
	if rest == "" {
		return "", false, fmt.Errorf("path %q selects the document root", path)
	}

	current := doc
	for _, step := range strings.Split(rest, ".") {
		if step == "" {
			return "", false, fmt.Errorf("path %q contains an empty step", path)
		}
		key, index, hasIndex, err := parseStep(step)
		if err != nil {
			return "", false, err
		}

		obj, ok := current.(map[string]any)
		if !ok {
			return "", false, nil
		}
		current, ok = obj[key]
		if !ok {
			return "", false, nil
		}

		if hasIndex {
			arr, ok := current.([]any)
			if !ok || index >= len(arr) {
				return "", false, nil
			}
			current = arr[index]
		}
	}

	return renderScalar(current), true, nil
}

// parseStep splits "name[3]" into its key and optional index.
func parseStep(step string) (key string, index int, hasIndex bool, err error) {
	open := strings.IndexByte(step, '[')
	if open < 0 {
		return step, 0, false, nil
	}
	if !strings.HasSuffix(step, "]") {
		return "", 0, false, fmt.Errorf("malformed index in path step %q", step)
	}
	key = step[:open]
	idxStr := step[open+1 : len(step)-1]
	index, err = strconv.Atoi(idxStr)
	if err != nil || index < 0 {
		return "", 0, false, fmt.Errorf("malformed index in path step %q", step)
	}
	return key, index, true, nil
}

func renderScalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		// JSON numbers decode to float64; render integers without exponent.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
