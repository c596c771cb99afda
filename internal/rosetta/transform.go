package rosetta

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// ApplyTransformations runs the named transformations over value in order.
// Supported: base64Decode, toUpper, toLower, trim, prefix(v), suffix(v).
func ApplyTransformations(value string, transformations []string) (string, error) {
	var err error
	for _, name := range transformations {
		value, err = applyOne(value, name)
		if err != nil {
			return "", err
		}
	}
	return value, nil
}

func applyOne(value, name string) (string, error) {
	switch {
	case name == "base64Decode":
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return "", fmt.Errorf("base64Decode: %w", err)
		}
		return string(decoded), nil
	case name == "toUpper":
		return strings.ToUpper(value), nil
	case name == "toLower":
		return strings.ToLower(value), nil
	case name == "trim":
		return strings.TrimSpace(value), nil
	case strings.HasPrefix(name, "prefix(") && strings.HasSuffix(name, ")"):
		return name[len("prefix("):len(name)-1] + value, nil
	case strings.HasPrefix(name, "suffix(") && strings.HasSuffix(name, ")"):
		return value + name[len("suffix("):len(name)-1], nil
	default:
		return "", fmt.Errorf("unknown transformation %q", name)
	}
}
