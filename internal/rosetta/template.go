package rosetta

import (
	"strings"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

const requestParamMarker = "$^request-params."

// ExpandTemplate walks the request template tree replacing placeholder
// leaves. Supported placeholders:
//
//	{{topic}} {{role}} {{clientPrincipal}}  — topic directive fields
//	{{$^request-params.X}}                  — caller-provided parameter map
//	{{'literal'}}                           — verbatim literal
//
// Strings may mix placeholders with surrounding text. An unresolvable
// placeholder fails with InvalidTemplate.
func ExpandTemplate(template map[string]any, td directive.TopicDirective, params map[string]string) (map[string]any, error) {
	out, err := expandValue(template, td, params)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func expandValue(v any, td directive.TopicDirective, params map[string]string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			expanded, err := expandValue(child, td, params)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			expanded, err := expandValue(child, td, params)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	case string:
		return expandString(t, td, params)
	default:
		return v, nil
	}
}

func expandString(s string, td directive.TopicDirective, params map[string]string) (string, error) {
	var b strings.Builder
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closing := strings.Index(rest[open:], "}}")
		if closing < 0 {
			return "", probeerr.New(probeerr.KindInvalidTemplate, "unterminated placeholder in %q", s)
		}
		b.WriteString(rest[:open])
		placeholder := rest[open+2 : open+closing]
		resolved, err := resolvePlaceholder(strings.TrimSpace(placeholder), td, params)
		if err != nil {
			return "", err
		}
		b.WriteString(resolved)
		rest = rest[open+closing+2:]
	}
}

func resolvePlaceholder(name string, td directive.TopicDirective, params map[string]string) (string, error) {
	switch name {
	case "topic":
		return td.Topic, nil
	case "role":
		return string(td.Role), nil
	case "clientPrincipal":
		return td.ClientPrincipal, nil
	}
	if strings.HasPrefix(name, "'") && strings.HasSuffix(name, "'") && len(name) >= 2 {
		return name[1 : len(name)-1], nil
	}
	if strings.HasPrefix(name, requestParamMarker) {
		key := strings.TrimPrefix(name, requestParamMarker)
		value, ok := params[key]
		if !ok {
			return "", probeerr.New(probeerr.KindInvalidTemplate, "request parameter %q is not configured", key)
		}
		return value, nil
	}
	return "", probeerr.New(probeerr.KindInvalidTemplate, "unknown placeholder {{%s}}", name)
}
