package rosetta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

const sampleVaultResponse = `{
	"data": {
		"credentials": {
			"client_id": "svc-orders",
			"client_secret": "c2VjcmV0LXZhbHVl"
		},
		"endpoints": [
			{"token": "https://auth.internal/oauth/token"}
		]
	},
	"lease_seconds": 3600
}`

func TestApply(t *testing.T) {
	t.Run("resolves every mapped field", func(t *testing.T) {
		cfg := Config{Mappings: []FieldMapping{
			{TargetField: FieldClientID, SourcePath: "$.data.credentials.client_id"},
			{TargetField: FieldClientSecret, SourcePath: "$.data.credentials.client_secret", Transformations: []string{"base64Decode"}},
			{TargetField: FieldTokenEndpoint, SourcePath: "$.data.endpoints[0].token"},
		}}

		fields, err := Apply(cfg, []byte(sampleVaultResponse))
		require.NoError(t, err)
		assert.Equal(t, "svc-orders", fields[FieldClientID])
		assert.Equal(t, "secret-value", fields[FieldClientSecret])
		assert.Equal(t, "https://auth.internal/oauth/token", fields[FieldTokenEndpoint])
	})

	t.Run("falls back to default value", func(t *testing.T) {
		cfg := Config{Mappings: []FieldMapping{
			{TargetField: FieldScope, SourcePath: "$.data.scope", DefaultValue: "kafka.produce"},
		}}
		fields, err := Apply(cfg, []byte(sampleVaultResponse))
		require.NoError(t, err)
		assert.Equal(t, "kafka.produce", fields[FieldScope])
	})

	t.Run("fails naming the first missing field", func(t *testing.T) {
		cfg := Config{Mappings: []FieldMapping{
			{TargetField: FieldClientID, SourcePath: "$.data.credentials.client_id"},
			{TargetField: "missingOne", SourcePath: "$.data.nope"},
			{TargetField: "missingTwo", SourcePath: "$.data.alsoNope"},
		}}
		_, err := Apply(cfg, []byte(sampleVaultResponse))
		require.Error(t, err)
		assert.Equal(t, probeerr.KindVaultMapping, probeerr.KindOf(err))
		assert.Contains(t, err.Error(), "missingOne")
		assert.NotContains(t, err.Error(), "missingTwo")
	})

	t.Run("rejects non-json response", func(t *testing.T) {
		_, err := Apply(Config{}, []byte("<html>nope</html>"))
		require.Error(t, err)
		assert.Equal(t, probeerr.KindVaultMapping, probeerr.KindOf(err))
	})

	t.Run("renders numeric leaves as strings", func(t *testing.T) {
		cfg := Config{Mappings: []FieldMapping{
			{TargetField: "lease", SourcePath: "$.lease_seconds"},
		}}
		fields, err := Apply(cfg, []byte(sampleVaultResponse))
		require.NoError(t, err)
		assert.Equal(t, "3600", fields["lease"])
	})
}

func TestResolvePath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{
			"b": []any{
				map[string]any{"c": "deep"},
			},
			"flag": true,
		},
	}

	t.Run("walks nested objects and arrays", func(t *testing.T) {
		value, found, err := ResolvePath(doc, "$.a.b[0].c")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "deep", value)
	})

	t.Run("reports missing keys without error", func(t *testing.T) {
		_, found, err := ResolvePath(doc, "$.a.x.y")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("reports out-of-range index without error", func(t *testing.T) {
		_, found, err := ResolvePath(doc, "$.a.b[5].c")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("renders booleans", func(t *testing.T) {
		value, found, err := ResolvePath(doc, "$.a.flag")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "true", value)
	})

	t.Run("rejects paths without dollar prefix", func(t *testing.T) {
		_, _, err := ResolvePath(doc, "a.b")
		assert.Error(t, err)
	})

	t.Run("rejects malformed index", func(t *testing.T) {
		_, _, err := ResolvePath(doc, "$.a.b[x].c")
		assert.Error(t, err)
	})
}

func TestApplyTransformations(t *testing.T) {
	cases := []struct {
		name            string
		value           string
		transformations []string
		expected        string
	}{
		{"base64Decode", "aGVsbG8=", []string{"base64Decode"}, "hello"},
		{"toUpper", "abc", []string{"toUpper"}, "ABC"},
		{"toLower", "AbC", []string{"toLower"}, "abc"},
		{"trim", "  x  ", []string{"trim"}, "x"},
		{"prefix", "id", []string{"prefix(svc-)"}, "svc-id"},
		{"suffix", "svc", []string{"suffix(-prod)"}, "svc-prod"},
		{"chained in order", "IEFCQyA=", []string{"base64Decode", "trim", "toLower", "prefix(x-)"}, "x-abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := ApplyTransformations(tc.value, tc.transformations)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, out)
		})
	}

	t.Run("fails on unknown transformation", func(t *testing.T) {
		_, err := ApplyTransformations("v", []string{"rot13"})
		assert.Error(t, err)
	})

	t.Run("fails on invalid base64", func(t *testing.T) {
		_, err := ApplyTransformations("not base64!", []string{"base64Decode"})
		assert.Error(t, err)
	})
}

func TestExpandTemplate(t *testing.T) {
	td := directive.TopicDirective{
		Topic:           "orders",
		Role:            directive.RoleProducer,
		ClientPrincipal: "svc-orders",
	}
	params := map[string]string{"environment": "staging"}

	t.Run("replaces every placeholder kind", func(t *testing.T) {
		template := map[string]any{
			"topic":     "{{topic}}",
			"role":      "{{role}}",
			"principal": "{{clientPrincipal}}",
			"env":       "{{$^request-params.environment}}",
			"version":   "{{'v2'}}",
			"nested": map[string]any{
				"mixed": "prefix-{{topic}}-suffix",
			},
			"list":  []any{"{{role}}", 7},
			"count": 3,
		}

		out, err := ExpandTemplate(template, td, params)
		require.NoError(t, err)
		assert.Equal(t, "orders", out["topic"])
		assert.Equal(t, "producer", out["role"])
		assert.Equal(t, "svc-orders", out["principal"])
		assert.Equal(t, "staging", out["env"])
		assert.Equal(t, "v2", out["version"])
		assert.Equal(t, "prefix-orders-suffix", out["nested"].(map[string]any)["mixed"])
		assert.Equal(t, "producer", out["list"].([]any)[0])
		assert.Equal(t, 3, out["count"])
	})

	t.Run("fails on unknown placeholder", func(t *testing.T) {
		_, err := ExpandTemplate(map[string]any{"x": "{{mystery}}"}, td, params)
		require.Error(t, err)
		assert.Equal(t, probeerr.KindInvalidTemplate, probeerr.KindOf(err))
	})

	t.Run("fails on missing request parameter", func(t *testing.T) {
		_, err := ExpandTemplate(map[string]any{"x": "{{$^request-params.region}}"}, td, params)
		require.Error(t, err)
		assert.Equal(t, probeerr.KindInvalidTemplate, probeerr.KindOf(err))
	})

	t.Run("fails on unterminated placeholder", func(t *testing.T) {
		_, err := ExpandTemplate(map[string]any{"x": "{{topic"}, td, params)
		assert.Error(t, err)
	})
}
