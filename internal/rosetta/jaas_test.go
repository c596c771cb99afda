package rosetta

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

func TestAssembleJaas(t *testing.T) {
	defaults := JaasDefaults{TokenEndpoint: "https://auth.internal/token", Scope: "kafka"}

	t.Run("assembles the full oauth string", func(t *testing.T) {
		jaas, err := AssembleJaas(map[string]string{
			FieldClientID:     "client-a",
			FieldClientSecret: "secret-a",
		}, defaults)
		require.NoError(t, err)

		assert.Equal(t,
			`org.apache.kafka.common.security.oauthbearer.OAuthBearerLoginModule required `+
				`oauth.client.id="client-a" oauth.client.secret="secret-a" `+
				`oauth.token.endpoint.uri="https://auth.internal/token" oauth.scope="kafka";`,
			jaas)
	})

	t.Run("field values override defaults", func(t *testing.T) {
		jaas, err := AssembleJaas(map[string]string{
			FieldClientID:      "c",
			FieldClientSecret:  "s",
			FieldTokenEndpoint: "https://other/token",
			FieldScope:         "custom.scope",
		}, defaults)
		require.NoError(t, err)
		assert.Contains(t, jaas, `oauth.token.endpoint.uri="https://other/token"`)
		assert.Contains(t, jaas, `oauth.scope="custom.scope"`)
	})

	t.Run("scope is omitted when absent everywhere", func(t *testing.T) {
		jaas, err := AssembleJaas(map[string]string{
			FieldClientID:     "c",
			FieldClientSecret: "s",
		}, JaasDefaults{TokenEndpoint: "https://auth/token"})
		require.NoError(t, err)
		assert.NotContains(t, jaas, "oauth.scope")
	})

	t.Run("missing clientId is a mapping failure", func(t *testing.T) {
		_, err := AssembleJaas(map[string]string{FieldClientSecret: "s"}, defaults)
		require.Error(t, err)
		assert.Equal(t, probeerr.KindVaultMapping, probeerr.KindOf(err))
	})

	t.Run("missing clientSecret is a mapping failure", func(t *testing.T) {
		_, err := AssembleJaas(map[string]string{FieldClientID: "c"}, defaults)
		require.Error(t, err)
		assert.Equal(t, probeerr.KindVaultMapping, probeerr.KindOf(err))
	})

	t.Run("missing token endpoint is a mapping failure", func(t *testing.T) {
		_, err := AssembleJaas(map[string]string{
			FieldClientID:     "c",
			FieldClientSecret: "s",
		}, JaasDefaults{})
		require.Error(t, err)
		assert.Equal(t, probeerr.KindVaultMapping, probeerr.KindOf(err))
	})
}

func TestJaasEscapingRoundTrip(t *testing.T) {
	defaults := JaasDefaults{TokenEndpoint: "https://auth/token"}

	awkward := []string{
		`plain`,
		`with"quote`,
		`with\backslash`,
		"with\nnewline",
		"with\rcarriage",
		"all\\of\"them\n\r",
		`trailing\`,
	}

	for _, clientID := range awkward {
		for _, clientSecret := range awkward {
			jaas, err := AssembleJaas(map[string]string{
				FieldClientID:     clientID,
				FieldClientSecret: clientSecret,
			}, defaults)
			require.NoError(t, err)

			// Exactly one semicolon, at the very end.
			assert.True(t, strings.HasSuffix(jaas, ";"))
			assert.Equal(t, 1, strings.Count(jaas, ";"))

			settings, err := ParseJaas(jaas)
			require.NoError(t, err, "jaas: %s", jaas)
			assert.Equal(t, clientID, settings.ClientID)
			assert.Equal(t, clientSecret, settings.ClientSecret)
			assert.Equal(t, "https://auth/token", settings.TokenEndpoint)
		}
	}
}

func TestEscapeJaasValue(t *testing.T) {
	assert.Equal(t, `a\\b`, EscapeJaasValue(`a\b`))
	assert.Equal(t, `a\"b`, EscapeJaasValue(`a"b`))
	assert.Equal(t, `a\nb`, EscapeJaasValue("a\nb"))
	assert.Equal(t, `a\rb`, EscapeJaasValue("a\rb"))
	assert.Equal(t, "plain", EscapeJaasValue("plain"))
}

func TestParseJaas(t *testing.T) {
	t.Run("rejects foreign login modules", func(t *testing.T) {
		_, err := ParseJaas(`com.example.Other required user="x";`)
		assert.Error(t, err)
	})

	t.Run("rejects missing credentials", func(t *testing.T) {
		_, err := ParseJaas(`org.apache.kafka.common.security.oauthbearer.OAuthBearerLoginModule required oauth.scope="s";`)
		assert.Error(t, err)
	})
}
