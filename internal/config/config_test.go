package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "test-probe", cfg.ActorSystemName)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 15*time.Minute, cfg.Timers.Testing)
	assert.Equal(t, "localhost:9092", cfg.Kafka.BootstrapServers)
	assert.Equal(t, "local", cfg.Vault.Provider)
	assert.Equal(t, 30*time.Second, cfg.DSL.AskTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
actorSystemName: probe-staging
http:
  port: 9090
timers:
  loadingState: 90s
kafka:
  bootstrapServers: broker-1:9092,broker-2:9092
  schemaRegistryUrl: http://registry:8081
vault:
  provider: azure-function
  endpoint: https://vault-fn.azurewebsites.net/api/creds
  requestParams:
    environment: staging
  rosetta:
    mappings:
      - targetField: clientId
        sourcePath: $.data.client_id
      - targetField: clientSecret
        sourcePath: $.data.client_secret
        transformations: [base64Decode]
storage:
  provider: s3
  s3:
    region: us-east-1
dsl:
  askTimeout: 45s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "probe-staging", cfg.ActorSystemName)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 90*time.Second, cfg.Timers.Loading)
	assert.Equal(t, "broker-1:9092,broker-2:9092", cfg.Kafka.BootstrapServers)
	assert.Equal(t, "azure-function", cfg.Vault.Provider)
	assert.Equal(t, "staging", cfg.Vault.RequestParams["environment"])
	require.Len(t, cfg.Vault.Rosetta.Mappings, 2)
	assert.Equal(t, []string{"base64Decode"}, cfg.Vault.Rosetta.Mappings[1].Transformations)
	assert.Equal(t, 45*time.Second, cfg.DSL.AskTimeout)
}

func TestLoadValidation(t *testing.T) {
	t.Run("rejects unknown vault provider", func(t *testing.T) {
		path := writeConfig(t, "vault:\n  provider: filing-cabinet\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects out-of-range port", func(t *testing.T) {
		path := writeConfig(t, "http:\n  port: 99999\n")
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := Load("/no/such/config.yaml")
		assert.Error(t, err)
	})
}
