// Package config loads the process configuration from an optional YAML
// file plus TESTPROBE_* environment overrides, and validates it into a
// plain struct the rest of the process consumes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/matthew-bram/test-probe/internal/rosetta"
)

// Config holds every tunable the orchestrator reads at startup.
type Config struct {
	ActorSystemName string `mapstructure:"actorSystemName"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	HTTP struct {
		Host                  string        `mapstructure:"host"`
		Port                  int           `mapstructure:"port"`
		Timeout               time.Duration `mapstructure:"timeout"`
		MaxConcurrentRequests int           `mapstructure:"maxConcurrentRequests"`
	} `mapstructure:"http"`

	Queue struct {
		Capacity        int `mapstructure:"capacity"`
		HistoryCapacity int `mapstructure:"historyCapacity"`
	} `mapstructure:"queue"`

	Timers struct {
		Setup     time.Duration `mapstructure:"setupState"`
		Loading   time.Duration `mapstructure:"loadingState"`
		Testing   time.Duration `mapstructure:"testingState"`
		Completed time.Duration `mapstructure:"completedState"`
		Exception time.Duration `mapstructure:"exceptionState"`
	} `mapstructure:"timers"`

	Kafka struct {
		BootstrapServers  string `mapstructure:"bootstrapServers"`
		SchemaRegistryURL string `mapstructure:"schemaRegistryUrl"`
	} `mapstructure:"kafka"`

	OAuth struct {
		TokenEndpoint string `mapstructure:"tokenEndpoint"`
		Scope         string `mapstructure:"scope"`
	} `mapstructure:"oauth"`

	Vault struct {
		Provider      string            `mapstructure:"provider"`
		Endpoint      string            `mapstructure:"endpoint"`
		FunctionName  string            `mapstructure:"functionName"`
		FunctionKey   string            `mapstructure:"functionKey"`
		Region        string            `mapstructure:"region"`
		FixtureFile   string            `mapstructure:"fixtureFile"`
		RequestParams map[string]string `mapstructure:"requestParams"`
		Rosetta       rosetta.Config    `mapstructure:"rosetta"`
	} `mapstructure:"vault"`

	Storage struct {
		Provider     string `mapstructure:"provider"`
		ManifestName string `mapstructure:"manifestName"`
		LocalRoot    string `mapstructure:"localRoot"`
		S3           struct {
			Endpoint  string `mapstructure:"endpoint"`
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"accessKey"`
			SecretKey string `mapstructure:"secretKey"`
			Insecure  bool   `mapstructure:"insecure"`
		} `mapstructure:"s3"`
		Azure struct {
			StorageAccount string `mapstructure:"storageAccount"`
		} `mapstructure:"azure"`
	} `mapstructure:"storage"`

	DSL struct {
		AskTimeout time.Duration `mapstructure:"askTimeout"`
	} `mapstructure:"dsl"`
}

// Load reads the configuration file (when present) and environment
// overrides, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TESTPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("actorSystemName", "test-probe")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.maxConcurrentRequests", 64)
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("queue.historyCapacity", 256)
	v.SetDefault("timers.setupState", "30s")
	v.SetDefault("timers.loadingState", "2m")
	v.SetDefault("timers.testingState", "15m")
	v.SetDefault("timers.completedState", "2m")
	v.SetDefault("timers.exceptionState", "2m")
	v.SetDefault("kafka.bootstrapServers", "localhost:9092")
	v.SetDefault("kafka.schemaRegistryUrl", "http://localhost:8081")
	v.SetDefault("vault.provider", "local")
	v.SetDefault("storage.provider", "")
	v.SetDefault("dsl.askTimeout", "30s")
}

func (c *Config) validate() error {
	if c.ActorSystemName == "" {
		return errors.New("actorSystemName is required")
	}
	if c.Kafka.BootstrapServers == "" {
		return errors.New("kafka.bootstrapServers is required")
	}
	if c.Kafka.SchemaRegistryURL == "" {
		return errors.New("kafka.schemaRegistryUrl is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	if c.DSL.AskTimeout <= 0 {
		return errors.New("dsl.askTimeout must be positive")
	}
	switch c.Vault.Provider {
	case "local", "lambda", "azure-function", "gcp-function":
	default:
		return fmt.Errorf("vault.provider %q is not supported", c.Vault.Provider)
	}
	return nil
}

// HTTPAddr renders the listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
