// Package rosetta turns a vault response document into Kafka credentials.
// It is a pure mapping layer: a json-path subset extracts values, an
// ordered transformation chain reshapes them, and a JAAS formatter emits
// the final SASL/OAUTHBEARER configuration string. Transport lives in the
// vault package so mapping can be unit tested without a vault.
package rosetta

import (
	"encoding/json"
	"fmt"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// FieldMapping maps one vault response path onto one target credential field.
type FieldMapping struct {
	TargetField     string   `yaml:"targetField" json:"targetField"`
	SourcePath      string   `yaml:"sourcePath" json:"sourcePath"`
	Transformations []string `yaml:"transformations,omitempty" json:"transformations,omitempty"`
	DefaultValue    string   `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
}

// Config is the full mapping specification for one vault provider.
type Config struct {
	Mappings        []FieldMapping `yaml:"mappings" json:"mappings"`
	RequestTemplate map[string]any `yaml:"requestTemplate,omitempty" json:"requestTemplate,omitempty"`
}

// Credential field names the JAAS assembler consumes. ClientID and
// ClientSecret are mandatory; the rest fall back to process configuration.
const (
	FieldClientID      = "clientId"
	FieldClientSecret  = "clientSecret"
	FieldTokenEndpoint = "tokenEndpoint"
	FieldScope         = "scope"
)

// Apply evaluates every field mapping against the vault response JSON and
// returns the resolved fields. Missing path and missing default fail with
// VaultMapping naming the first missing field.
func Apply(cfg Config, vaultResponse []byte) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(vaultResponse, &doc); err != nil {
		return nil, probeerr.Wrap(probeerr.KindVaultMapping, err, "vault response is not valid JSON")
	}

	fields := make(map[string]string, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		value, found, err := ResolvePath(doc, m.SourcePath)
		if err != nil {
			return nil, probeerr.Wrap(probeerr.KindVaultMapping, err, "invalid source path %q for field %s", m.SourcePath, m.TargetField)
		}
		if !found {
			if m.DefaultValue == "" {
				return nil, probeerr.New(probeerr.KindVaultMapping, "vault response missing field %s (path %s) and no default is configured", m.TargetField, m.SourcePath)
			}
			value = m.DefaultValue
		}
		transformed, err := ApplyTransformations(value, m.Transformations)
		if err != nil {
			return nil, probeerr.Wrap(probeerr.KindVaultMapping, err, "transformation failed for field %s", m.TargetField)
		}
		fields[m.TargetField] = transformed
	}
	return fields, nil
}

// BuildSecurityDirective runs the full mapping for one topic directive and
// assembles the security directive consumed by the streaming layer.
func BuildSecurityDirective(cfg Config, td directive.TopicDirective, vaultResponse []byte, defaults JaasDefaults) (directive.KafkaSecurityDirective, error) {
	fields, err := Apply(cfg, vaultResponse)
	if err != nil {
		return directive.KafkaSecurityDirective{}, err
	}

	jaas, err := AssembleJaas(fields, defaults)
	if err != nil {
		return directive.KafkaSecurityDirective{}, err
	}

	return directive.KafkaSecurityDirective{
		Topic:            td.Topic,
		Role:             td.Role,
		SecurityProtocol: directive.ProtocolSaslSsl,
		JaasConfig:       jaas,
	}, nil
}

// String renders the config for debug logs without exposing defaults.
func (c Config) String() string {
	return fmt.Sprintf("rosetta config: %d mappings, template=%t", len(c.Mappings), c.RequestTemplate != nil)
}
