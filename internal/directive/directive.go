// Package directive models the test package manifest fetched from block
// storage: which topics to wire, in which role, with which event filters
// and credentials, plus where feature files and evidence live inside the
// per-test in-memory filesystem.
package directive

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Role distinguishes the direction of a topic connection.
type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

// SecurityProtocol is the Kafka security.protocol for a connection.
// SSL and SASL_PLAINTEXT are reserved and not emitted by the vault stage.
type SecurityProtocol string

const (
	ProtocolPlaintext SecurityProtocol = "PLAINTEXT"
	ProtocolSaslSsl   SecurityProtocol = "SASL_SSL"
)

// EventFilter narrows which consumed records a consumer stream retains.
type EventFilter struct {
	EventType      string `yaml:"eventType" json:"eventType"`
	PayloadVersion string `yaml:"payloadVersion" json:"payloadVersion"`
}

// TopicDirective wires one Kafka topic for a test.
type TopicDirective struct {
	Topic            string            `yaml:"topic" json:"topic"`
	Role             Role              `yaml:"role" json:"role"`
	ClientPrincipal  string            `yaml:"clientPrincipal" json:"clientPrincipal"`
	EventFilters     []EventFilter     `yaml:"eventFilters" json:"eventFilters"`
	Metadata         map[string]string `yaml:"metadata" json:"metadata"`
	BootstrapServers string            `yaml:"bootstrapServers,omitempty" json:"bootstrapServers,omitempty"`
}

// HasBootstrapOverride reports whether the directive pins its own cluster.
func (t TopicDirective) HasBootstrapOverride() bool {
	return t.BootstrapServers != ""
}

// BlockStorageDirective is the decoded manifest for one test package.
// Bucket repeats the fetch argument; both are kept for wire compatibility.
type BlockStorageDirective struct {
	Bucket           string           `yaml:"bucket" json:"bucket"`
	JimfsLocation    string           `yaml:"jimfsLocation" json:"jimfsLocation"`
	EvidenceDir      string           `yaml:"evidenceDir" json:"evidenceDir"`
	TopicDirectives  []TopicDirective `yaml:"topicDirectives" json:"topicDirectives"`
	UserGluePackages []string         `yaml:"userGluePackages" json:"userGluePackages"`
	Tags             string           `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// KafkaSecurityDirective is the vault stage's output for one connection.
type KafkaSecurityDirective struct {
	Topic            string           `json:"topic"`
	Role             Role             `json:"role"`
	SecurityProtocol SecurityProtocol `json:"securityProtocol"`
	JaasConfig       string           `json:"jaasConfig"`
}

// Decode parses a manifest document. YAML and JSON are both accepted; JSON
// is valid YAML so a single decoder covers both. Unknown fields are ignored.
func Decode(data []byte) (*BlockStorageDirective, error) {
	var d BlockStorageDirective
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode topic directive: %w", err)
	}
	if err := checkRequired(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func checkRequired(d *BlockStorageDirective) error {
	if d.JimfsLocation == "" {
		return fmt.Errorf("topic directive missing required field jimfsLocation")
	}
	if d.EvidenceDir == "" {
		return fmt.Errorf("topic directive missing required field evidenceDir")
	}
	if len(d.TopicDirectives) == 0 {
		return fmt.Errorf("topic directive contains no topicDirectives")
	}
	for i, td := range d.TopicDirectives {
		if td.Topic == "" {
			return fmt.Errorf("topicDirectives[%d] missing required field topic", i)
		}
		switch td.Role {
		case RoleProducer, RoleConsumer:
		default:
			return fmt.Errorf("topicDirectives[%d] has invalid role %q", i, td.Role)
		}
	}
	return nil
}

// String renders the directive as JSON for logs.
func (d *BlockStorageDirective) String() string {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Sprintf("directive<%s>", d.Bucket)
	}
	return string(b)
}
