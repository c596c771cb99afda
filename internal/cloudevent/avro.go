package cloudevent

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// AvroSchema is the registry schema for the CloudEvent key record.
// time_epoch_micro_source is a nullable long; all other fields are strings.
const AvroSchema = `{
  "type": "record",
  "name": "CloudEvent",
  "namespace": "com.testprobe.events",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "source", "type": "string"},
    {"name": "specversion", "type": "string"},
    {"name": "type", "type": "string"},
    {"name": "time", "type": "string", "default": ""},
    {"name": "subject", "type": "string", "default": ""},
    {"name": "datacontenttype", "type": "string", "default": ""},
    {"name": "correlationid", "type": "string"},
    {"name": "payloadversion", "type": "string", "default": ""},
    {"name": "time_epoch_micro_source", "type": ["null", "long"], "default": null}
  ]
}`

var avroSchema = avro.MustParse(AvroSchema)

// MarshalAvro encodes the key as an Avro record using the canonical schema.
func MarshalAvro(k Key) ([]byte, error) {
	data, err := avro.Marshal(avroSchema, k)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cloud event key as avro: %w", err)
	}
	return data, nil
}

// UnmarshalAvro decodes an Avro record into a key envelope using the
// canonical schema as the reader schema.
func UnmarshalAvro(data []byte) (Key, error) {
	var k Key
	if err := avro.Unmarshal(avroSchema, data, &k); err != nil {
		return Key{}, fmt.Errorf("failed to decode avro cloud event key: %w", err)
	}
	return k, nil
}
