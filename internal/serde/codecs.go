package serde

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hamba/avro/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"google.golang.org/protobuf/proto"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
)

// serializeAvro encodes the value with the subject's Avro schema.
// CloudEvent keys go through the explicit bridge so the canonical record
// layout is preserved regardless of registry schema drift.
func serializeAvro(ss SubjectSchema, value any) ([]byte, error) {
	switch v := value.(type) {
	case cloudevent.Key:
		return cloudevent.MarshalAvro(v)
	case *cloudevent.Key:
		return cloudevent.MarshalAvro(*v)
	}

	schema, err := avro.Parse(ss.Schema)
	if err != nil {
		return nil, fmt.Errorf("invalid avro schema in registry: %w", err)
	}
	data, err := avro.Marshal(schema, value)
	if err != nil {
		return nil, fmt.Errorf("avro encoding failed: %w", err)
	}
	return data, nil
}

// serializeProtobuf encodes CloudEvent keys through the DynamicMessage
// bridge and known generated types via the standard codec.
func serializeProtobuf(_ SubjectSchema, value any) ([]byte, error) {
	switch v := value.(type) {
	case cloudevent.Key:
		return cloudevent.MarshalProto(v)
	case *cloudevent.Key:
		return cloudevent.MarshalProto(*v)
	case proto.Message:
		data, err := proto.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("protobuf encoding failed: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("value of type %T cannot be protobuf encoded", value)
	}
}

// serializeJSONSchema marshals the value as JSON and validates it against
// the latest registered schema.
func serializeJSONSchema(ss SubjectSchema, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("json encoding failed: %w", err)
	}

	schema, err := compileJSONSchema(ss.Schema)
	if err != nil {
		return nil, err
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("json decoding failed: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("value does not satisfy registered json schema: %w", err)
	}
	return data, nil
}

func deserializeJSONKey(payload []byte) (cloudevent.Key, error) {
	var k cloudevent.Key
	if err := json.Unmarshal(payload, &k); err != nil {
		return cloudevent.Key{}, fmt.Errorf("failed to decode json cloud event key: %w", err)
	}
	return k, nil
}

func compileJSONSchema(schemaText string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaText)))
	if err != nil {
		return nil, fmt.Errorf("invalid json schema in registry: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("registry://schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to load json schema: %w", err)
	}
	schema, err := compiler.Compile("registry://schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile json schema: %w", err)
	}
	return schema, nil
}
