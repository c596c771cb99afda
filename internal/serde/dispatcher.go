package serde

import (
	"context"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"

	"google.golang.org/protobuf/proto"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// cloudEventTypeName is the type-name segment of the subject for key
// envelopes: every key subject is "{topic}-CloudEvent".
const cloudEventTypeName = "CloudEvent"

// Dispatcher routes serialization through the registry-declared schema
// type. The subject cache is explicit; entries live for the process.
type Dispatcher struct {
	client RegistryClient

	mu    sync.RWMutex
	cache map[string]SubjectSchema
}

// NewDispatcher builds a dispatcher over a registry client.
func NewDispatcher(client RegistryClient) *Dispatcher {
	return &Dispatcher{
		client: client,
		cache:  make(map[string]SubjectSchema),
	}
}

// Subject derives the registry subject for a value on a topic.
func Subject(topic string, value any) string {
	return fmt.Sprintf("%s-%s", topic, typeName(value))
}

func typeName(value any) string {
	switch v := value.(type) {
	case cloudevent.Key, *cloudevent.Key:
		return cloudEventTypeName
	case proto.Message:
		return string(v.ProtoReflect().Descriptor().Name())
	default:
		t := reflect.TypeOf(value)
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil {
			return "nil"
		}
		if t.Name() == "" {
			// Unnamed types (maps, slices) fall back to their kind.
			return t.Kind().String()
		}
		return t.Name()
	}
}

// describe resolves and caches the subject's latest schema.
func (d *Dispatcher) describe(ctx context.Context, subject string) (SubjectSchema, error) {
	d.mu.RLock()
	ss, ok := d.cache[subject]
	d.mu.RUnlock()
	if ok {
		return ss, nil
	}

	ss, err := d.client.DescribeSubject(ctx, subject)
	if err != nil {
		return SubjectSchema{}, err
	}

	d.mu.Lock()
	d.cache[subject] = ss
	d.mu.Unlock()
	return ss, nil
}

// Serialize encodes value for the topic, dispatching on the registry's
// schema type for the derived subject. The result carries the Confluent
// wire framing (magic byte + schema id).
func (d *Dispatcher) Serialize(ctx context.Context, topic string, isKey bool, value any) ([]byte, error) {
	subject := Subject(topic, value)
	ss, err := d.describe(ctx, subject)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch ss.Type {
	case TypeAvro:
		payload, err = serializeAvro(ss, value)
	case TypeProtobuf:
		payload, err = serializeProtobuf(ss, value)
	case TypeJSON, TypeJSONSchema:
		payload, err = serializeJSONSchema(ss, value)
	default:
		return nil, probeerr.New(probeerr.KindUnsupportedSchemaType, "subject %s has unsupported schema type %q", subject, ss.Type)
	}
	if err != nil {
		return nil, err
	}
	return frame(ss, payload), nil
}

// DeserializeKey decodes a CloudEvent key envelope from wire bytes for the
// topic, dispatching on the key subject's schema type.
func (d *Dispatcher) DeserializeKey(ctx context.Context, topic string, data []byte) (cloudevent.Key, error) {
	subject := fmt.Sprintf("%s-%s", topic, cloudEventTypeName)
	ss, err := d.describe(ctx, subject)
	if err != nil {
		return cloudevent.Key{}, err
	}

	payload, err := unframe(ss, data)
	if err != nil {
		return cloudevent.Key{}, err
	}

	switch ss.Type {
	case TypeAvro:
		return cloudevent.UnmarshalAvro(payload)
	case TypeProtobuf:
		return cloudevent.UnmarshalProto(payload)
	case TypeJSON, TypeJSONSchema:
		return deserializeJSONKey(payload)
	default:
		return cloudevent.Key{}, probeerr.New(probeerr.KindUnsupportedSchemaType, "subject %s has unsupported schema type %q", subject, ss.Type)
	}
}

// Confluent wire format: magic byte 0, big-endian uint32 schema id, then
// the encoded payload. Protobuf additionally carries a message-index list;
// a single zero varint selects the first message.
const wireMagicByte = 0

func frame(ss SubjectSchema, payload []byte) []byte {
	header := make([]byte, 5, 5+1+len(payload))
	header[0] = wireMagicByte
	binary.BigEndian.PutUint32(header[1:5], uint32(ss.ID))
	if ss.Type == TypeProtobuf {
		header = append(header, 0)
	}
	return append(header, payload...)
}

func unframe(ss SubjectSchema, data []byte) ([]byte, error) {
	if len(data) < 5 || data[0] != wireMagicByte {
		return nil, fmt.Errorf("record is not in schema registry wire format")
	}
	payload := data[5:]
	if ss.Type == TypeProtobuf {
		if len(payload) < 1 {
			return nil, fmt.Errorf("protobuf record missing message index")
		}
		// Accept only the single-message index encoding produced by frame().
		payload = payload[1:]
	}
	return payload, nil
}
