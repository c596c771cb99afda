package serde

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// scriptedRegistry scripts subject lookups and records which were made.
type scriptedRegistry struct {
	subjects map[string]SubjectSchema
	lookups  []string
}

func (s *scriptedRegistry) DescribeSubject(_ context.Context, subject string) (SubjectSchema, error) {
	s.lookups = append(s.lookups, subject)
	ss, ok := s.subjects[subject]
	if !ok {
		return SubjectSchema{}, probeerr.New(probeerr.KindSchemaNotFound, "subject %s not found", subject)
	}
	return ss, nil
}

const valueSchema = `{
	"type": "object",
	"properties": {
		"orderId": {"type": "string"},
		"amount": {"type": "number"}
	},
	"required": ["orderId"]
}`

func newScripted() *scriptedRegistry {
	return &scriptedRegistry{subjects: map[string]SubjectSchema{
		"orders-CloudEvent": {ID: 7, Type: TypeAvro, Schema: cloudevent.AvroSchema},
		"orders-map":        {ID: 9, Type: TypeJSON, Schema: valueSchema},
		"proto-CloudEvent":  {ID: 11, Type: TypeProtobuf, Schema: "syntax = \"proto3\";"},
		"json-CloudEvent":   {ID: 13, Type: TypeJSON, Schema: `{"type": "object"}`},
	}}
}

func sampleKey() cloudevent.Key {
	micros := int64(1712345678901234)
	return cloudevent.Key{
		ID:                   "evt-1",
		Source:               "svc",
		SpecVersion:          "1.0",
		Type:                 "order.created",
		CorrelationID:        "corr-1",
		PayloadVersion:       "v1",
		TimeEpochMicroSource: &micros,
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "orders-CloudEvent", Subject("orders", cloudevent.Key{}))
	assert.Equal(t, "orders-CloudEvent", Subject("orders", &cloudevent.Key{}))

	type OrderPlaced struct{}
	assert.Equal(t, "orders-OrderPlaced", Subject("orders", OrderPlaced{}))
	assert.Equal(t, "orders-OrderPlaced", Subject("orders", &OrderPlaced{}))
}

func TestSerializeDispatch(t *testing.T) {
	t.Run("avro subject uses only the avro codec", func(t *testing.T) {
		registry := newScripted()
		d := NewDispatcher(registry)

		data, err := d.Serialize(context.Background(), "orders", true, sampleKey())
		require.NoError(t, err)

		// Confluent framing with the registered schema id.
		require.Greater(t, len(data), 5)
		assert.Equal(t, byte(0), data[0])
		assert.Equal(t, uint32(7), binary.BigEndian.Uint32(data[1:5]))

		// Payload is avro, not json.
		back, err := cloudevent.UnmarshalAvro(data[5:])
		require.NoError(t, err)
		assert.Equal(t, "corr-1", back.CorrelationID)
		assert.Equal(t, []string{"orders-CloudEvent"}, registry.lookups)
	})

	t.Run("protobuf subject uses only the protobuf codec", func(t *testing.T) {
		d := NewDispatcher(newScripted())

		data, err := d.Serialize(context.Background(), "proto", true, sampleKey())
		require.NoError(t, err)
		assert.Equal(t, uint32(11), binary.BigEndian.Uint32(data[1:5]))
		assert.Equal(t, byte(0), data[5], "single message index")

		back, err := cloudevent.UnmarshalProto(data[6:])
		require.NoError(t, err)
		assert.Equal(t, "corr-1", back.CorrelationID)
	})

	t.Run("json subject validates against the registered schema", func(t *testing.T) {
		d := NewDispatcher(newScripted())

		data, err := d.Serialize(context.Background(), "orders", false, map[string]any{"orderId": "o-1", "amount": 10.5})
		require.NoError(t, err)
		assert.Equal(t, uint32(9), binary.BigEndian.Uint32(data[1:5]))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data[5:], &decoded))
		assert.Equal(t, "o-1", decoded["orderId"])
	})

	t.Run("json schema violation fails serialization", func(t *testing.T) {
		d := NewDispatcher(newScripted())
		_, err := d.Serialize(context.Background(), "orders", false, map[string]any{"amount": 1.0})
		assert.Error(t, err)
	})

	t.Run("absent subject fails with SchemaNotFound", func(t *testing.T) {
		d := NewDispatcher(newScripted())
		_, err := d.Serialize(context.Background(), "mystery", true, sampleKey())
		require.Error(t, err)
		assert.Equal(t, probeerr.KindSchemaNotFound, probeerr.KindOf(err))
	})

	t.Run("unsupported schema type is rejected", func(t *testing.T) {
		registry := newScripted()
		registry.subjects["weird-CloudEvent"] = SubjectSchema{ID: 1, Type: "THRIFT"}
		d := NewDispatcher(registry)

		_, err := d.Serialize(context.Background(), "weird", true, sampleKey())
		require.Error(t, err)
		assert.Equal(t, probeerr.KindUnsupportedSchemaType, probeerr.KindOf(err))
	})

	t.Run("subject lookups are cached", func(t *testing.T) {
		registry := newScripted()
		d := NewDispatcher(registry)

		for i := 0; i < 3; i++ {
			_, err := d.Serialize(context.Background(), "orders", true, sampleKey())
			require.NoError(t, err)
		}
		assert.Len(t, registry.lookups, 1)
	})
}

func TestDeserializeKey(t *testing.T) {
	t.Run("avro key round trips including correlation id", func(t *testing.T) {
		d := NewDispatcher(newScripted())

		data, err := d.Serialize(context.Background(), "orders", true, sampleKey())
		require.NoError(t, err)

		back, err := d.DeserializeKey(context.Background(), "orders", data)
		require.NoError(t, err)
		assert.Equal(t, sampleKey(), back)
	})

	t.Run("json key round trips", func(t *testing.T) {
		d := NewDispatcher(newScripted())

		data, err := d.Serialize(context.Background(), "json", true, sampleKey())
		require.NoError(t, err)
		back, err := d.DeserializeKey(context.Background(), "json", data)
		require.NoError(t, err)
		assert.Equal(t, sampleKey(), back)
	})

	t.Run("rejects bytes without wire framing", func(t *testing.T) {
		d := NewDispatcher(newScripted())
		_, err := d.DeserializeKey(context.Background(), "orders", []byte("raw"))
		assert.Error(t, err)
	})
}

func TestGlobalDispatcher(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	_, err := Global()
	require.Error(t, err)
	assert.Equal(t, probeerr.KindSchemaRegistryNotInitialized, probeerr.KindOf(err))

	Initialize(newScripted())
	d, err := Global()
	require.NoError(t, err)
	assert.NotNil(t, d)
}
