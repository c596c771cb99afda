package dsl

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/serde"
	"github.com/matthew-bram/test-probe/internal/streaming"
)

func newTestDSL(registry *streaming.Registry) *DSL {
	d := New(registry, 200*time.Millisecond)
	d.pollEvery = 5 * time.Millisecond
	return d
}

func newConsumer(t *testing.T, topic string) *streaming.ConsumerStream {
	t.Helper()
	td := directive.TopicDirective{Topic: topic, Role: directive.RoleConsumer}
	return streaming.NewConsumerStreamFrom(context.Background(), td, nil, nil, slog.Default(), observability.NopMetrics())
}

func TestInstance(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	_, err := Instance()
	require.Error(t, err)
	assert.Equal(t, probeerr.KindDslNotInitialized, probeerr.KindOf(err))

	Initialize(newTestDSL(streaming.NewRegistry()))
	d, err := Instance()
	require.NoError(t, err)
	assert.NotNil(t, d)
}

// recordingProducer captures sent messages without a broker.
type recordingProducer struct {
	sent []*sarama.ProducerMessage
}

func (r *recordingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	r.sent = append(r.sent, msg)
	return 0, int64(len(r.sent)), nil
}

func (r *recordingProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	for _, msg := range msgs {
		_, _, _ = r.SendMessage(msg)
	}
	return nil
}

func (r *recordingProducer) Close() error                            { return nil }
func (r *recordingProducer) TxnStatus() sarama.ProducerTxnStatusFlag { return 0 }
func (r *recordingProducer) IsTransactional() bool                   { return false }
func (r *recordingProducer) BeginTxn() error                         { return nil }
func (r *recordingProducer) CommitTxn() error                        { return nil }
func (r *recordingProducer) AbortTxn() error                         { return nil }
func (r *recordingProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}
func (r *recordingProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return nil
}

// jsonSubjects answers every subject with a permissive JSON schema.
type jsonSubjects struct{}

func (jsonSubjects) DescribeSubject(_ context.Context, _ string) (serde.SubjectSchema, error) {
	return serde.SubjectSchema{ID: 1, Type: serde.TypeJSON, Schema: `{"type": ["object", "array", "string", "number", "boolean", "null"]}`}, nil
}

func TestProduceRoutesThroughSerde(t *testing.T) {
	serde.Reset()
	t.Cleanup(serde.Reset)
	serde.Initialize(jsonSubjects{})

	registry := streaming.NewRegistry()
	producer := &recordingProducer{}
	stream := streaming.NewProducerStreamFrom("pA", producer, slog.Default(), observability.NopMetrics())
	require.NoError(t, registry.RegisterProducer("t1", "pA", stream))

	d := newTestDSL(registry)
	key := cloudevent.NewKey("svc", "X", "c1", "v1")
	err := d.Produce(context.Background(), "t1", "pA", key, map[string]any{"payload": true})
	require.NoError(t, err)

	require.Len(t, producer.sent, 1)
	keyBytes, err := producer.sent[0].Key.Encode()
	require.NoError(t, err)
	// Confluent wire framing precedes the JSON key.
	require.Greater(t, len(keyBytes), 5)
	assert.Equal(t, byte(0), keyBytes[0])
	assert.Contains(t, string(keyBytes[5:]), `"correlationid":"c1"`)
}

func TestProduceWithoutStream(t *testing.T) {
	d := newTestDSL(streaming.NewRegistry())
	key := cloudevent.NewKey("svc", "order.created", "c1", "v1")
	err := d.Produce(context.Background(), "t1", "orders", key, map[string]any{"x": 1})
	require.Error(t, err)
	assert.Equal(t, probeerr.KindActorNotRegistered, probeerr.KindOf(err))
}

func TestFetchConsumedEvent(t *testing.T) {
	registry := streaming.NewRegistry()
	consumer := newConsumer(t, "shipments")
	require.NoError(t, registry.RegisterConsumer("t1", "shipments", consumer))
	d := newTestDSL(registry)

	t.Run("missing stream fails with ActorNotRegistered", func(t *testing.T) {
		_, _, err := d.FetchConsumedEvent("t1", "other-topic", "c1")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindActorNotRegistered, probeerr.KindOf(err))
	})

	t.Run("no arrival reports not-found immediately", func(t *testing.T) {
		_, ok, err := d.FetchConsumedEvent("t1", "shipments", "c1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("blocking fetch times out against the ask deadline", func(t *testing.T) {
		start := time.Now()
		_, err := d.FetchConsumedEventBlocking(context.Background(), "t1", "shipments", "never")
		require.Error(t, err)
		assert.Equal(t, probeerr.KindServiceTimeout, probeerr.KindOf(err))
		assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("blocking fetch honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := d.FetchConsumedEventBlocking(ctx, "t1", "shipments", "never")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
