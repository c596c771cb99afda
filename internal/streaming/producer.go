package streaming

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// ProducerStream owns one Kafka producer bound to a single topic. Callers
// hand it pre-serialized key and value bytes; serialization belongs to the
// serde dispatcher.
type ProducerStream struct {
	topic    string
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	closed bool
}

// NewProducerStream connects a synchronous producer for the topic using the
// bootstrap servers and security settings from the directives.
func NewProducerStream(td directive.TopicDirective, sec directive.KafkaSecurityDirective, bootstrapServers string, logger *slog.Logger, metrics *observability.Metrics) (*ProducerStream, error) {
	if td.HasBootstrapOverride() {
		bootstrapServers = td.BootstrapServers
	}

	cfg, err := newSaramaConfig("test-probe-producer", sec)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(strings.Split(bootstrapServers, ","), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for topic %s: %w", td.Topic, err)
	}

	return NewProducerStreamFrom(td.Topic, producer, logger, metrics), nil
}

// NewProducerStreamFrom wires a stream over an existing producer. Tests
// and embedded brokers use it to bypass connection setup.
func NewProducerStreamFrom(topic string, producer sarama.SyncProducer, logger *slog.Logger, metrics *observability.Metrics) *ProducerStream {
	return &ProducerStream{
		topic:    topic,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Topic returns the topic this stream produces to.
func (p *ProducerStream) Topic() string { return p.topic }

// Produce sends one record. A nil error is the ack; failures carry the
// underlying cause as a KafkaProduce error.
func (p *ProducerStream) Produce(keyBytes, valueBytes []byte, headers []Header) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return probeerr.Wrap(probeerr.KindKafkaProduce, ErrStreamClosed, "produce to %s rejected", p.topic)
	}
	p.mu.Unlock()

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(keyBytes),
		Value: sarama.ByteEncoder(valueBytes),
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(h.Key),
			Value: h.Value,
		})
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("produce failed", "topic", p.topic, "error", err)
		return probeerr.Wrap(probeerr.KindKafkaProduce, err, "produce to %s failed", p.topic)
	}

	p.metrics.RecordsProduced.WithLabelValues(p.topic).Inc()
	p.logger.Debug("record produced", "topic", p.topic, "partition", partition, "offset", offset)
	return nil
}

// Close releases the underlying producer. Idempotent.
func (p *ProducerStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer for topic %s: %w", p.topic, err)
	}
	return nil
}
