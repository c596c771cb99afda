package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/observability"
)

// KeyDecoder decodes a CloudEvent key envelope from wire bytes. The serde
// dispatcher satisfies this; tests substitute a plain JSON decoder.
type KeyDecoder interface {
	DeserializeKey(ctx context.Context, topic string, data []byte) (cloudevent.Key, error)
}

// ConsumerStream subscribes one Kafka topic with a test-scoped consumer
// group, retaining records whose key matches the directive's event filters.
type ConsumerStream struct {
	topic   string
	filters []directive.EventFilter
	group   sarama.ConsumerGroup
	decoder KeyDecoder
	store   *consumedStore
	logger  *slog.Logger
	metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewConsumerStream connects a consumer group for the topic. The group id
// embeds the test id so reruns never share offsets.
func NewConsumerStream(ctx context.Context, testID string, td directive.TopicDirective, sec directive.KafkaSecurityDirective, bootstrapServers string, decoder KeyDecoder, logger *slog.Logger, metrics *observability.Metrics) (*ConsumerStream, error) {
	if td.HasBootstrapOverride() {
		bootstrapServers = td.BootstrapServers
	}

	cfg, err := newSaramaConfig("test-probe-consumer", sec)
	if err != nil {
		return nil, err
	}

	groupID := fmt.Sprintf("test-probe-%s-%s", testID, uuid.New().String()[:8])
	group, err := sarama.NewConsumerGroup(strings.Split(bootstrapServers, ","), groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group for topic %s: %w", td.Topic, err)
	}

	stream := NewConsumerStreamFrom(ctx, td, group, decoder, logger, metrics)
	stream.run()
	return stream, nil
}

// NewConsumerStreamFrom wires a stream over an existing consumer group
// without starting the consume loop.
func NewConsumerStreamFrom(ctx context.Context, td directive.TopicDirective, group sarama.ConsumerGroup, decoder KeyDecoder, logger *slog.Logger, metrics *observability.Metrics) *ConsumerStream {
	streamCtx, cancel := context.WithCancel(ctx)
	return &ConsumerStream{
		topic:   td.Topic,
		filters: td.EventFilters,
		group:   group,
		decoder: decoder,
		store:   newConsumedStore(),
		logger:  logger,
		metrics: metrics,
		ctx:     streamCtx,
		cancel:  cancel,
	}
}

// run starts the consume loop. sarama returns from Consume on rebalance;
// the loop re-enters until the stream context is cancelled.
func (c *ConsumerStream) run() {
	handler := &consumerGroupHandler{stream: c}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(c.ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consumer group error", "topic", c.topic, "error", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Topic returns the topic this stream consumes.
func (c *ConsumerStream) Topic() string { return c.topic }

// Fetch pops the first arrived record for the correlation id, or reports
// that none has arrived. It never blocks; callers poll with their own
// timeout.
func (c *ConsumerStream) Fetch(correlationID string) (ConsumedRecord, bool) {
	return c.store.fetch(correlationID)
}

// Pending returns the number of retained, unfetched records.
func (c *ConsumerStream) Pending() int {
	return c.store.size()
}

// Close stops the consume loop and releases the consumer group. Idempotent.
func (c *ConsumerStream) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	var err error
	if c.group != nil {
		err = c.group.Close()
	}
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close consumer group for topic %s: %w", c.topic, err)
	}
	return nil
}

// matchesFilter reports whether the key envelope passes the directive's
// event filters. An empty filter list accepts everything.
func (c *ConsumerStream) matchesFilter(key cloudevent.Key) bool {
	if len(c.filters) == 0 {
		return true
	}
	for _, f := range c.filters {
		if f.EventType == key.Type && f.PayloadVersion == key.PayloadVersion {
			return true
		}
	}
	return false
}

// consumerGroupHandler adapts the stream to sarama's consumer group API.
type consumerGroupHandler struct {
	stream *ConsumerStream
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.stream
	for msg := range claim.Messages() {
		session.MarkMessage(msg, "")

		key, err := c.decoder.DeserializeKey(c.ctx, c.topic, msg.Key)
		if err != nil {
			c.logger.Warn("failed to decode record key", "topic", c.topic, "error", err)
			continue
		}

		if !c.matchesFilter(key) {
			c.metrics.RecordsSkipped.WithLabelValues(c.topic).Inc()
			continue
		}

		record := ConsumedRecord{Key: key, Value: msg.Value}
		for _, h := range msg.Headers {
			record.Headers = append(record.Headers, Header{Key: string(h.Key), Value: h.Value})
		}
		c.store.insert(key.CorrelationID, record)
		c.metrics.RecordsConsumed.WithLabelValues(c.topic).Inc()
		c.logger.Debug("record retained", "topic", c.topic, "correlationid", key.CorrelationID)
	}
	return nil
}
