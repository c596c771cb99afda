package streaming

import (
	"context"
	"log/slog"

	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/observability"
)

// Factory opens real Kafka streams for the execution state machine.
type Factory struct {
	BootstrapServers string
	Decoder          KeyDecoder
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// OpenProducer connects a producer stream for the topic directive.
func (f *Factory) OpenProducer(td directive.TopicDirective, sec directive.KafkaSecurityDirective) (*ProducerStream, error) {
	return NewProducerStream(td, sec, f.BootstrapServers, f.Logger, f.Metrics)
}

// OpenConsumer connects a consumer stream for the topic directive.
func (f *Factory) OpenConsumer(ctx context.Context, testID string, td directive.TopicDirective, sec directive.KafkaSecurityDirective) (*ConsumerStream, error) {
	return NewConsumerStream(ctx, testID, td, sec, f.BootstrapServers, f.Decoder, f.Logger, f.Metrics)
}
