package streaming

import (
	"sync"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// registryKey identifies one stream slot.
type registryKey struct {
	testID string
	topic  string
}

// Registry is the process-wide map from (testId, topic) to stream handles.
// The execution state machine registers streams when a test reaches Loaded
// and removes them in ShuttingDown; user step code only ever reads.
type Registry struct {
	mu        sync.RWMutex
	producers map[registryKey]*ProducerStream
	consumers map[registryKey]*ConsumerStream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		producers: make(map[registryKey]*ProducerStream),
		consumers: make(map[registryKey]*ConsumerStream),
	}
}

// RegisterProducer installs the producer stream for (testId, topic).
// At most one producer may exist per key.
func (r *Registry) RegisterProducer(testID, topic string, stream *ProducerStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{testID, topic}
	if _, exists := r.producers[key]; exists {
		return probeerr.New(probeerr.KindActorNotRegistered, "producer already registered for test %s topic %s", testID, topic)
	}
	r.producers[key] = stream
	return nil
}

// RegisterConsumer installs the consumer stream for (testId, topic).
func (r *Registry) RegisterConsumer(testID, topic string, stream *ConsumerStream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{testID, topic}
	if _, exists := r.consumers[key]; exists {
		return probeerr.New(probeerr.KindActorNotRegistered, "consumer already registered for test %s topic %s", testID, topic)
	}
	r.consumers[key] = stream
	return nil
}

// Producer looks up the producer stream for (testId, topic).
func (r *Registry) Producer(testID, topic string) (*ProducerStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream, ok := r.producers[registryKey{testID, topic}]
	if !ok {
		return nil, probeerr.Wrap(probeerr.KindActorNotRegistered, ErrActorNotRegistered, "no producer for test %s topic %s", testID, topic)
	}
	return stream, nil
}

// Consumer looks up the consumer stream for (testId, topic).
func (r *Registry) Consumer(testID, topic string) (*ConsumerStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream, ok := r.consumers[registryKey{testID, topic}]
	if !ok {
		return nil, probeerr.Wrap(probeerr.KindActorNotRegistered, ErrActorNotRegistered, "no consumer for test %s topic %s", testID, topic)
	}
	return stream, nil
}

// UnregisterTest removes every stream slot belonging to the test and
// returns the removed streams so the owner can close them.
func (r *Registry) UnregisterTest(testID string) (producers []*ProducerStream, consumers []*ConsumerStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, stream := range r.producers {
		if key.testID == testID {
			producers = append(producers, stream)
			delete(r.producers, key)
		}
	}
	for key, stream := range r.consumers {
		if key.testID == testID {
			consumers = append(consumers, stream)
			delete(r.consumers, key)
		}
	}
	return producers, consumers
}

// Empty reports whether no streams are registered. Used by shutdown checks.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers) == 0 && len(r.consumers) == 0
}
