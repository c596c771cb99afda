// Package dsl is the surface user step code calls from inside scenarios:
// synchronous produce and fetch operations routed through the streaming
// registry. The godog run executes on a dedicated goroutine, so blocking
// here never stalls the orchestrator's agents.
package dsl

import (
	"context"
	"sync"
	"time"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/serde"
	"github.com/matthew-bram/test-probe/internal/streaming"
)

// DSL binds the streaming registry and the serialization dispatcher into
// the blocking step-code API.
type DSL struct {
	registry   *streaming.Registry
	askTimeout time.Duration
	pollEvery  time.Duration
}

// New builds a DSL over the registry. askTimeout bounds every blocking
// fetch; the poll interval is fixed.
func New(registry *streaming.Registry, askTimeout time.Duration) *DSL {
	return &DSL{
		registry:   registry,
		askTimeout: askTimeout,
		pollEvery:  50 * time.Millisecond,
	}
}

var (
	globalMu sync.RWMutex
	global   *DSL
)

// Initialize installs the process-wide DSL instance used by step code.
func Initialize(d *DSL) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = d
}

// Reset clears the process-wide DSL. Test hook.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

// Instance returns the installed DSL or DslNotInitialized.
func Instance() (*DSL, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if global == nil {
		return nil, probeerr.New(probeerr.KindDslNotInitialized, "dsl has not been initialized")
	}
	return global, nil
}

// Produce serializes the key envelope and value through the schema
// registry and sends them on the test's producer stream for the topic.
func (d *DSL) Produce(ctx context.Context, testID, topic string, key cloudevent.Key, value any) error {
	producer, err := d.registry.Producer(testID, topic)
	if err != nil {
		return err
	}

	dispatcher, err := serde.Global()
	if err != nil {
		return err
	}

	keyBytes, err := dispatcher.Serialize(ctx, topic, true, key)
	if err != nil {
		return err
	}
	valueBytes, err := dispatcher.Serialize(ctx, topic, false, value)
	if err != nil {
		return err
	}

	return producer.Produce(keyBytes, valueBytes, nil)
}

// FetchConsumedEvent returns the first consumed record for the correlation
// id without waiting. The boolean reports whether a record had arrived.
func (d *DSL) FetchConsumedEvent(testID, topic, correlationID string) (streaming.ConsumedRecord, bool, error) {
	consumer, err := d.registry.Consumer(testID, topic)
	if err != nil {
		return streaming.ConsumedRecord{}, false, err
	}
	record, ok := consumer.Fetch(correlationID)
	return record, ok, nil
}

// FetchConsumedEventBlocking polls for the record until it arrives or the
// ask timeout elapses.
func (d *DSL) FetchConsumedEventBlocking(ctx context.Context, testID, topic, correlationID string) (streaming.ConsumedRecord, error) {
	deadline := time.NewTimer(d.askTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(d.pollEvery)
	defer tick.Stop()

	for {
		record, ok, err := d.FetchConsumedEvent(testID, topic, correlationID)
		if err != nil {
			return streaming.ConsumedRecord{}, err
		}
		if ok {
			return record, nil
		}

		select {
		case <-tick.C:
		case <-deadline.C:
			return streaming.ConsumedRecord{}, probeerr.Wrap(probeerr.KindServiceTimeout, streaming.ErrNoRecordForID,
				"no record for correlation id %s on topic %s within %s", correlationID, topic, d.askTimeout)
		case <-ctx.Done():
			return streaming.ConsumedRecord{}, ctx.Err()
		}
	}
}
