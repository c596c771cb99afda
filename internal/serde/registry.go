// Package serde serializes message keys and values through the schema
// registry. The registry decides the format: the subject "{topic}-{Type}"
// is described once, cached, and dispatched to the Avro, Protobuf, or
// JSON Schema codec.
package serde

import (
	"context"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/sr"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// SchemaType mirrors the registry's schema type strings.
type SchemaType string

const (
	TypeAvro       SchemaType = "AVRO"
	TypeProtobuf   SchemaType = "PROTOBUF"
	TypeJSON       SchemaType = "JSON"
	TypeJSONSchema SchemaType = "JSONSCHEMA"
)

// SubjectSchema describes the latest schema registered under a subject.
type SubjectSchema struct {
	ID     int
	Type   SchemaType
	Schema string
}

// RegistryClient is the single lookup the dispatcher needs. Keeping it an
// interface lets tests script subjects without a registry.
type RegistryClient interface {
	DescribeSubject(ctx context.Context, subject string) (SubjectSchema, error)
}

// franzRegistry adapts the franz-go schema registry client.
type franzRegistry struct {
	client *sr.Client
}

// NewFranzRegistry connects a registry client for the given URL.
func NewFranzRegistry(url string) (RegistryClient, error) {
	client, err := sr.NewClient(sr.URLs(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create schema registry client: %w", err)
	}
	return &franzRegistry{client: client}, nil
}

func (f *franzRegistry) DescribeSubject(ctx context.Context, subject string) (SubjectSchema, error) {
	ss, err := f.client.SchemaByVersion(ctx, subject, -1)
	if err != nil {
		return SubjectSchema{}, probeerr.Wrap(probeerr.KindSchemaNotFound, err, "subject %s not found in schema registry", subject)
	}
	return SubjectSchema{
		ID:     ss.ID,
		Type:   schemaTypeFromFranz(ss.Type),
		Schema: ss.Schema.Schema,
	}, nil
}

func schemaTypeFromFranz(t sr.SchemaType) SchemaType {
	switch t {
	case sr.TypeProtobuf:
		return TypeProtobuf
	case sr.TypeJSON:
		return TypeJSON
	default:
		return TypeAvro
	}
}

// The registry client is inherently global state; the singleton makes that
// explicit instead of hiding it in package variables scattered elsewhere.
var (
	globalMu         sync.RWMutex
	globalDispatcher *Dispatcher
)

// Initialize installs the process-wide dispatcher. Call once at startup.
func Initialize(client RegistryClient) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalDispatcher = NewDispatcher(client)
}

// Reset clears the process-wide dispatcher. Test hook.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalDispatcher = nil
}

// Global returns the installed dispatcher or SchemaRegistryNotInitialized.
func Global() (*Dispatcher, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalDispatcher == nil {
		return nil, probeerr.New(probeerr.KindSchemaRegistryNotInitialized, "schema registry client has not been initialized")
	}
	return globalDispatcher, nil
}
