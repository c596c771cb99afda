// Package streaming owns the per-topic Kafka streams of a running test and
// the process-wide registry through which user step code reaches them.
// One producer or consumer stream exists per topic directive; consumed
// records are held in an in-memory store keyed by correlation id until a
// step fetches them.
package streaming

import (
	"errors"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
)

var (
	ErrStreamClosed       = errors.New("stream is closed")
	ErrNoRecordForID      = errors.New("no consumed record for correlation id")
	ErrActorNotRegistered = errors.New("no stream registered for test and topic")
)

// Header is one Kafka record header.
type Header struct {
	Key   string
	Value []byte
}

// ConsumedRecord is a record retained by a consumer stream: the decoded key
// envelope plus the raw value bytes and headers as they arrived.
type ConsumedRecord struct {
	Key     cloudevent.Key
	Value   []byte
	Headers []Header
}
