// Package cloudevent defines the CloudEvents 1.0 key envelope that rides on
// every Kafka message key, and the bridges that carry it across the three
// serialization formats. The correlationid attribute is the sole lookup key
// for consumed events.
package cloudevent

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Extension attribute names carried beyond the core CloudEvents set.
const (
	ExtCorrelationID        = "correlationid"
	ExtPayloadVersion       = "payloadversion"
	ExtTimeEpochMicroSource = "time_epoch_micro_source"
)

// Key is the message-key envelope. Field names mirror the CloudEvents 1.0
// attribute names on the wire.
type Key struct {
	ID                   string `json:"id" avro:"id"`
	Source               string `json:"source" avro:"source"`
	SpecVersion          string `json:"specversion" avro:"specversion"`
	Type                 string `json:"type" avro:"type"`
	Time                 string `json:"time" avro:"time"`
	Subject              string `json:"subject" avro:"subject"`
	DataContentType      string `json:"datacontenttype" avro:"datacontenttype"`
	CorrelationID        string `json:"correlationid" avro:"correlationid"`
	PayloadVersion       string `json:"payloadversion" avro:"payloadversion"`
	TimeEpochMicroSource *int64 `json:"time_epoch_micro_source" avro:"time_epoch_micro_source"`
}

// NewKey creates a key envelope with generated id and current timestamps.
func NewKey(source, eventType, correlationID, payloadVersion string) Key {
	now := time.Now().UTC()
	micros := now.UnixMicro()
	return Key{
		ID:                   uuid.New().String(),
		Source:               source,
		SpecVersion:          cloudevents.VersionV1,
		Type:                 eventType,
		Time:                 now.Format(time.RFC3339Nano),
		DataContentType:      cloudevents.ApplicationJSON,
		CorrelationID:        correlationID,
		PayloadVersion:       payloadVersion,
		TimeEpochMicroSource: &micros,
	}
}

// ToSDKEvent converts the key into a CloudEvents SDK event. The custom
// attributes travel as extensions.
func ToSDKEvent(k Key) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(k.ID)
	event.SetSource(k.Source)
	event.SetSpecVersion(k.SpecVersion)
	event.SetType(k.Type)
	if k.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, k.Time); err == nil {
			event.SetTime(ts)
		}
	}
	if k.Subject != "" {
		event.SetSubject(k.Subject)
	}
	if k.DataContentType != "" {
		event.SetDataContentType(k.DataContentType)
	}
	event.SetExtension(ExtCorrelationID, k.CorrelationID)
	event.SetExtension(ExtPayloadVersion, k.PayloadVersion)
	if k.TimeEpochMicroSource != nil {
		event.SetExtension(ExtTimeEpochMicroSource, *k.TimeEpochMicroSource)
	}
	return event
}

// FromSDKEvent converts a CloudEvents SDK event back into a key envelope.
func FromSDKEvent(event cloudevents.Event) Key {
	k := Key{
		ID:              event.ID(),
		Source:          event.Source(),
		SpecVersion:     event.SpecVersion(),
		Type:            event.Type(),
		Subject:         event.Subject(),
		DataContentType: event.DataContentType(),
	}
	if !event.Time().IsZero() {
		k.Time = event.Time().UTC().Format(time.RFC3339Nano)
	}
	k.CorrelationID = extensionString(event, ExtCorrelationID)
	k.PayloadVersion = extensionString(event, ExtPayloadVersion)
	if raw, ok := event.Extensions()[ExtTimeEpochMicroSource]; ok {
		if micros, ok := extensionInt64(raw); ok {
			k.TimeEpochMicroSource = &micros
		}
	}
	return k
}

func extensionString(event cloudevents.Event, name string) string {
	if raw, ok := event.Extensions()[name]; ok {
		return fmt.Sprintf("%v", raw)
	}
	return ""
}

func extensionInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		var n int64
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
