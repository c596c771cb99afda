// Package steps provides the built-in glue package "probe": generic
// produce and correlate steps over the streaming DSL. Test authors select
// it via userGluePackages alongside their own registered glue.
package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"

	"github.com/matthew-bram/test-probe/internal/cloudevent"
	"github.com/matthew-bram/test-probe/internal/dsl"
)

// GlueName is the name test directives use to select this package.
const GlueName = "probe"

type stepState struct {
	testID     string
	source     string
	lastRecord json.RawMessage
}

// Initializer registers the probe steps on a scenario context.
func Initializer(sc *godog.ScenarioContext) {
	state := &stepState{source: "test-probe"}

	sc.Step(`^the test id is "([^"]*)"$`, state.setTestID)
	sc.Step(`^I produce a "([^"]*)" event version "([^"]*)" to "([^"]*)" with correlation id "([^"]*)" and payload:$`, state.produceEvent)
	sc.Step(`^a record with correlation id "([^"]*)" arrives on "([^"]*)"$`, state.fetchRecord)
	sc.Step(`^no record with correlation id "([^"]*)" is available on "([^"]*)"$`, state.fetchNothing)
}

func (s *stepState) setTestID(testID string) error {
	s.testID = testID
	return nil
}

func (s *stepState) produceEvent(eventType, version, topic, correlationID string, payload *godog.DocString) error {
	d, err := dsl.Instance()
	if err != nil {
		return err
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(payload.Content), &value); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	key := cloudevent.NewKey(s.source, eventType, correlationID, version)
	return d.Produce(context.Background(), s.testID, topic, key, value)
}

func (s *stepState) fetchRecord(correlationID, topic string) error {
	d, err := dsl.Instance()
	if err != nil {
		return err
	}

	record, err := d.FetchConsumedEventBlocking(context.Background(), s.testID, topic, correlationID)
	if err != nil {
		return err
	}
	s.lastRecord = record.Value
	return nil
}

func (s *stepState) fetchNothing(correlationID, topic string) error {
	d, err := dsl.Instance()
	if err != nil {
		return err
	}

	_, ok, err := d.FetchConsumedEvent(s.testID, topic, correlationID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("unexpected record for correlation id %s on %s", correlationID, topic)
	}
	return nil
}
