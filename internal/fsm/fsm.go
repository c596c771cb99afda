// Package fsm implements the per-test execution state machine. One
// Execution owns a single test from dequeue to teardown: it drives the
// storage, vault, streaming, and cucumber children serially, aggregates
// the outcome, and guarantees that every resource it opened is released
// before the terminal notification fires.
package fsm

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/matthew-bram/test-probe/internal/blockstorage"
	"github.com/matthew-bram/test-probe/internal/cucumber"
	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/streaming"
)

// State enumerates the machine's states. Stopped is terminal; once a
// machine stops, the queue reports its history entry, whose final state is
// Stopped only when no Completed or Exception outcome was recorded (for
// example a cancelled test).
type State string

const (
	StateSetup        State = "Setup"
	StateLoading      State = "Loading"
	StateLoaded       State = "Loaded"
	StateTesting      State = "Testing"
	StateCompleted    State = "Completed"
	StateException    State = "Exception"
	StateShuttingDown State = "ShuttingDown"
	StateStopped      State = "Stopped"
)

// Terminal reports whether the state ends command processing.
func (s State) Terminal() bool {
	return s == StateStopped
}

// StorageChild is the block-storage surface the machine drives.
type StorageChild interface {
	Fetch(ctx context.Context, fs afero.Fs, bucket string) (*blockstorage.FetchResult, error)
	Upload(ctx context.Context, fs afero.Fs, evidenceDir, bucket string) error
}

// VaultChild resolves one security directive per topic directive.
type VaultChild interface {
	FetchSecurityDirective(ctx context.Context, td directive.TopicDirective) (directive.KafkaSecurityDirective, error)
}

// StreamFactory opens the per-topic Kafka streams.
type StreamFactory interface {
	OpenProducer(td directive.TopicDirective, sec directive.KafkaSecurityDirective) (*streaming.ProducerStream, error)
	OpenConsumer(ctx context.Context, testID string, td directive.TopicDirective, sec directive.KafkaSecurityDirective) (*streaming.ConsumerStream, error)
}

// CucumberRunner executes the BDD suite synchronously.
type CucumberRunner interface {
	Run(req cucumber.RunRequest) (cucumber.RunResult, error)
}

// Timeouts are the per-state wall-clock deadlines. Zero disables a timer.
type Timeouts struct {
	Setup     time.Duration
	Loading   time.Duration
	Testing   time.Duration
	Completed time.Duration
	Exception time.Duration
}

func (t Timeouts) forState(s State) time.Duration {
	switch s {
	case StateSetup:
		return t.Setup
	case StateLoading:
		return t.Loading
	case StateTesting:
		return t.Testing
	case StateCompleted:
		return t.Completed
	case StateException:
		return t.Exception
	default:
		return 0
	}
}

// Outcome is the aggregated terminal result handed to the queue.
type Outcome struct {
	TestID          string
	FinalState      State
	Success         bool
	ErrorKind       string
	ErrorMessage    string
	ScenariosPassed int
	ScenariosFailed int
	EvidencePath    string
	Cancelled       bool
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Status is the externally visible snapshot served while the test runs.
type Status struct {
	TestID          string
	State           State
	Success         *bool
	ErrorKind       string
	ErrorMessage    string
	ScenariosPassed *int
	ScenariosFailed *int
	EvidencePath    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
