// Package supervisor is the root of the agent tree: it allocates test ids,
// admits start requests into the queue, serves status and cancel, and owns
// the crash-restart budget for everything beneath it.
package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthew-bram/test-probe/internal/fsm"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/queue"
)

// StateQueued and StateUnknown extend the machine states on the control
// plane for tests that have not been dispatched or are not known at all.
const (
	StateQueued  = "Queued"
	StateUnknown = "Unknown"
)

// TestStatus is the control-plane view of one test.
type TestStatus struct {
	TestID          string
	State           string
	Success         *bool
	ErrorKind       string
	ErrorMessage    string
	ScenariosPassed *int
	ScenariosFailed *int
	EvidencePath    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	QueuePosition   int
}

// StartResult reports admission of a start request.
type StartResult struct {
	Accepted bool
	Message  string
}

// CancelResult mirrors the queue's cancel outcome.
type CancelResult struct {
	Cancelled bool
	Message   string
}

// QueueStatus aggregates per-state counts for the control plane.
type QueueStatus struct {
	TotalTests       int
	SetupCount       int
	LoadingCount     int
	LoadedCount      int
	TestingCount     int
	CompletedCount   int
	ExceptionCount   int
	QueuedCount      int
	CurrentlyTesting string
}

// Config wires a supervisor.
type Config struct {
	Queue      *queue.Queue
	AskTimeout time.Duration
	// MaxRestarts crashes per RestartWindow before the process gives up.
	MaxRestarts   int
	RestartWindow time.Duration
	// Fatal is invoked when the restart budget is exhausted.
	Fatal   func(reason string)
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

const (
	defaultAskTimeout    = 5 * time.Second
	defaultMaxRestarts   = 10
	defaultRestartWindow = time.Minute
	maxTrackedIDs        = 4096
)

// Supervisor is the process-level root component.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	ids     map[string]time.Time
	idOrder []string
	crashes []time.Time
	started time.Time
}

// New builds a supervisor over an admission queue.
func New(cfg Config) *Supervisor {
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = defaultAskTimeout
	}
	if cfg.MaxRestarts == 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.RestartWindow == 0 {
		cfg.RestartWindow = defaultRestartWindow
	}
	return &Supervisor{
		cfg:     cfg,
		ids:     make(map[string]time.Time),
		started: time.Now().UTC(),
	}
}

// Initialize allocates a fresh test id. Pure allocation: nothing is
// scheduled until Start.
func (s *Supervisor) Initialize() string {
	id := uuid.New().String()

	s.mu.Lock()
	s.ids[id] = time.Now().UTC()
	s.idOrder = append(s.idOrder, id)
	for len(s.idOrder) > maxTrackedIDs {
		oldest := s.idOrder[0]
		s.idOrder = s.idOrder[1:]
		delete(s.ids, oldest)
	}
	s.mu.Unlock()

	s.cfg.Logger.Info("test initialized", "testId", id)
	return id
}

// known reports whether the id came from Initialize.
func (s *Supervisor) known(testID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[testID]
	return ok
}

// Start admits the test into the queue. The internal ack deadline bounds
// how long admission may take; expiry surfaces as ServiceTimeout.
func (s *Supervisor) Start(testID, bucket string) (StartResult, error) {
	if !s.known(testID) {
		return StartResult{}, probeerr.New(probeerr.KindServiceUnavailable, "test id %s was not initialized", testID)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.cfg.Queue.Enqueue(testID, bucket)
	}()

	select {
	case err := <-done:
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{Accepted: true, Message: "test accepted for execution"}, nil
	case <-time.After(s.cfg.AskTimeout):
		return StartResult{}, probeerr.New(probeerr.KindServiceTimeout, "queue did not acknowledge within %s", s.cfg.AskTimeout)
	}
}

// GetStatus reports the test's current state.
func (s *Supervisor) GetStatus(testID string) TestStatus {
	qs := s.cfg.Queue.Status(testID)
	status := TestStatus{
		TestID:          testID,
		State:           StateUnknown,
		Success:         qs.Success,
		ErrorKind:       qs.ErrorKind,
		ErrorMessage:    qs.ErrorMessage,
		ScenariosPassed: qs.ScenariosPassed,
		ScenariosFailed: qs.ScenariosFailed,
		EvidencePath:    qs.EvidencePath,
		StartedAt:       qs.StartedAt,
		CompletedAt:     qs.CompletedAt,
	}
	switch {
	case qs.Queued:
		status.State = StateQueued
		status.QueuePosition = qs.Position
	case qs.Known:
		status.State = string(qs.State)
	}
	return status
}

// GetQueueStatus summarizes every known test by state.
func (s *Supervisor) GetQueueStatus() QueueStatus {
	snapshot := s.cfg.Queue.SnapshotCounts()
	return QueueStatus{
		TotalTests:       snapshot.TotalTests,
		SetupCount:       snapshot.StateCounts[fsm.StateSetup],
		LoadingCount:     snapshot.StateCounts[fsm.StateLoading],
		LoadedCount:      snapshot.StateCounts[fsm.StateLoaded],
		TestingCount:     snapshot.StateCounts[fsm.StateTesting],
		CompletedCount:   snapshot.StateCounts[fsm.StateCompleted],
		ExceptionCount:   snapshot.StateCounts[fsm.StateException],
		QueuedCount:      snapshot.QueuedCount,
		CurrentlyTesting: snapshot.CurrentlyTesting,
	}
}

// Cancel removes a queued test or cancels the running one.
func (s *Supervisor) Cancel(testID string) CancelResult {
	if !s.known(testID) {
		return CancelResult{Cancelled: false, Message: "unknown test"}
	}
	result := s.cfg.Queue.Cancel(testID)
	return CancelResult{Cancelled: result.Cancelled, Message: result.Message}
}

// Health is the liveness snapshot served on the health endpoint.
type Health struct {
	Healthy bool
	Uptime  time.Duration
	Crashes int
}

// GetHealth reports supervisor liveness.
func (s *Supervisor) GetHealth() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		Healthy: len(s.crashes) <= s.cfg.MaxRestarts,
		Uptime:  time.Since(s.started),
		Crashes: len(s.crashes),
	}
}

// NoteCrash records a child crash against the restart budget. When the
// budget is exhausted inside the rolling window, the process stops.
func (s *Supervisor) NoteCrash(component string, cause any) {
	s.cfg.Logger.Error("child crashed", "component", component, "cause", cause)

	s.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-s.cfg.RestartWindow)
	kept := s.crashes[:0]
	for _, t := range s.crashes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.crashes = append(kept, now)
	over := len(s.crashes) > s.cfg.MaxRestarts
	s.mu.Unlock()

	if over && s.cfg.Fatal != nil {
		s.cfg.Fatal("restart budget exhausted for " + component)
	}
}
