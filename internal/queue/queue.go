// Package queue is the admission gate: a strict FIFO of submitted tests
// feeding a single active execution slot. At most one test runs at a time
// in the whole process; everything else waits in order or lives in the
// bounded outcome history.
package queue

import (
	"log/slog"

	"github.com/matthew-bram/test-probe/internal/fsm"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// Execution is the slice of the state machine the queue drives.
type Execution interface {
	Start() error
	Cancel() bool
	Status() fsm.Status
}

// ExecutionFactory spawns a state machine for one dequeued submission.
// The factory must arrange for onTerminal to fire exactly once.
type ExecutionFactory func(testID, bucket string, onTerminal func(fsm.Outcome)) Execution

// Submission is one queued start request.
type Submission struct {
	TestID string
	Bucket string
}

// TestStatus is the merged view of a test across pending, active, and
// history. State holds a machine state for active and finished tests; it
// is empty for queued tests (Queued is set) and unknown ones (Known is
// false).
type TestStatus struct {
	fsm.Status
	Queued    bool
	Position  int
	Known     bool
	Cancelled bool
}

// Snapshot summarizes the queue for the control plane.
type Snapshot struct {
	TotalTests       int
	StateCounts      map[fsm.State]int
	QueuedCount      int
	CurrentlyTesting string
}

// Config wires a queue.
type Config struct {
	Capacity        int
	HistoryCapacity int
	Factory         ExecutionFactory
	Logger          *slog.Logger
	Metrics         *observability.Metrics
	// OnCrash reports loop panics to the supervisor's restart budget.
	OnCrash func(component string, cause any)
}

const (
	defaultCapacity        = 64
	defaultHistoryCapacity = 256
)

// Queue is the admission agent. All state is owned by the loop goroutine.
type Queue struct {
	cfg     Config
	mailbox chan any

	pending      []Submission
	active       *Submission
	activeExec   Execution
	history      map[string]historyEntry
	historyOrder []string
}

type historyEntry struct {
	outcome   fsm.Outcome
	cancelled bool
}

type (
	cmdEnqueue struct {
		sub   Submission
		reply chan error
	}
	cmdCancel struct {
		testID string
		reply  chan CancelResult
	}
	cmdStatus struct {
		testID string
		reply  chan TestStatus
	}
	cmdSnapshot struct {
		reply chan Snapshot
	}
	evTerminal struct {
		outcome fsm.Outcome
	}
	cmdStop struct {
		reply chan struct{}
	}
)

// CancelResult reports what a cancel request achieved.
type CancelResult struct {
	Cancelled bool
	Message   string
}

// New creates a queue agent and starts its loop.
func New(cfg Config) *Queue {
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = defaultHistoryCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NopMetrics()
	}
	q := &Queue{
		cfg:     cfg,
		mailbox: make(chan any, 64),
		history: make(map[string]historyEntry),
	}
	go q.loop()
	return q
}

// Enqueue appends a submission. It fails with ServiceUnavailable when the
// pending list is at capacity.
func (q *Queue) Enqueue(testID, bucket string) error {
	reply := make(chan error, 1)
	q.mailbox <- cmdEnqueue{sub: Submission{TestID: testID, Bucket: bucket}, reply: reply}
	return <-reply
}

// Cancel removes a pending submission or forwards cancel to the active
// execution.
func (q *Queue) Cancel(testID string) CancelResult {
	reply := make(chan CancelResult, 1)
	q.mailbox <- cmdCancel{testID: testID, reply: reply}
	return <-reply
}

// Status merges the test's position across queue structures.
func (q *Queue) Status(testID string) TestStatus {
	reply := make(chan TestStatus, 1)
	q.mailbox <- cmdStatus{testID: testID, reply: reply}
	return <-reply
}

// SnapshotCounts summarizes all known tests by state.
func (q *Queue) SnapshotCounts() Snapshot {
	reply := make(chan Snapshot, 1)
	q.mailbox <- cmdSnapshot{reply: reply}
	return <-reply
}

// Stop ends the loop. Pending submissions are discarded.
func (q *Queue) Stop() {
	reply := make(chan struct{}, 1)
	q.mailbox <- cmdStop{reply: reply}
	<-reply
}

// loop processes the mailbox. A panic in a handler discards all queue
// state (pending submissions fail on their next touch with unknown-test
// answers) and restarts the loop against the restart budget.
func (q *Queue) loop() {
	defer func() {
		if cause := recover(); cause != nil {
			q.cfg.Logger.Error("queue loop panicked, discarding state", "cause", cause)
			q.pending = nil
			q.active = nil
			q.activeExec = nil
			q.history = make(map[string]historyEntry)
			q.historyOrder = nil
			if q.cfg.OnCrash != nil {
				q.cfg.OnCrash("queue", cause)
			}
			go q.loop()
		}
	}()
	for msg := range q.mailbox {
		switch m := msg.(type) {
		case cmdEnqueue:
			m.reply <- q.handleEnqueue(m.sub)
		case cmdCancel:
			m.reply <- q.handleCancel(m.testID)
		case cmdStatus:
			m.reply <- q.handleStatus(m.testID)
		case cmdSnapshot:
			m.reply <- q.handleSnapshot()
		case evTerminal:
			q.handleTerminal(m.outcome)
		case cmdStop:
			m.reply <- struct{}{}
			return
		}
	}
}

func (q *Queue) handleEnqueue(sub Submission) error {
	if len(q.pending) >= q.cfg.Capacity {
		return probeerr.New(probeerr.KindServiceUnavailable, "queue is full (%d pending)", len(q.pending))
	}
	q.pending = append(q.pending, sub)
	q.cfg.Metrics.QueueDepth.Set(float64(len(q.pending)))
	q.cfg.Logger.Info("test enqueued", "testId", sub.TestID, "position", len(q.pending))
	q.dispatch()
	return nil
}

// dispatch moves the head of the pending list into the active slot.
// At-most-one-active: nothing moves while the slot is occupied.
func (q *Queue) dispatch() {
	if q.active != nil || len(q.pending) == 0 {
		return
	}
	sub := q.pending[0]
	q.pending = q.pending[1:]
	q.cfg.Metrics.QueueDepth.Set(float64(len(q.pending)))

	q.active = &sub
	q.activeExec = q.cfg.Factory(sub.TestID, sub.Bucket, func(outcome fsm.Outcome) {
		q.mailbox <- evTerminal{outcome: outcome}
	})
	if err := q.activeExec.Start(); err != nil {
		q.cfg.Logger.Error("failed to start execution", "testId", sub.TestID, "error", err)
		q.history[sub.TestID] = historyEntry{outcome: fsm.Outcome{
			TestID:       sub.TestID,
			FinalState:   fsm.StateException,
			ErrorKind:    string(probeerr.KindServiceUnavailable),
			ErrorMessage: err.Error(),
		}}
		q.recordHistoryOrder(sub.TestID)
		q.active = nil
		q.activeExec = nil
		q.dispatch()
		return
	}
	q.cfg.Logger.Info("test dispatched", "testId", sub.TestID)
}

func (q *Queue) handleTerminal(outcome fsm.Outcome) {
	if q.active == nil || q.active.TestID != outcome.TestID {
		q.cfg.Logger.Warn("terminal notification for unknown test", "testId", outcome.TestID)
		return
	}
	q.history[outcome.TestID] = historyEntry{outcome: outcome, cancelled: outcome.Cancelled}
	q.recordHistoryOrder(outcome.TestID)
	q.active = nil
	q.activeExec = nil
	q.cfg.Logger.Info("test finished",
		"testId", outcome.TestID, "state", outcome.FinalState, "success", outcome.Success)
	q.dispatch()
}

func (q *Queue) recordHistoryOrder(testID string) {
	q.historyOrder = append(q.historyOrder, testID)
	for len(q.historyOrder) > q.cfg.HistoryCapacity {
		oldest := q.historyOrder[0]
		q.historyOrder = q.historyOrder[1:]
		delete(q.history, oldest)
	}
}

func (q *Queue) handleCancel(testID string) CancelResult {
	if q.active != nil && q.active.TestID == testID {
		if q.activeExec.Cancel() {
			return CancelResult{Cancelled: true, Message: "cancel delivered to running test"}
		}
		return CancelResult{Cancelled: false, Message: "test already finishing"}
	}
	for i, sub := range q.pending {
		if sub.TestID == testID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.cfg.Metrics.QueueDepth.Set(float64(len(q.pending)))
			q.history[testID] = historyEntry{cancelled: true, outcome: fsm.Outcome{
				TestID:     testID,
				FinalState: fsm.StateStopped,
				Cancelled:  true,
			}}
			q.recordHistoryOrder(testID)
			return CancelResult{Cancelled: true, Message: "removed from queue"}
		}
	}
	if entry, ok := q.history[testID]; ok {
		if entry.cancelled {
			return CancelResult{Cancelled: false, Message: "test was already cancelled"}
		}
		return CancelResult{Cancelled: false, Message: "test already finished"}
	}
	return CancelResult{Cancelled: false, Message: "unknown test"}
}

func (q *Queue) handleStatus(testID string) TestStatus {
	if q.active != nil && q.active.TestID == testID {
		return TestStatus{Status: q.activeExec.Status(), Known: true}
	}
	for i, sub := range q.pending {
		if sub.TestID == testID {
			status := TestStatus{Queued: true, Position: i + 1, Known: true}
			status.TestID = testID
			return status
		}
	}
	if entry, ok := q.history[testID]; ok {
		return historyStatus(testID, entry)
	}
	status := TestStatus{}
	status.TestID = testID
	return status
}

func historyStatus(testID string, entry historyEntry) TestStatus {
	o := entry.outcome
	status := TestStatus{Known: true, Cancelled: entry.cancelled}
	status.TestID = testID
	status.State = o.FinalState
	success := o.Success
	status.Success = &success
	status.ErrorKind = o.ErrorKind
	status.ErrorMessage = o.ErrorMessage
	passed, failed := o.ScenariosPassed, o.ScenariosFailed
	status.ScenariosPassed = &passed
	status.ScenariosFailed = &failed
	status.EvidencePath = o.EvidencePath
	if !o.StartedAt.IsZero() {
		started := o.StartedAt
		status.StartedAt = &started
	}
	if !o.CompletedAt.IsZero() {
		completed := o.CompletedAt
		status.CompletedAt = &completed
	}
	return status
}

func (q *Queue) handleSnapshot() Snapshot {
	snapshot := Snapshot{
		StateCounts: make(map[fsm.State]int),
		QueuedCount: len(q.pending),
	}
	snapshot.TotalTests = len(q.pending) + len(q.history)
	if q.active != nil {
		snapshot.TotalTests++
		status := q.activeExec.Status()
		snapshot.StateCounts[status.State]++
		if status.State == fsm.StateTesting {
			snapshot.CurrentlyTesting = q.active.TestID
		}
	}
	for _, entry := range q.history {
		snapshot.StateCounts[entry.outcome.FinalState]++
	}
	return snapshot
}
