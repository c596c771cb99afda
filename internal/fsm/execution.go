package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/matthew-bram/test-probe/internal/blockstorage"
	"github.com/matthew-bram/test-probe/internal/cucumber"
	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/probeerr"
	"github.com/matthew-bram/test-probe/internal/streaming"
)

// Config wires one Execution.
type Config struct {
	TestID   string
	Bucket   string
	Storage  StorageChild
	Vault    VaultChild
	Streams  StreamFactory
	Runner   CucumberRunner
	Registry *streaming.Registry

	Timeouts      Timeouts
	StashCapacity int

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// OnTerminal fires exactly once, after all resources are released.
	OnTerminal func(Outcome)

	// OnCrash reports loop panics to the supervisor's restart budget.
	OnCrash func(component string, cause any)
}

const defaultStashCapacity = 32

// Execution is one running test state machine. All state is owned by the
// loop goroutine; external callers communicate through the mailbox.
type Execution struct {
	cfg     Config
	mailbox chan any

	// Loop-owned state.
	state   State
	epoch   int
	stash   []any
	timer   *time.Timer
	fs      afero.Fs
	dir     *directive.BlockStorageDirective
	secs    []directive.KafkaSecurityDirective
	outcome Outcome
	summary *cucumber.Summary

	runCtx    context.Context
	runCancel context.CancelFunc

	// done closes after the terminal state; finalStatus is readable then.
	done        chan struct{}
	finished    bool
	finalStatus Status
}

// Commands and events. Events carry the epoch of the state that spawned
// them; stale completions are dropped on arrival.
type (
	cmdStart  struct{ reply chan error }
	cmdCancel struct{ reply chan bool }
	cmdStatus struct{ reply chan Status }

	evFetched struct {
		epoch  int
		result *blockstorage.FetchResult
		err    error
	}
	evVaultDone struct {
		epoch int
		secs  []directive.KafkaSecurityDirective
		err   error
	}
	evStreamsUp struct {
		epoch int
		err   error
	}
	evExecute      struct{ epoch int }
	evCucumberDone struct {
		epoch   int
		result  cucumber.RunResult
		summary cucumber.Summary
		err     error
	}
	evUploadDone struct {
		epoch int
		err   error
	}
	evTimeout         struct{ epoch int }
	evChildrenStopped struct{}
)

// New creates an Execution in Setup and starts its loop.
func New(cfg Config) *Execution {
	if cfg.StashCapacity == 0 {
		cfg.StashCapacity = defaultStashCapacity
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NopMetrics()
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	e := &Execution{
		cfg:       cfg,
		mailbox:   make(chan any, 64),
		state:     StateSetup,
		fs:        afero.NewMemMapFs(),
		runCtx:    runCtx,
		runCancel: runCancel,
		done:      make(chan struct{}),
		outcome: Outcome{
			TestID:    cfg.TestID,
			StartedAt: time.Now().UTC(),
		},
	}
	e.armTimer()
	go e.loop()
	return e
}

// Start begins loading the test package.
func (e *Execution) Start() error {
	reply := make(chan error, 1)
	select {
	case e.mailbox <- cmdStart{reply: reply}:
	case <-e.done:
		return fmt.Errorf("test %s already stopped", e.cfg.TestID)
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return fmt.Errorf("test %s already stopped", e.cfg.TestID)
	}
}

// Cancel requests teardown. Returns false when the test already reached a
// terminal or post-test state where cancellation is a no-op.
func (e *Execution) Cancel() bool {
	reply := make(chan bool, 1)
	select {
	case e.mailbox <- cmdCancel{reply: reply}:
	case <-e.done:
		return false
	}
	select {
	case cancelled := <-reply:
		return cancelled
	case <-e.done:
		return false
	}
}

// Status snapshots the machine. After the terminal state the last snapshot
// is served without touching the exited loop.
func (e *Execution) Status() Status {
	reply := make(chan Status, 1)
	select {
	case e.mailbox <- cmdStatus{reply: reply}:
	case <-e.done:
		return e.finalStatus
	}
	select {
	case status := <-reply:
		return status
	case <-e.done:
		return e.finalStatus
	}
}

// loop processes the mailbox. A panicking handler fails the test rather
// than leaking a wedged machine: resources are released and the terminal
// notification still fires.
func (e *Execution) loop() {
	defer func() {
		if cause := recover(); cause != nil {
			e.cfg.Logger.Error("execution loop panicked", "testId", e.cfg.TestID, "cause", cause)
			if e.cfg.OnCrash != nil {
				e.cfg.OnCrash("fsm", cause)
			}
			producers, consumers := e.cfg.Registry.UnregisterTest(e.cfg.TestID)
			for _, p := range producers {
				_ = p.Close()
			}
			for _, c := range consumers {
				_ = c.Close()
			}
			e.state = StateException
			e.outcome.FinalState = StateException
			e.outcome.Success = false
			e.outcome.ErrorKind = string(probeerr.KindServiceUnavailable)
			e.outcome.ErrorMessage = fmt.Sprintf("execution crashed: %v", cause)
			e.outcome.CompletedAt = time.Now().UTC()
			e.finish()
		}
	}()
	for msg := range e.mailbox {
		e.handle(msg)
		if e.state.Terminal() {
			e.finish()
			return
		}
	}
}

func (e *Execution) handle(msg any) {
	switch m := msg.(type) {
	case cmdStatus:
		m.reply <- e.snapshot()
	case cmdCancel:
		m.reply <- e.handleCancel()
	case cmdStart:
		e.handleStart(m)
	case evFetched:
		e.ifCurrent(m.epoch, func() { e.handleFetched(m) })
	case evVaultDone:
		e.ifCurrent(m.epoch, func() { e.handleVaultDone(m) })
	case evStreamsUp:
		e.ifCurrent(m.epoch, func() { e.handleStreamsUp(m) })
	case evExecute:
		e.ifCurrent(m.epoch, func() { e.transition(StateTesting) })
	case evCucumberDone:
		e.ifCurrent(m.epoch, func() { e.handleCucumberDone(m) })
	case evUploadDone:
		e.ifCurrent(m.epoch, func() { e.handleUploadDone(m) })
	case evTimeout:
		e.ifCurrent(m.epoch, func() { e.handleTimeout() })
	case evChildrenStopped:
		if e.state == StateShuttingDown {
			e.transition(StateStopped)
		}
	default:
		e.stashCommand(msg)
	}
}

// ifCurrent drops events produced under an earlier state.
func (e *Execution) ifCurrent(epoch int, fn func()) {
	if epoch == e.epoch {
		fn()
	}
}

func (e *Execution) handleStart(m cmdStart) {
	if e.state != StateSetup {
		m.reply <- fmt.Errorf("test %s already started", e.cfg.TestID)
		return
	}
	m.reply <- nil
	e.cfg.Metrics.TestsStarted.Inc()
	e.transition(StateLoading)
}

func (e *Execution) handleCancel() bool {
	switch e.state {
	case StateCompleted, StateException, StateShuttingDown, StateStopped:
		return false
	}
	e.outcome.Cancelled = true
	e.cfg.Logger.Info("cancel requested", "testId", e.cfg.TestID, "state", e.state)
	e.transition(StateShuttingDown)
	return true
}

func (e *Execution) handleTimeout() {
	e.cfg.Logger.Warn("state deadline expired", "testId", e.cfg.TestID, "state", e.state)
	switch e.state {
	case StateCompleted, StateException:
		// Upload is taking too long; abandon it and tear down.
		e.transition(StateShuttingDown)
	case StateShuttingDown, StateStopped:
	default:
		e.failWith(probeerr.New(probeerr.KindServiceTimeout, "state %s exceeded its deadline", e.state))
	}
}

// stashCommand buffers a message that is not processable yet; the stash is
// replayed in order on the next transition.
func (e *Execution) stashCommand(msg any) {
	if len(e.stash) >= e.cfg.StashCapacity {
		e.failWith(probeerr.New(probeerr.KindBackpressureExceeded, "stash overflow at %d messages", len(e.stash)))
		return
	}
	e.stash = append(e.stash, msg)
}

// transition moves to the next state, invalidating outstanding events,
// rearming the state timer, replaying the stash, and running the entry
// action.
func (e *Execution) transition(next State) {
	e.cfg.Logger.Debug("state transition", "testId", e.cfg.TestID, "from", e.state, "to", next)
	e.state = next
	e.epoch++
	e.armTimer()

	if len(e.stash) > 0 {
		pending := e.stash
		e.stash = nil
		for _, msg := range pending {
			e.handle(msg)
		}
	}

	switch next {
	case StateLoading:
		e.startFetch()
	case StateLoaded:
		e.mailbox <- evExecute{epoch: e.epoch}
	case StateTesting:
		e.startCucumber()
	case StateCompleted:
		e.outcome.FinalState = StateCompleted
		e.cfg.Metrics.TestsCompleted.Inc()
		e.startUpload()
	case StateException:
		e.outcome.FinalState = StateException
		e.cfg.Metrics.TestsFailed.Inc()
		e.startUpload()
	case StateShuttingDown:
		e.startTeardown()
	case StateStopped:
		if e.outcome.FinalState == "" {
			e.outcome.FinalState = StateStopped
		}
		e.outcome.CompletedAt = time.Now().UTC()
	}
}

func (e *Execution) armTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	d := e.cfg.Timeouts.forState(e.state)
	if d <= 0 {
		return
	}
	epoch := e.epoch
	e.timer = time.AfterFunc(d, func() {
		e.mailbox <- evTimeout{epoch: epoch}
	})
}

// failWith records the failure and routes to Exception. Failures that
// strike after a terminal-ish state only log.
func (e *Execution) failWith(err error) {
	switch e.state {
	case StateCompleted, StateException, StateShuttingDown, StateStopped:
		e.cfg.Logger.Error("late failure ignored", "testId", e.cfg.TestID, "state", e.state, "error", err)
		return
	}
	e.outcome.Success = false
	e.outcome.ErrorKind = string(probeerr.KindOf(err))
	e.outcome.ErrorMessage = err.Error()
	e.cfg.Logger.Error("test failed", "testId", e.cfg.TestID, "state", e.state, "error", err)
	e.transition(StateException)
}

func (e *Execution) finish() {
	if e.finished {
		return
	}
	e.finished = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.runCancel()
	e.finalStatus = e.snapshot()
	close(e.done)
	if e.cfg.OnTerminal != nil {
		e.cfg.OnTerminal(e.outcome)
	}
}

func (e *Execution) snapshot() Status {
	s := Status{
		TestID:       e.cfg.TestID,
		State:        e.state,
		ErrorKind:    e.outcome.ErrorKind,
		ErrorMessage: e.outcome.ErrorMessage,
		EvidencePath: e.outcome.EvidencePath,
	}
	started := e.outcome.StartedAt
	s.StartedAt = &started
	if e.summary != nil {
		passed, failed := e.summary.ScenariosPassed, e.summary.ScenariosFailed
		s.ScenariosPassed = &passed
		s.ScenariosFailed = &failed
	}
	switch e.state {
	case StateCompleted, StateException, StateShuttingDown, StateStopped:
		success := e.outcome.Success
		s.Success = &success
		if !e.outcome.CompletedAt.IsZero() {
			completed := e.outcome.CompletedAt
			s.CompletedAt = &completed
		}
	}
	return s
}
