package fsm

import (
	"path"
	"strings"

	"github.com/matthew-bram/test-probe/internal/cucumber"
	"github.com/matthew-bram/test-probe/internal/directive"
	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// startFetch runs the storage fetch off-loop and posts the result.
func (e *Execution) startFetch() {
	epoch := e.epoch
	go func() {
		result, err := e.cfg.Storage.Fetch(e.runCtx, e.fs, e.cfg.Bucket)
		e.mailbox <- evFetched{epoch: epoch, result: result, err: err}
	}()
}

func (e *Execution) handleFetched(m evFetched) {
	if m.err != nil {
		e.failWith(m.err)
		return
	}
	e.dir = m.result.Directive
	e.cfg.Logger.Info("directive loaded",
		"testId", e.cfg.TestID, "topics", len(e.dir.TopicDirectives), "features", len(m.result.FeatureFiles))
	e.startVault()
}

// startVault resolves one security directive per topic, serially, off-loop.
func (e *Execution) startVault() {
	epoch := e.epoch
	topicDirectives := e.dir.TopicDirectives
	go func() {
		secs := make([]directive.KafkaSecurityDirective, 0, len(topicDirectives))
		for _, td := range topicDirectives {
			sec, err := e.cfg.Vault.FetchSecurityDirective(e.runCtx, td)
			if err != nil {
				e.mailbox <- evVaultDone{epoch: epoch, err: err}
				return
			}
			secs = append(secs, sec)
		}
		e.mailbox <- evVaultDone{epoch: epoch, secs: secs}
	}()
}

func (e *Execution) handleVaultDone(m evVaultDone) {
	if m.err != nil {
		e.failWith(m.err)
		return
	}
	e.secs = m.secs
	e.cfg.Logger.Info("security directives resolved", "testId", e.cfg.TestID, "count", len(m.secs))
	e.startStreams()
}

// startStreams opens producer and consumer streams per topic directive and
// registers them so the DSL can reach them during Testing.
func (e *Execution) startStreams() {
	epoch := e.epoch
	topicDirectives := e.dir.TopicDirectives
	secs := e.secs
	go func() {
		err := e.openStreams(topicDirectives, secs)
		e.mailbox <- evStreamsUp{epoch: epoch, err: err}
	}()
}

func (e *Execution) openStreams(topicDirectives []directive.TopicDirective, secs []directive.KafkaSecurityDirective) error {
	secByTopic := make(map[string]directive.KafkaSecurityDirective, len(secs))
	for _, sec := range secs {
		secByTopic[sec.Topic] = sec
	}

	for _, td := range topicDirectives {
		sec, ok := secByTopic[td.Topic]
		if !ok || sec.Role != td.Role {
			return probeerr.New(probeerr.KindVaultMapping, "no security directive for topic %s role %s", td.Topic, td.Role)
		}

		switch td.Role {
		case directive.RoleProducer:
			stream, err := e.cfg.Streams.OpenProducer(td, sec)
			if err != nil {
				return err
			}
			if err := e.cfg.Registry.RegisterProducer(e.cfg.TestID, td.Topic, stream); err != nil {
				_ = stream.Close()
				return err
			}
		case directive.RoleConsumer:
			stream, err := e.cfg.Streams.OpenConsumer(e.runCtx, e.cfg.TestID, td, sec)
			if err != nil {
				return err
			}
			if err := e.cfg.Registry.RegisterConsumer(e.cfg.TestID, td.Topic, stream); err != nil {
				_ = stream.Close()
				return err
			}
		}
	}
	return nil
}

func (e *Execution) handleStreamsUp(m evStreamsUp) {
	if m.err != nil {
		e.failWith(m.err)
		return
	}
	e.transition(StateLoaded)
}

// startCucumber runs the BDD suite on its own goroutine. The run blocks
// that goroutine by design; step code drives the registry synchronously.
func (e *Execution) startCucumber() {
	epoch := e.epoch
	req := cucumber.RunRequest{
		FS:           e.fs,
		FeaturePath:  path.Join(e.dir.JimfsLocation, "features"),
		GluePackages: e.dir.UserGluePackages,
		Tags:         e.dir.Tags,
		EvidenceDir:  e.dir.EvidenceDir,
	}
	go func() {
		result, err := e.cfg.Runner.Run(req)
		ev := evCucumberDone{epoch: epoch, result: result, err: err}
		if err == nil {
			// The report is authoritative for scenario counts in every case.
			summary, perr := cucumber.LoadReport(e.fs, result.ReportPath)
			if perr != nil {
				ev.err = probeerr.Wrap(probeerr.KindCucumberError, perr, "cucumber report unreadable")
			} else {
				ev.summary = summary
			}
		}
		e.mailbox <- ev
	}()
}

func (e *Execution) handleCucumberDone(m evCucumberDone) {
	if m.err != nil {
		e.failWith(m.err)
		return
	}

	summary := m.summary
	e.summary = &summary
	e.outcome.ScenariosPassed = summary.ScenariosPassed
	e.outcome.ScenariosFailed = summary.ScenariosFailed

	// Assertion failures are an expected terminal: the probe worked, the
	// system under test did not. Infrastructure errors took the branch
	// above.
	e.outcome.Success = m.result.Outcome == cucumber.OutcomePass && summary.Success()
	e.cfg.Logger.Info("cucumber finished",
		"testId", e.cfg.TestID,
		"passed", summary.ScenariosPassed,
		"failed", summary.ScenariosFailed,
		"success", e.outcome.Success)
	e.transition(StateCompleted)
}

// startUpload pushes the evidence tree back to block storage.
func (e *Execution) startUpload() {
	epoch := e.epoch
	evidenceDir := ""
	if e.dir != nil {
		evidenceDir = e.dir.EvidenceDir
	}
	go func() {
		if evidenceDir == "" {
			e.mailbox <- evUploadDone{epoch: epoch}
			return
		}
		err := e.cfg.Storage.Upload(e.runCtx, e.fs, evidenceDir, e.cfg.Bucket)
		e.mailbox <- evUploadDone{epoch: epoch, err: err}
	}()
}

func (e *Execution) handleUploadDone(m evUploadDone) {
	if m.err != nil {
		e.cfg.Logger.Error("evidence upload failed", "testId", e.cfg.TestID, "error", m.err)
		if e.outcome.ErrorKind == "" {
			e.outcome.ErrorKind = string(probeerr.KindOf(m.err))
			e.outcome.ErrorMessage = m.err.Error()
		}
	} else if e.dir != nil {
		e.outcome.EvidencePath = strings.TrimSuffix(e.cfg.Bucket, "/") + "/evidence"
	}
	e.transition(StateShuttingDown)
}

// startTeardown releases every stream and the in-memory filesystem, then
// reports children stopped.
func (e *Execution) startTeardown() {
	producers, consumers := e.cfg.Registry.UnregisterTest(e.cfg.TestID)
	e.runCancel()
	go func() {
		for _, p := range producers {
			if err := p.Close(); err != nil {
				e.cfg.Logger.Error("producer close failed", "testId", e.cfg.TestID, "topic", p.Topic(), "error", err)
			}
		}
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				e.cfg.Logger.Error("consumer close failed", "testId", e.cfg.TestID, "topic", c.Topic(), "error", err)
			}
		}
		e.mailbox <- evChildrenStopped{}
	}()
}
