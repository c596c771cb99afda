package cucumber

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/cucumber/godog"
	"github.com/spf13/afero"

	"github.com/matthew-bram/test-probe/internal/probeerr"
)

// ReportFileName is the cucumber JSON report written into the evidence
// directory on every run.
const ReportFileName = "cucumber-report.json"

// Outcome is the terminal result of a runner invocation.
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
)

// RunRequest describes one runner invocation against the in-memory
// feature tree of a single test.
type RunRequest struct {
	FS           afero.Fs
	FeaturePath  string
	GluePackages []string
	Tags         string
	EvidenceDir  string
}

// RunResult carries the outcome plus the location of the JSON report.
type RunResult struct {
	Outcome    Outcome
	ReportPath string
}

// Runner executes godog suites. Run blocks; the execution state machine
// calls it on a dedicated goroutine so user step code may perform
// synchronous produce and fetch calls against the streaming registry.
type Runner struct {
	glue   *GlueRegistry
	logger *slog.Logger
}

// NewRunner builds a runner over the process glue registry.
func NewRunner(glue *GlueRegistry, logger *slog.Logger) *Runner {
	return &Runner{glue: glue, logger: logger}
}

// Run executes every feature under the request's feature path and writes
// the cucumber JSON report into the evidence directory. Assertion failures,
// and panics inside step functions (godog records them as failed steps),
// yield OutcomeFail; infrastructure problems (missing glue, unreadable
// features, panics that escape the godog run) return a CucumberError.
func (r *Runner) Run(req RunRequest) (result RunResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = probeerr.New(probeerr.KindCucumberError, "step code panicked: %v", rec)
		}
	}()

	initializers, err := r.glue.Resolve(req.GluePackages)
	if err != nil {
		return RunResult{}, probeerr.Wrap(probeerr.KindCucumberError, err, "cannot resolve glue packages")
	}

	if err := req.FS.MkdirAll(req.EvidenceDir, 0o755); err != nil {
		return RunResult{}, probeerr.Wrap(probeerr.KindCucumberError, err, "cannot create evidence directory")
	}
	reportPath := path.Join(req.EvidenceDir, ReportFileName)
	reportFile, err := req.FS.Create(reportPath)
	if err != nil {
		return RunResult{}, probeerr.Wrap(probeerr.KindCucumberError, err, "cannot create report file")
	}
	defer reportFile.Close()

	// io/fs paths are relative; the feature tree lives at absolute paths
	// inside the per-test filesystem, so the suite sees it through a
	// base-path wrapper with the leading slash stripped.
	suite := godog.TestSuite{
		Name: "test-probe",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			for _, init := range initializers {
				init(sc)
			}
		},
		Options: &godog.Options{
			Format:      "cucumber",
			Output:      reportFile,
			Paths:       []string{strings.TrimPrefix(req.FeaturePath, "/")},
			Tags:        req.Tags,
			FS:          afero.NewIOFS(afero.NewBasePathFs(req.FS, "/")),
			Concurrency: 1,
			Strict:      true,
		},
	}

	r.logger.Info("cucumber run starting",
		"features", req.FeaturePath, "glue", req.GluePackages, "tags", req.Tags)

	status := suite.Run()
	switch status {
	case 0:
		return RunResult{Outcome: OutcomePass, ReportPath: reportPath}, nil
	case 1:
		return RunResult{Outcome: OutcomeFail, ReportPath: reportPath}, nil
	default:
		return RunResult{}, probeerr.New(probeerr.KindCucumberError, "godog terminated with status %d", status)
	}
}

// LoadReport reads the report a finished run produced.
func LoadReport(fs afero.Fs, reportPath string) (Summary, error) {
	data, err := afero.ReadFile(fs, reportPath)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read cucumber report: %w", err)
	}
	return ParseReport(data)
}
