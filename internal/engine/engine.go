// Package engine runs a pipeline: it selects the matrix legs that match the
// triggering event and executes each leg's stage sequence with fail-fast
// semantics. Legs are independent jobs; nothing one leg does can change
// another leg's outcome.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/legwork-ci/legwork/internal/pipeline"
	"github.com/legwork-ci/legwork/internal/services"
	"github.com/legwork-ci/legwork/internal/stage"
	"github.com/legwork-ci/legwork/internal/trigger"
	"github.com/legwork-ci/legwork/internal/workspace"
)

// Status enumerates run and leg outcomes.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// StageRecord is the observed outcome of one stage within a leg.
type StageRecord struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Status   stage.Status  `yaml:"status"`
	Message  string        `yaml:"message,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

// LegResult is the outcome of one matrix leg.
type LegResult struct {
	Leg        string        `yaml:"leg"`
	Status     Status        `yaml:"status"`
	Reason     string        `yaml:"reason,omitempty"`
	Stages     []StageRecord `yaml:"stages,omitempty"`
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at"`
}

// RunResult is the outcome of one trigger evaluation.
type RunResult struct {
	RunID      string        `yaml:"run_id"`
	Event      trigger.Event `yaml:"-"`
	Status     Status        `yaml:"status"`
	Legs       []LegResult   `yaml:"legs"`
	StartedAt  time.Time     `yaml:"started_at"`
	FinishedAt time.Time     `yaml:"finished_at"`
}

// SecretSource resolves the secret names a leg declares into values.
type SecretSource interface {
	Resolve(names []string) (map[string]string, error)
}

// Observer receives progress callbacks; the TUI is the main implementation.
// Callbacks may arrive from multiple goroutines.
type Observer interface {
	LegStarted(leg string)
	StageStarted(leg, stageName string)
	StageFinished(leg string, record StageRecord)
	LegFinished(result LegResult)
}

// Runner coordinates leg execution.
type Runner struct {
	registry    *stage.Registry
	commands    stage.CommandRunner
	secrets     SecretSource
	workspaces  *workspace.Manager
	supervisor  *services.Supervisor
	observer    Observer
	clock       func() time.Time
	log         func(format string, args ...any)
	maxParallel int
}

// Option customizes the runner.
type Option func(*Runner)

// WithCommandRunner overrides the process spawner (tests inject fakes).
func WithCommandRunner(r stage.CommandRunner) Option {
	return func(e *Runner) {
		if r != nil {
			e.commands = r
		}
	}
}

// WithSecretSource wires the encrypted credential store.
func WithSecretSource(s SecretSource) Option {
	return func(e *Runner) { e.secrets = s }
}

// WithWorkspaces enables per-leg checkout isolation.
func WithWorkspaces(m *workspace.Manager) Option {
	return func(e *Runner) { e.workspaces = m }
}

// WithServices enables per-leg service containers.
func WithServices(s *services.Supervisor) Option {
	return func(e *Runner) { e.supervisor = s }
}

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(e *Runner) { e.observer = o }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Runner) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger attaches a log sink.
func WithLogger(log func(format string, args ...any)) Option {
	return func(e *Runner) { e.log = log }
}

// WithMaxParallel bounds how many legs run at once. Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Runner) { e.maxParallel = n }
}

// New wires a runner to the stage registry.
func New(registry *stage.Registry, opts ...Option) (*Runner, error) {
	if registry == nil {
		return nil, fmt.Errorf("engine: stage registry is required")
	}
	e := &Runner{
		registry: registry,
		commands: stage.ExecRunner{},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute evaluates one trigger event against the pipeline definition.
// The returned error covers setup problems only; stage failures land in the
// result, and the run's status surfaces via RunResult.Status.
func (e *Runner) Execute(ctx context.Context, def pipeline.Definition, evt trigger.Event, sourceDir string) (RunResult, error) {
	if err := evt.Validate(); err != nil {
		return RunResult{}, err
	}
	legs, err := pipeline.Expand(def)
	if err != nil {
		return RunResult{}, err
	}
	selected := pipeline.Select(legs, evt)
	run := RunResult{
		RunID:     uuid.NewString(),
		Event:     evt,
		StartedAt: e.clock(),
	}
	e.logf("run %s: %s, %d of %d legs selected", run.RunID, evt.Describe(), len(selected), len(legs))

	results := make([]LegResult, len(selected))
	group, groupCtx := errgroup.WithContext(ctx)
	if e.maxParallel > 0 {
		group.SetLimit(e.maxParallel)
	}
	for i, leg := range selected {
		i, leg := i, leg
		group.Go(func() error {
			// A failing leg never cancels its siblings, so the only
			// error that can travel through the group is ctx's own.
			results[i] = e.runLeg(groupCtx, run.RunID, def, leg, evt, sourceDir)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return RunResult{}, err
	}
	run.Legs = results
	run.FinishedAt = e.clock()
	run.Status = deriveRunStatus(results)
	e.logf("run %s: %s", run.RunID, run.Status)
	return run, nil
}

func deriveRunStatus(legs []LegResult) Status {
	for _, leg := range legs {
		if leg.Status == StatusFailed {
			return StatusFailed
		}
	}
	return StatusPassed
}

func (e *Runner) runLeg(ctx context.Context, runID string, def pipeline.Definition, leg pipeline.ResolvedLeg, evt trigger.Event, sourceDir string) LegResult {
	result := LegResult{Leg: leg.Name, Status: StatusPassed, StartedAt: e.clock()}
	e.observeLegStarted(leg.Name)
	defer func() {
		result.FinishedAt = e.clock()
		e.observeLegFinished(result)
	}()
	fail := func(reason string) LegResult {
		result.Status = StatusFailed
		result.Reason = reason
		e.logf("leg %s: %s", leg.Name, reason)
		return result
	}

	// Credentials are decrypted first: a failure here aborts the leg
	// before any workspace, service, or network activity.
	secretValues, err := e.resolveSecrets(leg.Secrets)
	if err != nil {
		return fail(err.Error())
	}

	workdir := sourceDir
	if e.workspaces != nil {
		prepared, err := e.workspaces.Prepare(runID, leg.Name, sourceDir)
		if err != nil {
			return fail(err.Error())
		}
		workdir = prepared
		defer func() {
			if err := e.workspaces.Cleanup(prepared); err != nil {
				e.logf("leg %s: cleanup: %v", leg.Name, err)
			}
		}()
	}

	if e.supervisor != nil && len(leg.Services) > 0 {
		running, err := e.supervisor.Start(ctx, runID, leg.Name, leg.Services)
		if err != nil {
			return fail(err.Error())
		}
		defer e.supervisor.Stop(context.WithoutCancel(ctx), running)
		if err := e.supervisor.Await(ctx, running); err != nil {
			return fail(err.Error())
		}
	}

	sc := &stage.Context{
		Leg:       leg.Name,
		Workdir:   workdir,
		Env:       leg.Env,
		Secrets:   secretValues,
		Event:     evt,
		ImageName: def.ImageName,
		Runner:    e.commands,
		Log: func(format string, args ...any) {
			e.logf("leg %s: "+format, append([]any{leg.Name}, args...)...)
		},
	}

	for _, ref := range leg.Stages {
		record := StageRecord{ID: ref.ID, Name: ref.DisplayName()}
		if !ref.When.Matches(evt) {
			record.Status = stage.StatusSkipped
			record.Message = "condition not met: " + ref.When.Describe()
			result.Stages = append(result.Stages, record)
			e.observeStageFinished(leg.Name, record)
			continue
		}
		st, err := e.registry.Resolve(ref.ID, stageConfig(ref))
		if err != nil {
			record.Status = stage.StatusFailed
			record.Message = err.Error()
			result.Stages = append(result.Stages, record)
			e.observeStageFinished(leg.Name, record)
			return fail(fmt.Sprintf("stage %s: %v", ref.ID, err))
		}
		e.observeStageStarted(leg.Name, record.Name)
		started := e.clock()
		outcome, err := st.Run(ctx, sc)
		record.Duration = e.clock().Sub(started)
		if err != nil {
			record.Status = stage.StatusFailed
			record.Message = err.Error()
			result.Stages = append(result.Stages, record)
			e.observeStageFinished(leg.Name, record)
			return fail(fmt.Sprintf("stage %s: %v", ref.ID, err))
		}
		record.Status = outcome.Status
		record.Message = outcome.Message
		result.Stages = append(result.Stages, record)
		e.observeStageFinished(leg.Name, record)
		if outcome.Status == stage.StatusFailed {
			if ref.BestEffort || st.Info().BestEffort {
				continue
			}
			return fail(fmt.Sprintf("stage %s failed: %s", ref.ID, outcome.Message))
		}
	}
	return result
}

func (e *Runner) resolveSecrets(names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	if e.secrets == nil {
		return nil, fmt.Errorf("engine: leg declares secrets but no secret store is configured")
	}
	return e.secrets.Resolve(names)
}

func stageConfig(ref pipeline.StageRef) stage.Config {
	cfg := stage.Config{}
	for key, value := range ref.Config {
		cfg[key] = value
	}
	if len(ref.Run) > 0 {
		cfg[stage.ConfigArgv] = ref.Run
	}
	if len(ref.Env) > 0 {
		cfg[stage.ConfigEnv] = ref.Env
	}
	return cfg
}

func (e *Runner) logf(format string, args ...any) {
	if e.log != nil {
		e.log(format, args...)
	}
}

func (e *Runner) observeLegStarted(leg string) {
	if e.observer != nil {
		e.observer.LegStarted(leg)
	}
}

func (e *Runner) observeStageStarted(leg, name string) {
	if e.observer != nil {
		e.observer.StageStarted(leg, name)
	}
}

func (e *Runner) observeStageFinished(leg string, record StageRecord) {
	if e.observer != nil {
		e.observer.StageFinished(leg, record)
	}
}

func (e *Runner) observeLegFinished(result LegResult) {
	if e.observer != nil {
		e.observer.LegFinished(result)
	}
}
