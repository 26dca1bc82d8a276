package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/legwork-ci/legwork/internal/config"
	"github.com/legwork-ci/legwork/internal/engine"
	"github.com/legwork-ci/legwork/internal/gitinfo"
	"github.com/legwork-ci/legwork/internal/logbook"
	"github.com/legwork-ci/legwork/internal/logging"
	"github.com/legwork-ci/legwork/internal/pipeline"
	"github.com/legwork-ci/legwork/internal/secrets"
	"github.com/legwork-ci/legwork/internal/services"
	"github.com/legwork-ci/legwork/internal/stage"
	"github.com/legwork-ci/legwork/internal/trigger"
	"github.com/legwork-ci/legwork/internal/tui"
	"github.com/legwork-ci/legwork/internal/workspace"
	"github.com/legwork-ci/legwork/plugins"
)

// ErrRunFailed marks a completed run whose legs did not all pass. The
// command maps it to a nonzero exit without the usual error prefix noise.
var ErrRunFailed = errors.New("run failed")

// ErrRunAborted marks a run the user quit out of before it completed.
// Nothing is recorded in the logbook for an aborted run.
var ErrRunAborted = errors.New("run aborted")

func newRunCommand() *cobra.Command {
	var (
		branch string
		tag    string
		commit string
		withUI bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the pipeline against a push or tag event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			evt, err := resolveEvent(cfg.ProjectDir, branch, tag, commit)
			if err != nil {
				return err
			}
			def, err := pipeline.Load(cfg.PipelinePath())
			if err != nil {
				return err
			}
			return executeRun(cmd.Context(), cmd.OutOrStdout(), cfg, def, evt, withUI)
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch for a push event (default: current git branch)")
	cmd.Flags().StringVar(&tag, "tag", "", "tag name; turns the event into a tag push")
	cmd.Flags().StringVar(&commit, "commit", "", "commit hash (default: git HEAD)")
	cmd.Flags().BoolVar(&withUI, "ui", false, "render a live run board instead of plain output")
	return cmd
}

// resolveEvent fills missing trigger fields from the git checkout.
func resolveEvent(dir, branch, tag, commit string) (trigger.Event, error) {
	if commit == "" {
		head, err := gitinfo.HeadCommit(dir)
		if err != nil {
			return trigger.Event{}, err
		}
		commit = head
	}
	if tag != "" {
		return trigger.NewTag(tag, commit)
	}
	if branch == "" {
		current, err := gitinfo.CurrentBranch(dir)
		if err != nil {
			return trigger.Event{}, err
		}
		branch = current
	}
	return trigger.NewPush(branch, commit)
}

func executeRun(ctx context.Context, out io.Writer, cfg *config.Config, def pipeline.Definition, evt trigger.Event, withUI bool) error {
	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	var result engine.RunResult
	if withUI {
		result, err = runWithBoard(ctx, cfg, def, evt, logger)
	} else {
		var eng *engine.Runner
		eng, err = buildEngine(cfg, logger, nil)
		if err != nil {
			return err
		}
		result, err = eng.Execute(ctx, def, evt, cfg.ProjectDir)
	}
	if err != nil {
		return err
	}
	if err := appendLogbook(cfg, result); err != nil {
		logger.Printf("cli: record run: %v", err)
	}
	if !withUI {
		printRun(out, result)
	}
	if result.Status == engine.StatusFailed {
		return ErrRunFailed
	}
	return nil
}

// buildEngine assembles the run engine from the project configuration. The
// observer is optional.
func buildEngine(cfg *config.Config, logger *logging.Logger, observer engine.Observer) (*engine.Runner, error) {
	registry := stage.NewRegistry()
	if err := stage.RegisterBuiltins(registry, cfg.Project.Registry.Host); err != nil {
		return nil, err
	}
	if err := plugins.RegisterStagePlugins(registry, cfg.StagesDir()); err != nil {
		return nil, err
	}
	workspaces, err := newWorkspaceManager(cfg)
	if err != nil {
		return nil, err
	}
	supervisor, err := services.NewSupervisor(stage.ExecRunner{}, logger.Printf)
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithWorkspaces(workspaces),
		engine.WithServices(supervisor),
		engine.WithLogger(logger.Printf),
		engine.WithMaxParallel(cfg.Project.MaxParallel),
	}
	store, err := secrets.Open(cfg.SecretsPath())
	switch {
	case err == nil:
		opts = append(opts, engine.WithSecretSource(store))
	case errors.Is(err, secrets.ErrNoKey):
		// Legs without secrets still run; legs that declare secrets fail
		// before touching the network.
	default:
		return nil, err
	}
	if observer != nil {
		opts = append(opts, engine.WithObserver(observer))
	}
	return engine.New(registry, opts...)
}

func newWorkspaceManager(cfg *config.Config) (*workspace.Manager, error) {
	return workspace.NewManager(cfg.WorkDir(), cfg.Project.KeepWorkspaces)
}

func runWithBoard(ctx context.Context, cfg *config.Config, def pipeline.Definition, evt trigger.Event, logger *logging.Logger) (engine.RunResult, error) {
	program := tea.NewProgram(tui.NewBoard(evt))
	observer := tui.NewObserver(program)
	eng, err := buildEngine(cfg, logger, observer)
	if err != nil {
		return engine.RunResult{}, err
	}
	execute := func(runCtx context.Context) (engine.RunResult, error) {
		return eng.Execute(runCtx, def, evt, cfg.ProjectDir)
	}
	finished := func(result engine.RunResult, err error) {
		if err != nil {
			observer.RunFailed(err)
			return
		}
		observer.RunFinished(result)
	}
	return superviseRun(ctx, program, execute, finished)
}

// boardRunner is the slice of *tea.Program superviseRun blocks on.
type boardRunner interface {
	Run() (tea.Model, error)
}

// superviseRun executes the engine beside the board's event loop. finished
// is called with the outcome after it is safe to read, and normally feeds
// the board its closing message. Quitting the board before the run completes
// cancels the run, waits for the engine to unwind, and reports the run as
// aborted rather than letting a half-finished result masquerade as a clean
// exit.
func superviseRun(ctx context.Context, board boardRunner, execute func(context.Context) (engine.RunResult, error), finished func(engine.RunResult, error)) (engine.RunResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		result engine.RunResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		result, runErr = execute(runCtx)
		// done closes before the board hears about the outcome, so a board
		// exit triggered by finished always observes the channel closed.
		close(done)
		finished(result, runErr)
	}()

	if _, err := board.Run(); err != nil {
		cancel()
		<-done
		return engine.RunResult{}, fmt.Errorf("cli: run board: %w", err)
	}
	select {
	case <-done:
		return result, runErr
	default:
		cancel()
		<-done
		return engine.RunResult{}, ErrRunAborted
	}
}

func appendLogbook(cfg *config.Config, result engine.RunResult) error {
	book, err := logbook.New(filepath.Join(cfg.LogsDir(), "logbook.yaml"))
	if err != nil {
		return err
	}
	return book.Append(logbook.FromRun(result))
}

func printRun(out io.Writer, result engine.RunResult) {
	fmt.Fprintf(out, "run %s · %s\n", result.RunID, result.Event.Describe())
	for _, leg := range result.Legs {
		fmt.Fprintf(out, "  %-24s %s (%s)\n", leg.Leg, leg.Status, leg.FinishedAt.Sub(leg.StartedAt).Round(time.Millisecond))
		for _, record := range leg.Stages {
			line := fmt.Sprintf("    %-20s %s", record.Name, record.Status)
			if record.Message != "" {
				line += "  " + record.Message
			}
			fmt.Fprintln(out, line)
		}
		if leg.Status == engine.StatusFailed && leg.Reason != "" {
			fmt.Fprintf(out, "    %s\n", leg.Reason)
		}
	}
	fmt.Fprintf(out, "run %s\n", result.Status)
}
