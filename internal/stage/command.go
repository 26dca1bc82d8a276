package stage

import (
	"context"
	"fmt"
	"strings"
)

// commandStage runs one configured argv and fails the leg on a non-zero
// exit. The install/lint/typecheck/test builtins are all instances of it.
type commandStage struct {
	info Info
	argv []string
	env  map[string]string
}

// NewCommand builds a command-backed stage.
func NewCommand(info Info, argv []string, env map[string]string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("stage %s: a command is required", info.ID)
	}
	return &commandStage{info: info, argv: argv, env: env}, nil
}

func (s *commandStage) Info() Info { return s.info }

func (s *commandStage) Run(ctx context.Context, sc *Context) (Result, error) {
	execution, err := runLegCommand(ctx, sc, s.argv, s.env)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if execution.ExitCode != 0 {
		sc.Logf("%s: %s exited %d", s.info.ID, s.argv[0], execution.ExitCode)
		return Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("%s exited %d: %s", s.argv[0], execution.ExitCode, lastLine(execution.Stderr, execution.Stdout)),
		}, nil
	}
	return Result{Status: StatusOK}, nil
}

// runLegCommand layers the stage env over the leg env and executes inside
// the leg workspace.
func runLegCommand(ctx context.Context, sc *Context, argv []string, env map[string]string) (Execution, error) {
	merged := make(map[string]string, len(sc.Env)+len(env))
	for key, value := range sc.Env {
		merged[key] = value
	}
	for key, value := range env {
		merged[key] = value
	}
	return sc.Runner.Run(ctx, Command{Argv: argv, Dir: sc.Workdir, Env: merged})
}

func lastLine(preferred, fallback []byte) string {
	for _, output := range [][]byte{preferred, fallback} {
		lines := strings.Split(strings.TrimSpace(string(output)), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
	}
	return "no output"
}
