package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Command is one external process invocation.
type Command struct {
	Argv []string
	Dir  string
	Env  map[string]string
	// Stdin is piped to the process when non-empty. Registry passwords
	// travel this way so they never appear in an argv.
	Stdin string
}

// Execution is the observed outcome of a command. A non-zero exit code is a
// stage-level failure, not an infrastructure error.
type Execution struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// CommandRunner spawns external commands. The engine injects a fake in tests.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (Execution, error)
}

// ExecRunner runs commands with os/exec, inheriting the parent environment
// plus the command's overlay.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, spec Command) (Execution, error) {
	if len(spec.Argv) == 0 {
		return Execution{}, fmt.Errorf("stage: empty command")
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnviron(spec.Env)
	if spec.Stdin != "" {
		cmd.Stdin = bytes.NewBufferString(spec.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	execution := Execution{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			execution.ExitCode = exitErr.ExitCode()
			return execution, nil
		}
		return execution, fmt.Errorf("stage: start %s: %w", spec.Argv[0], err)
	}
	return execution, nil
}

func mergedEnviron(overlay map[string]string) []string {
	if len(overlay) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	keys := make([]string, 0, len(overlay))
	for key := range overlay {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+overlay[key])
	}
	return env
}
