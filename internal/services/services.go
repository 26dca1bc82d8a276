// Package services provisions the containers a leg depends on (typically a
// database). Each leg gets its own instances; nothing is shared between legs.
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/legwork-ci/legwork/internal/pipeline"
	"github.com/legwork-ci/legwork/internal/stage"
)

const (
	probeAttempts = 30
	probeInterval = time.Second
)

// Running identifies one started service container.
type Running struct {
	Service   string
	Container string
	Probe     []string
}

// Supervisor starts, probes, and stops service containers through the same
// command runner the stages use.
type Supervisor struct {
	runner stage.CommandRunner
	log    func(format string, args ...any)
	sleep  func(time.Duration)
}

// Option customizes a supervisor.
type Option func(*Supervisor)

// WithSleep injects a deterministic delay function (primarily for tests).
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Supervisor) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// NewSupervisor wires a supervisor to a command runner and log sink.
func NewSupervisor(runner stage.CommandRunner, log func(format string, args ...any), opts ...Option) (*Supervisor, error) {
	if runner == nil {
		return nil, fmt.Errorf("services: command runner is required")
	}
	s := &Supervisor{runner: runner, log: log, sleep: time.Sleep}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches every declared service for one leg. On any failure the
// containers already started are torn down before returning.
func (s *Supervisor) Start(ctx context.Context, runID, leg string, svcs []pipeline.Service) ([]Running, error) {
	var running []Running
	for _, svc := range svcs {
		container := containerName(runID, leg, svc.Name)
		argv := []string{"docker", "run", "--detach", "--name", container}
		for _, key := range sortedKeys(svc.Env) {
			argv = append(argv, "--env", key+"="+svc.Env[key])
		}
		argv = append(argv, svc.Image)
		execution, err := s.runner.Run(ctx, stage.Command{Argv: argv})
		if err != nil {
			s.Stop(ctx, running)
			return nil, fmt.Errorf("services: start %s: %w", svc.Name, err)
		}
		if execution.ExitCode != 0 {
			s.Stop(ctx, running)
			return nil, fmt.Errorf("services: start %s: docker run exited %d", svc.Name, execution.ExitCode)
		}
		s.logf("services: started %s (%s)", svc.Name, container)
		running = append(running, Running{Service: svc.Name, Container: container, Probe: svc.Probe})
	}
	return running, nil
}

// Await blocks until every probed service answers its readiness command, or
// fails after a bounded number of attempts.
func (s *Supervisor) Await(ctx context.Context, running []Running) error {
	for _, r := range running {
		if len(r.Probe) == 0 {
			continue
		}
		if err := s.awaitOne(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Supervisor) awaitOne(ctx context.Context, r Running) error {
	argv := append([]string{"docker", "exec", r.Container}, r.Probe...)
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("services: await %s: %w", r.Service, err)
		}
		execution, err := s.runner.Run(ctx, stage.Command{Argv: argv})
		if err == nil && execution.ExitCode == 0 {
			s.logf("services: %s ready after %d probe(s)", r.Service, attempt)
			return nil
		}
		if attempt < probeAttempts {
			s.sleep(probeInterval)
		}
	}
	return fmt.Errorf("services: %s not ready after %d probes", r.Service, probeAttempts)
}

// Stop removes the containers. Failures are logged, not returned: teardown
// runs on every exit path and must not mask the leg's own outcome.
func (s *Supervisor) Stop(ctx context.Context, running []Running) {
	for _, r := range running {
		argv := []string{"docker", "rm", "--force", r.Container}
		if _, err := s.runner.Run(ctx, stage.Command{Argv: argv}); err != nil {
			s.logf("services: stop %s: %v", r.Service, err)
		}
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.log != nil {
		s.log(format, args...)
	}
}

func containerName(runID, leg, service string) string {
	sanitize := func(in string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '-'
			}
		}, in)
	}
	return strings.Join([]string{"legwork", sanitize(runID), sanitize(leg), sanitize(service)}, "-")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
