package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/legwork-ci/legwork/internal/pipeline"
	"github.com/legwork-ci/legwork/internal/stage"
	"github.com/legwork-ci/legwork/internal/trigger"
)

// recordingRunner scripts outcomes by matching a prefix of the argv. The
// optional outcome hook sees the whole command, env included.
type recordingRunner struct {
	mu       sync.Mutex
	commands [][]string
	fail     map[string]stage.Execution
	outcome  func(cmd stage.Command) (stage.Execution, bool)
}

func (r *recordingRunner) Run(_ context.Context, cmd stage.Command) (stage.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, append([]string{}, cmd.Argv...))
	if r.outcome != nil {
		if execution, ok := r.outcome(cmd); ok {
			return execution, nil
		}
	}
	for prefix, execution := range r.fail {
		if strings.HasPrefix(strings.Join(cmd.Argv, " "), prefix) {
			return execution, nil
		}
	}
	return stage.Execution{Stdout: []byte("No changes detected\n")}, nil
}

func (r *recordingRunner) ran(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, argv := range r.commands {
		if strings.HasPrefix(strings.Join(argv, " "), prefix) {
			return true
		}
	}
	return false
}

type staticSecrets map[string]string

func (s staticSecrets) Resolve(names []string) (map[string]string, error) {
	out := map[string]string{}
	for _, name := range names {
		value, ok := s[name]
		if !ok {
			return nil, fmt.Errorf("secrets: unknown secret %s", name)
		}
		out[name] = value
	}
	return out, nil
}

func testDefinition(t *testing.T) pipeline.Definition {
	t.Helper()
	def, err := pipeline.Parse([]byte(`
version: 1
image_name: praekeltorg/hub
matrix:
  interpreter:
    - python-3.6
    - python-3.7
  deploy_targets:
    - name: develop
      when:
        branch: develop
      helper: ["dcd", "--image"]
`))
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func newTestRunner(t *testing.T, commands stage.CommandRunner, opts ...Option) *Runner {
	t.Helper()
	registry := stage.NewRegistry()
	if err := stage.RegisterBuiltins(registry, ""); err != nil {
		t.Fatal(err)
	}
	base := []Option{
		WithCommandRunner(commands),
		WithSecretSource(staticSecrets{"REGISTRY_USER": "praekelt", "REGISTRY_PASS": "hunter2"}),
	}
	runner, err := New(registry, append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return runner
}

func TestExecuteRunsSelectedLegsIndependently(t *testing.T) {
	// Break the 3.6 leg's tests; 3.7 shares no state and must pass.
	commands := &recordingRunner{outcome: func(cmd stage.Command) (stage.Execution, bool) {
		if cmd.Argv[0] == "pytest" && cmd.Env["INTERPRETER"] == "python-3.6" {
			return stage.Execution{ExitCode: 1, Stderr: []byte("1 failed")}, true
		}
		return stage.Execution{}, false
	}}
	runner := newTestRunner(t, commands)
	def := testDefinition(t)
	def.Matrix.DeployTargets = nil
	evt, _ := trigger.NewPush("feature/x", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if run.Status != StatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if len(run.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(run.Legs))
	}
	byName := map[string]LegResult{}
	for _, leg := range run.Legs {
		byName[leg.Leg] = leg
	}
	if byName["python-3.6"].Status != StatusFailed {
		t.Fatal("python-3.6 should fail")
	}
	if byName["python-3.7"].Status != StatusPassed {
		t.Fatal("python-3.7 must be unaffected by its sibling's failure")
	}
}

func TestLegAbortsOnFirstFailingStage(t *testing.T) {
	commands := &recordingRunner{fail: map[string]stage.Execution{
		"flake8": {ExitCode: 1, Stderr: []byte("E501")},
	}}
	runner := newTestRunner(t, commands)
	def := testDefinition(t)
	def.Matrix.Interpreters = []string{"python-3.6"}
	def.Matrix.DeployTargets = nil
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	leg := run.Legs[0]
	if leg.Status != StatusFailed {
		t.Fatal("expected leg failure")
	}
	// install ran, lint failed, nothing after.
	if len(leg.Stages) != 2 {
		t.Fatalf("expected 2 stage records, got %+v", leg.Stages)
	}
	if commands.ran("pytest") || commands.ran("mypy") {
		t.Fatal("stages after the failure must not run")
	}
}

func TestPullFailureNeverPreventsBuild(t *testing.T) {
	commands := &recordingRunner{fail: map[string]stage.Execution{
		"docker pull": {ExitCode: 1, Stderr: []byte("manifest unknown")},
	}}
	runner := newTestRunner(t, commands)
	def := testDefinition(t)
	def.Matrix.Interpreters = nil
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusPassed {
		t.Fatalf("expected passing run, got %s: %+v", run.Status, run.Legs)
	}
	if !commands.ran("docker build") {
		t.Fatal("build must proceed after a failed pull")
	}
	if !commands.ran("docker push praekeltorg/hub:deadbee") {
		t.Fatal("push must publish the short-hash tag")
	}
}

func TestPushStagesSkippedWhenConditionDoesNotMatch(t *testing.T) {
	commands := &recordingRunner{}
	runner := newTestRunner(t, commands)
	def := testDefinition(t)
	def.Matrix.Interpreters = nil
	evt, _ := trigger.NewPush("feature/x", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusPassed {
		t.Fatalf("expected passing run, got %s", run.Status)
	}
	if commands.ran("docker login") || commands.ran("docker push") || commands.ran("dcd") {
		t.Fatal("gated stages ran for a non-matching event")
	}
	if !commands.ran("docker build") {
		t.Fatal("build must still run on feature branches")
	}
	leg := run.Legs[0]
	skipped := 0
	for _, record := range leg.Stages {
		if record.Status == stage.StatusSkipped {
			skipped++
		}
	}
	if skipped != 3 {
		t.Fatalf("expected login/push/deploy skipped, got %+v", leg.Stages)
	}
}

func TestTagEventPublishesSemverTag(t *testing.T) {
	commands := &recordingRunner{}
	runner := newTestRunner(t, commands)
	def, err := pipeline.Parse([]byte(`
version: 1
image_name: praekeltorg/hub
matrix:
  deploy_targets:
    - name: release
      when:
        tags: true
`))
	if err != nil {
		t.Fatal(err)
	}
	evt, _ := trigger.NewTag("v1.4.0", "deadbeefcafe0123")
	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusPassed {
		t.Fatalf("expected passing run, got %+v", run.Legs)
	}
	if !commands.ran("docker push praekeltorg/hub:v1.4.0") {
		t.Fatal("tag build must publish the semver tag")
	}
}

func TestSecretFailureAbortsBeforeAnyCommand(t *testing.T) {
	commands := &recordingRunner{}
	runner := newTestRunner(t, commands, WithSecretSource(staticSecrets{}))
	def := testDefinition(t)
	def.Matrix.Interpreters = nil
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	leg := run.Legs[0]
	if leg.Status != StatusFailed {
		t.Fatal("expected failed leg")
	}
	if len(commands.commands) != 0 {
		t.Fatalf("no command may run after a credential failure, got %v", commands.commands)
	}
	if len(leg.Stages) != 0 {
		t.Fatal("no stage may start after a credential failure")
	}
}

func TestDriftFailureEmitsFixedMessage(t *testing.T) {
	commands := &recordingRunner{fail: map[string]stage.Execution{
		"python manage.py makemigrations": {Stdout: []byte("Migrations for 'registrations'\n")},
	}}
	runner := newTestRunner(t, commands)
	def := testDefinition(t)
	def.Matrix.Interpreters = []string{"python-3.6"}
	def.Matrix.DeployTargets = nil
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")

	run, err := runner.Execute(context.Background(), def, evt, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	leg := run.Legs[0]
	if leg.Status != StatusFailed {
		t.Fatal("expected drift failure")
	}
	last := leg.Stages[len(leg.Stages)-1]
	if last.ID != "drift-check" || last.Message != stage.DriftMessage {
		t.Fatalf("expected fixed drift message, got %+v", last)
	}
}
