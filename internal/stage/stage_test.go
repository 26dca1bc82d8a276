package stage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/legwork-ci/legwork/internal/trigger"
)

// fakeRunner scripts command outcomes by the first argv word that matches.
type fakeRunner struct {
	calls   []Command
	outcome func(cmd Command) (Execution, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (Execution, error) {
	f.calls = append(f.calls, cmd)
	if f.outcome != nil {
		return f.outcome(cmd)
	}
	return Execution{}, nil
}

func testContext(runner CommandRunner) *Context {
	evt, _ := trigger.NewPush("develop", "deadbeefcafe0123")
	return &Context{
		Leg:       "python-3.6",
		Workdir:   "/tmp/leg",
		Env:       map[string]string{"CI": "true"},
		Event:     evt,
		ImageName: "praekeltorg/hub",
		Runner:    runner,
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	factory := func(Config) (Stage, error) {
		return NewCommand(Info{ID: "x", Name: "x"}, []string{"true"}, nil)
	}
	if err := reg.Register("x", factory); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("x", factory); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := reg.Resolve("missing", nil); err == nil {
		t.Fatal("expected unknown id error")
	}
}

func TestCommandStageMapsExitCodeToFailure(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{ExitCode: 2, Stderr: []byte("E501 line too long\n")}, nil
	}}
	s, err := NewCommand(Info{ID: "lint", Name: "lint"}, []string{"flake8"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	result, err := s.Run(context.Background(), testContext(runner))
	if err != nil {
		t.Fatalf("unexpected infrastructure error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failure, got %s", result.Status)
	}
	if !strings.Contains(result.Message, "E501") {
		t.Fatalf("failure message should carry tool output, got %q", result.Message)
	}
}

func TestCommandStagePropagatesStartErrors(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{}, fmt.Errorf("stage: start flake8: executable not found")
	}}
	s, _ := NewCommand(Info{ID: "lint", Name: "lint"}, []string{"flake8"}, nil)
	if _, err := s.Run(context.Background(), testContext(runner)); err == nil {
		t.Fatal("expected infrastructure error")
	}
}

func TestCommandStageMergesLegAndStageEnv(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := NewCommand(Info{ID: "test", Name: "test"}, []string{"pytest"}, map[string]string{"PYTEST_ADDOPTS": "-x"})
	if _, err := s.Run(context.Background(), testContext(runner)); err != nil {
		t.Fatal(err)
	}
	cmd := runner.calls[0]
	if cmd.Env["CI"] != "true" || cmd.Env["PYTEST_ADDOPTS"] != "-x" {
		t.Fatalf("env not merged: %v", cmd.Env)
	}
	if cmd.Dir != "/tmp/leg" {
		t.Fatalf("command must run in the leg workspace, got %s", cmd.Dir)
	}
}

func TestDriftCheckPassesOnMarker(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{Stdout: []byte("No changes detected\n")}, nil
	}}
	s, _ := NewDriftCheck(Info{ID: "drift-check", Name: "drift"}, []string{"python", "manage.py", "makemigrations", "--dry-run"})
	result, err := s.Run(context.Background(), testContext(runner))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("expected ok, got %s (%s)", result.Status, result.Message)
	}
}

func TestDriftCheckFailsWithFixedMessage(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{Stdout: []byte("Migrations for 'registrations':\n  0042_auto.py\n")}, nil
	}}
	s, _ := NewDriftCheck(Info{ID: "drift-check", Name: "drift"}, []string{"python", "manage.py", "makemigrations", "--dry-run"})
	result, err := s.Run(context.Background(), testContext(runner))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatal("expected failure for pending migrations")
	}
	if result.Message != DriftMessage {
		t.Fatalf("expected the fixed drift message, got %q", result.Message)
	}
}

func TestDriftCheckIgnoresExitCodeWhenMarkerPresent(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{ExitCode: 1, Stderr: []byte("No changes detected\n")}, nil
	}}
	s, _ := NewDriftCheck(Info{ID: "drift-check", Name: "drift"}, []string{"python", "manage.py", "makemigrations", "--dry-run"})
	result, err := s.Run(context.Background(), testContext(runner))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("marker must win over exit code, got %s", result.Status)
	}
}

func TestImagePullFailureIsTolerated(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{ExitCode: 1, Stderr: []byte("manifest unknown")}, nil
	}}
	s, _ := NewImagePull(Info{ID: "image-pull", Name: "pull"}, "develop")
	result, err := s.Run(context.Background(), testContext(runner))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("pull failure must not fail the leg, got %s", result.Status)
	}
	if !s.Info().BestEffort {
		t.Fatal("pull stage must be marked best-effort")
	}
}

func TestImageBuildUsesCacheAndEventTag(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := NewImageBuild(Info{ID: "image-build", Name: "build"}, "develop")
	if _, err := s.Run(context.Background(), testContext(runner)); err != nil {
		t.Fatal(err)
	}
	argv := runner.calls[0].Argv
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--cache-from praekeltorg/hub:develop") {
		t.Fatalf("cache ref missing: %v", argv)
	}
	if !strings.Contains(joined, "-t praekeltorg/hub:deadbee") {
		t.Fatalf("event tag missing: %v", argv)
	}
}

func TestRegistryLoginPipesPasswordThroughStdin(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := NewRegistryLogin(Info{ID: "registry-login", Name: "login"}, "")
	sc := testContext(runner)
	sc.Secrets = map[string]string{"REGISTRY_USER": "praekelt", "REGISTRY_PASS": "hunter2"}
	result, err := s.Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusOK {
		t.Fatalf("unexpected status %s", result.Status)
	}
	cmd := runner.calls[0]
	if cmd.Stdin != "hunter2" {
		t.Fatal("password must travel via stdin")
	}
	for _, arg := range cmd.Argv {
		if arg == "hunter2" {
			t.Fatal("password must not appear in argv")
		}
	}
}

func TestRegistryLoginFailureNeverEchoesOutput(t *testing.T) {
	runner := &fakeRunner{outcome: func(cmd Command) (Execution, error) {
		return Execution{ExitCode: 1, Stderr: []byte("denied for user praekelt with password hunter2")}, nil
	}}
	s, _ := NewRegistryLogin(Info{ID: "registry-login", Name: "login"}, "")
	sc := testContext(runner)
	sc.Secrets = map[string]string{"REGISTRY_USER": "praekelt", "REGISTRY_PASS": "hunter2"}
	result, err := s.Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusFailed {
		t.Fatal("expected login failure")
	}
	if strings.Contains(result.Message, "hunter2") {
		t.Fatal("failure message leaked the password")
	}
}

func TestDeployAppendsPublishedRef(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := NewDeploy(Info{ID: "deploy", Name: "deploy"}, []string{"dcd", "--image"})
	if _, err := s.Run(context.Background(), testContext(runner)); err != nil {
		t.Fatal(err)
	}
	argv := runner.calls[0].Argv
	if argv[len(argv)-1] != "praekeltorg/hub:deadbee" {
		t.Fatalf("helper must receive the published ref, got %v", argv)
	}
}

func TestRegisterBuiltinsResolvesEverySequenceStage(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, "registry.example.com"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"install", "lint", "typecheck", "test", "drift-check"} {
		if _, err := reg.Resolve(id, Config{ConfigArgv: []any{"true"}}); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
	if _, err := reg.Resolve("image-pull", Config{ConfigCacheTag: "develop"}); err != nil {
		t.Fatalf("resolve image-pull: %v", err)
	}
	if _, err := reg.Resolve("deploy", Config{ConfigHelper: []any{"dcd"}}); err != nil {
		t.Fatalf("resolve deploy: %v", err)
	}
}

func TestConfigCoercions(t *testing.T) {
	cfg := Config{
		ConfigArgv: []any{"pytest", "-x"},
		ConfigEnv:  map[string]any{"CI": "true"},
	}
	argv, err := cfg.StringSlice(ConfigArgv)
	if err != nil || len(argv) != 2 || argv[1] != "-x" {
		t.Fatalf("StringSlice: %v %v", argv, err)
	}
	env, err := cfg.StringMap(ConfigEnv)
	if err != nil || env["CI"] != "true" {
		t.Fatalf("StringMap: %v %v", env, err)
	}
	if _, err := (Config{ConfigArgv: []any{1}}).StringSlice(ConfigArgv); err == nil {
		t.Fatal("expected error for non-string argv element")
	}
}
