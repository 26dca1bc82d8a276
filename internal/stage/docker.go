package stage

import (
	"context"
	"fmt"

	"github.com/legwork-ci/legwork/internal/image"
)

// The container stages shell out to the docker CLI rather than linking a
// client library: the toolchain is an opaque external collaborator, exactly
// like the linters and test runners.

type pullStage struct {
	info     Info
	cacheTag string
}

// NewImagePull warms the layer cache from a previously published image.
// Failure is tolerated: a cold cache costs time, not correctness.
func NewImagePull(info Info, cacheTag string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if cacheTag == "" {
		return nil, fmt.Errorf("stage %s: cache tag is required", info.ID)
	}
	info.BestEffort = true
	return &pullStage{info: info, cacheTag: cacheTag}, nil
}

func (s *pullStage) Info() Info { return s.info }

func (s *pullStage) Run(ctx context.Context, sc *Context) (Result, error) {
	cacheRef, err := image.Ref(sc.ImageName, s.cacheTag)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	execution, err := runLegCommand(ctx, sc, []string{"docker", "pull", cacheRef}, nil)
	if err != nil || execution.ExitCode != 0 {
		sc.Logf("image-pull: cache warm-up from %s skipped", cacheRef)
		return Result{Status: StatusOK, Message: fmt.Sprintf("cache warm-up from %s skipped", cacheRef)}, nil
	}
	return Result{Status: StatusOK, Message: "cache warmed from " + cacheRef}, nil
}

type buildStage struct {
	info     Info
	cacheTag string
}

// NewImageBuild builds the leg's image, using the cache image as layer source.
func NewImageBuild(info Info, cacheTag string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if cacheTag == "" {
		return nil, fmt.Errorf("stage %s: cache tag is required", info.ID)
	}
	return &buildStage{info: info, cacheTag: cacheTag}, nil
}

func (s *buildStage) Info() Info { return s.info }

func (s *buildStage) Run(ctx context.Context, sc *Context) (Result, error) {
	ref, err := image.RefFor(sc.ImageName, sc.Event)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}, nil
	}
	cacheRef, err := image.Ref(sc.ImageName, s.cacheTag)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	argv := []string{"docker", "build", "--cache-from", cacheRef, "-t", ref, "."}
	execution, err := runLegCommand(ctx, sc, argv, nil)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if execution.ExitCode != 0 {
		return Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("docker build exited %d: %s", execution.ExitCode, lastLine(execution.Stderr, execution.Stdout)),
		}, nil
	}
	return Result{Status: StatusOK, Message: "built " + ref}, nil
}

type loginStage struct {
	info Info
	host string
}

// NewRegistryLogin authenticates the docker client against the registry.
// The password is read from the leg's decrypted secrets and piped through
// stdin, never an argv.
func NewRegistryLogin(info Info, host string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &loginStage{info: info, host: host}, nil
}

func (s *loginStage) Info() Info { return s.info }

func (s *loginStage) Run(ctx context.Context, sc *Context) (Result, error) {
	user := sc.Secrets["REGISTRY_USER"]
	pass := sc.Secrets["REGISTRY_PASS"]
	if user == "" || pass == "" {
		return Result{Status: StatusFailed, Message: "REGISTRY_USER and REGISTRY_PASS secrets are required"}, nil
	}
	argv := []string{"docker", "login", "--username", user, "--password-stdin"}
	if s.host != "" {
		argv = append(argv, s.host)
	}
	execution, err := sc.Runner.Run(ctx, Command{Argv: argv, Dir: sc.Workdir, Env: sc.Env, Stdin: pass})
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if execution.ExitCode != 0 {
		// Deliberately omits command output: login errors can echo
		// credential material.
		return Result{Status: StatusFailed, Message: fmt.Sprintf("docker login exited %d", execution.ExitCode)}, nil
	}
	return Result{Status: StatusOK}, nil
}

type pushStage struct {
	info Info
}

// NewImagePush publishes the image built for this event.
func NewImagePush(info Info) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &pushStage{info: info}, nil
}

func (s *pushStage) Info() Info { return s.info }

func (s *pushStage) Run(ctx context.Context, sc *Context) (Result, error) {
	ref, err := image.RefFor(sc.ImageName, sc.Event)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}, nil
	}
	execution, err := runLegCommand(ctx, sc, []string{"docker", "push", ref}, nil)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if execution.ExitCode != 0 {
		return Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("docker push exited %d: %s", execution.ExitCode, lastLine(execution.Stderr, execution.Stdout)),
		}, nil
	}
	return Result{Status: StatusOK, Message: "pushed " + ref}, nil
}

type deployStage struct {
	info   Info
	helper []string
}

// NewDeploy invokes the external deployment helper with the published ref
// appended to its argv.
func NewDeploy(info Info, helper []string) (Stage, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if len(helper) == 0 {
		return nil, fmt.Errorf("stage %s: a helper command is required", info.ID)
	}
	return &deployStage{info: info, helper: helper}, nil
}

func (s *deployStage) Info() Info { return s.info }

func (s *deployStage) Run(ctx context.Context, sc *Context) (Result, error) {
	ref, err := image.RefFor(sc.ImageName, sc.Event)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}, nil
	}
	argv := append(append([]string{}, s.helper...), ref)
	execution, err := runLegCommand(ctx, sc, argv, nil)
	if err != nil {
		return Result{Status: StatusFailed}, err
	}
	if execution.ExitCode != 0 {
		return Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("%s exited %d: %s", s.helper[0], execution.ExitCode, lastLine(execution.Stderr, execution.Stdout)),
		}, nil
	}
	return Result{Status: StatusOK, Message: "deployed " + ref}, nil
}
