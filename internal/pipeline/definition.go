package pipeline

import (
	"fmt"
	"strings"

	"github.com/legwork-ci/legwork/internal/trigger"
)

// Definition declares a repository's build matrix plus the metadata required
// to publish images. It mirrors the on-disk schema of legwork.yaml.
type Definition struct {
	Version   int               `json:"version" yaml:"version"`
	ImageName string            `json:"image_name,omitempty" yaml:"image_name,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Defaults  Defaults          `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Matrix    Matrix            `json:"matrix" yaml:"matrix"`
}

// Matrix declares the build axes. Interpreter entries each expand into one
// leg running the default stage sequence; deploy targets each expand into a
// container leg whose stage overrides replace the defaults entirely; explicit
// legs are appended verbatim.
type Matrix struct {
	Interpreters  []string       `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	DeployTargets []DeployTarget `json:"deploy_targets,omitempty" yaml:"deploy_targets,omitempty"`
	Legs          []Leg          `json:"legs,omitempty" yaml:"legs,omitempty"`
}

// DeployTarget declares one container build/push/deploy leg.
type DeployTarget struct {
	Name     string            `json:"name" yaml:"name"`
	When     trigger.Condition `json:"when,omitempty" yaml:"when,omitempty"`
	CacheTag string            `json:"cache_tag,omitempty" yaml:"cache_tag,omitempty"`
	Helper   []string          `json:"helper,omitempty" yaml:"helper,omitempty"`
}

// Leg is one row of the build matrix: a fully specified independent pipeline
// run. Stages is a pointer so an explicit empty list can suppress the default
// sequence, which is how container legs opt out of install/lint/test.
type Leg struct {
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Interpreter string            `json:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	OS          string            `json:"os,omitempty" yaml:"os,omitempty"`
	Services    []Service         `json:"services,omitempty" yaml:"services,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Secrets     []string          `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Stages      *[]StageRef       `json:"stages,omitempty" yaml:"stages,omitempty"`
	When        trigger.Condition `json:"when,omitempty" yaml:"when,omitempty"`
}

// Service declares a container the leg depends on (typically a database).
// Probe is an argv executed inside the container to decide readiness.
type Service struct {
	Name  string            `json:"name" yaml:"name"`
	Image string            `json:"image" yaml:"image"`
	Env   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Probe []string          `json:"probe,omitempty" yaml:"probe,omitempty"`
}

// StageRef references a registered stage with per-leg configuration.
type StageRef struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Run        []string          `json:"run,omitempty" yaml:"run,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	BestEffort bool              `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
	When       trigger.Condition `json:"when,omitempty" yaml:"when,omitempty"`
	Config     map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
}

// Defaults holds the commands backing the default stage sequence. Empty
// entries fall back to the conventional toolchain for the ecosystem this
// pipeline grew up with.
type Defaults struct {
	Install    []string `json:"install,omitempty" yaml:"install,omitempty"`
	Lint       []string `json:"lint,omitempty" yaml:"lint,omitempty"`
	Typecheck  []string `json:"typecheck,omitempty" yaml:"typecheck,omitempty"`
	Test       []string `json:"test,omitempty" yaml:"test,omitempty"`
	DriftCheck []string `json:"drift_check,omitempty" yaml:"drift_check,omitempty"`
}

var fallbackDefaults = Defaults{
	Install:    []string{"pip", "install", "-r", "requirements.txt"},
	Lint:       []string{"flake8"},
	Typecheck:  []string{"mypy", "."},
	Test:       []string{"pytest"},
	DriftCheck: []string{"python", "manage.py", "makemigrations", "--dry-run"},
}

func (d Defaults) normalized() Defaults {
	pick := func(v, fallback []string) []string {
		if len(v) > 0 {
			return cloneStrings(v)
		}
		return cloneStrings(fallback)
	}
	return Defaults{
		Install:    pick(d.Install, fallbackDefaults.Install),
		Lint:       pick(d.Lint, fallbackDefaults.Lint),
		Typecheck:  pick(d.Typecheck, fallbackDefaults.Typecheck),
		Test:       pick(d.Test, fallbackDefaults.Test),
		DriftCheck: pick(d.DriftCheck, fallbackDefaults.DriftCheck),
	}
}

// StageIDs of the builtin sequence and container stages.
const (
	StageInstall    = "install"
	StageLint       = "lint"
	StageTypecheck  = "typecheck"
	StageTest       = "test"
	StageDriftCheck = "drift-check"

	StageImagePull    = "image-pull"
	StageImageBuild   = "image-build"
	StageRegistryAuth = "registry-login"
	StageImagePush    = "image-push"
	StageDeploy       = "deploy"
)

// DefaultCacheTag is the tag container legs warm their layer cache from when
// the deploy target does not name one.
const DefaultCacheTag = "develop"

// Validate ensures the definition is self-consistent.
func (def Definition) Validate() error {
	if def.Version != 1 {
		return fmt.Errorf("pipeline: unsupported version %d", def.Version)
	}
	if len(def.Matrix.Interpreters) == 0 && len(def.Matrix.DeployTargets) == 0 && len(def.Matrix.Legs) == 0 {
		return fmt.Errorf("pipeline: matrix declares no legs")
	}
	if len(def.Matrix.DeployTargets) > 0 && strings.TrimSpace(def.ImageName) == "" {
		return fmt.Errorf("pipeline: image_name is required when deploy targets are declared")
	}
	seen := map[string]struct{}{}
	note := func(name string) error {
		if _, exists := seen[name]; exists {
			return fmt.Errorf("pipeline: duplicate leg name %s", name)
		}
		seen[name] = struct{}{}
		return nil
	}
	for idx, interp := range def.Matrix.Interpreters {
		trimmed := strings.TrimSpace(interp)
		if trimmed == "" {
			return fmt.Errorf("pipeline: matrix interpreter[%d] is empty", idx)
		}
		if err := note(interpreterLegName(trimmed)); err != nil {
			return err
		}
	}
	for idx, target := range def.Matrix.DeployTargets {
		if strings.TrimSpace(target.Name) == "" {
			return fmt.Errorf("pipeline: deploy target[%d] needs a name", idx)
		}
		if err := target.When.Validate(); err != nil {
			return fmt.Errorf("pipeline: deploy target %s: %w", target.Name, err)
		}
		if err := note(deployLegName(target.Name)); err != nil {
			return err
		}
	}
	for idx, leg := range def.Matrix.Legs {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("pipeline: leg[%d]: %w", idx, err)
		}
		if err := note(leg.legName()); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures an explicit leg is well-formed.
func (l Leg) Validate() error {
	if l.legName() == "" {
		return fmt.Errorf("a name or interpreter is required")
	}
	if err := l.When.Validate(); err != nil {
		return err
	}
	for idx, svc := range l.Services {
		if strings.TrimSpace(svc.Name) == "" || strings.TrimSpace(svc.Image) == "" {
			return fmt.Errorf("service[%d] needs a name and image", idx)
		}
	}
	if l.Stages != nil {
		for idx, ref := range *l.Stages {
			if err := ref.Validate(); err != nil {
				return fmt.Errorf("stage[%d]: %w", idx, err)
			}
		}
	}
	return nil
}

// Validate ensures the stage reference names a stage and a sane condition.
func (r StageRef) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("stage id is required")
	}
	return r.When.Validate()
}

// DisplayName is the label used in run records and the TUI.
func (r StageRef) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func (l Leg) legName() string {
	if name := strings.TrimSpace(l.Name); name != "" {
		return name
	}
	if interp := strings.TrimSpace(l.Interpreter); interp != "" {
		return interpreterLegName(interp)
	}
	return ""
}

func interpreterLegName(interpreter string) string {
	return strings.ReplaceAll(strings.TrimSpace(interpreter), " ", "-")
}

func deployLegName(target string) string {
	return "deploy-" + strings.TrimSpace(target)
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
