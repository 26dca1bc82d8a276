// Package stage defines the runtime unit of a pipeline leg. A stage wraps
// one opaque external command (or a small fixed sequence of them) and maps
// its exit status onto the leg's fail-fast semantics.
package stage

import (
	"context"
	"fmt"

	"github.com/legwork-ci/legwork/internal/trigger"
)

// Config represents stage-specific configuration (opaque to the runtime).
type Config map[string]any

// Info describes a stage's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	// BestEffort marks a stage whose failure is recorded but never aborts
	// the leg (the image cache warm-up is the one builtin case).
	BestEffort bool
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("stage: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("stage: name is required for %s", i.ID)
	}
	return nil
}

// Status enumerates stage outcomes.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Result captures the outcome of a stage execution. A failed Result aborts
// the leg; infrastructure problems (a process that cannot start, a missing
// workspace) are returned as errors instead.
type Result struct {
	Status  Status
	Message string
}

// Context carries everything a stage may touch. Stages never reach outside
// it, which is what keeps legs isolated from each other.
type Context struct {
	// Leg is the matrix leg name, for log lines only.
	Leg string
	// Workdir is the leg's private checkout.
	Workdir string
	// Env is the merged pipeline+leg environment.
	Env map[string]string
	// Secrets holds the decrypted credentials the leg declared. Values must
	// never appear in Result messages or log output.
	Secrets map[string]string
	// Event is the trigger being built.
	Event trigger.Event
	// ImageName is the pipeline's published image name, empty when the
	// pipeline publishes nothing.
	ImageName string
	// Runner spawns external commands.
	Runner CommandRunner
	// Log writes a line to the leg's log sink.
	Log func(format string, args ...any)
}

// Logf is a nil-safe wrapper around Log.
func (c *Context) Logf(format string, args ...any) {
	if c != nil && c.Log != nil {
		c.Log(format, args...)
	}
}

// Stage is implemented by every runtime unit of a leg.
type Stage interface {
	Info() Info
	Run(ctx context.Context, sc *Context) (Result, error)
}

// Factory constructs a stage with the provided configuration.
type Factory func(Config) (Stage, error)

// StringSlice reads an argv-shaped config value, tolerating the []any that
// YAML decoding produces.
func (c Config) StringSlice(key string) ([]string, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch value := raw.(type) {
	case []string:
		out := make([]string, len(value))
		copy(out, value)
		return out, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("stage: config %s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stage: config %s must be a list of strings", key)
	}
}

// StringMap reads a string-keyed config map, tolerating map[string]any.
func (c Config) StringMap(key string) (map[string]string, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch value := raw.(type) {
	case map[string]string:
		out := make(map[string]string, len(value))
		for k, v := range value {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(value))
		for k, v := range value {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("stage: config %s must map strings to strings", key)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("stage: config %s must be a string map", key)
	}
}

// String reads a scalar config value.
func (c Config) String(key string) (string, error) {
	raw, ok := c[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("stage: config %s must be a string", key)
	}
	return s, nil
}
