// Package config handles runtime configuration and the .legwork directory
// structure. Every repository that uses legwork gets a .legwork/ folder
// created in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// LegworkDir is the name of the directory we create in each repository.
	LegworkDir = ".legwork"

	defaultPipelineFile = "legwork.yaml"
	defaultMaxParallel  = 4
)

const defaultProjectConfigYAML = `# legwork project configuration
version: 1

# Path of the pipeline definition, relative to the repository root.
pipeline_file: legwork.yaml

# Registry host prepended to bare image names on push.
registry:
  host: ""

# How many matrix legs may run at the same time.
max_parallel: 4

# Keep per-leg workspaces after a run instead of removing them.
keep_workspaces: false
`

// RegistryConfig names the container registry images are pushed to.
type RegistryConfig struct {
	Host string `yaml:"host,omitempty"`
}

// ProjectConfig models .legwork/config.yaml.
type ProjectConfig struct {
	Version        int            `yaml:"version"`
	PipelineFile   string         `yaml:"pipeline_file,omitempty"`
	Registry       RegistryConfig `yaml:"registry,omitempty"`
	MaxParallel    int            `yaml:"max_parallel,omitempty"`
	KeepWorkspaces bool           `yaml:"keep_workspaces,omitempty"`
}

// Config holds the runtime configuration for legwork.
type Config struct {
	// ProjectDir is the repository the user ran `legwork` from.
	ProjectDir string

	// LegworkProjectDir is ProjectDir/.legwork.
	LegworkProjectDir string

	Project ProjectConfig
}

// InitLegworkDir creates the .legwork directory structure in the given
// repository.
//
// Structure created:
// .legwork/
// ├── logs/      <- run history and the debug log
// ├── work/      <- per-leg workspaces, removed after each run
// ├── stages/    <- custom stage plugin definitions
// └── secrets.yaml (written on first `legwork secret set`)
func InitLegworkDir(projectDir string) error {
	legworkDir := filepath.Join(projectDir, LegworkDir)
	dirs := []string{
		filepath.Join(legworkDir, "logs"),
		filepath.Join(legworkDir, "work"),
		filepath.Join(legworkDir, "stages"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	configPath := filepath.Join(legworkDir, "config.yaml")
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(configPath, []byte(defaultProjectConfigYAML), 0o644); err != nil {
			return fmt.Errorf("config: write default config: %w", err)
		}
	}
	return nil
}

// Load builds the runtime config for a repository, creating the .legwork
// structure if needed.
func Load(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	if err := InitLegworkDir(abs); err != nil {
		return nil, err
	}
	cfg := &Config{
		ProjectDir:        abs,
		LegworkProjectDir: filepath.Join(abs, LegworkDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:      1,
		PipelineFile: defaultPipelineFile,
		MaxParallel:  defaultMaxParallel,
	}
}

func (c *Config) loadProjectConfig() error {
	path := filepath.Join(c.LegworkProjectDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if parsed.Version != 0 && parsed.Version != 1 {
		return fmt.Errorf("config: unsupported config version %d", parsed.Version)
	}
	if strings.TrimSpace(parsed.PipelineFile) != "" {
		c.Project.PipelineFile = parsed.PipelineFile
	}
	if parsed.MaxParallel > 0 {
		c.Project.MaxParallel = parsed.MaxParallel
	}
	c.Project.Registry = parsed.Registry
	c.Project.KeepWorkspaces = parsed.KeepWorkspaces
	return nil
}

// PipelinePath is the absolute path of the pipeline definition.
func (c *Config) PipelinePath() string {
	if filepath.IsAbs(c.Project.PipelineFile) {
		return c.Project.PipelineFile
	}
	return filepath.Join(c.ProjectDir, c.Project.PipelineFile)
}

// SecretsPath is the absolute path of the encrypted secret store.
func (c *Config) SecretsPath() string {
	return filepath.Join(c.LegworkProjectDir, "secrets.yaml")
}

// StagesDir is where custom stage plugins are discovered.
func (c *Config) StagesDir() string {
	return filepath.Join(c.LegworkProjectDir, "stages")
}

// WorkDir is the root for per-leg workspaces.
func (c *Config) WorkDir() string {
	return filepath.Join(c.LegworkProjectDir, "work")
}

// LogsDir holds the run history and debug log.
func (c *Config) LogsDir() string {
	return filepath.Join(c.LegworkProjectDir, "logs")
}
