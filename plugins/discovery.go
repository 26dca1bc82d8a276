package plugins

import (
	"fmt"

	"github.com/legwork-ci/legwork/internal/stage"
)

// RegisterStagePlugins discovers YAML and Go stage definitions under dir and
// registers them as command-backed stages.
func RegisterStagePlugins(reg *stage.Registry, dir string) error {
	if reg == nil {
		return nil
	}
	defs, err := loadAllDefinitionFiles(dir)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}
	seen := make(map[string]string)
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return fmt.Errorf("plugin: duplicate stage id %s (%s and %s)", def.ID, existing, file.Path)
		}
		seen[def.ID] = file.Path
		defCopy := def
		if err := reg.Register(defCopy.ID, func(cfg stage.Config) (stage.Stage, error) {
			return newPluginStage(defCopy, cfg)
		}); err != nil {
			return fmt.Errorf("plugin: register %s from %s: %w", def.ID, file.Path, err)
		}
	}
	return nil
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}

// newPluginStage builds the runtime stage for a definition. Pipeline-side
// argv/env overrides win over the definition's own.
func newPluginStage(def StageDefinition, cfg stage.Config) (stage.Stage, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	normalized := def.Normalized()
	argv := normalized.Command
	if override, err := cfg.StringSlice(stage.ConfigArgv); err != nil {
		return nil, err
	} else if len(override) > 0 {
		argv = override
	}
	env := normalized.Env
	if override, err := cfg.StringMap(stage.ConfigEnv); err != nil {
		return nil, err
	} else if len(override) > 0 {
		merged := make(map[string]string, len(env)+len(override))
		for key, value := range env {
			merged[key] = value
		}
		for key, value := range override {
			merged[key] = value
		}
		env = merged
	}
	info := stage.Info{
		ID:          normalized.ID,
		Name:        normalized.DisplayName(),
		Description: normalized.Description,
		BestEffort:  normalized.BestEffort,
	}
	return stage.NewCommand(info, argv, env)
}
