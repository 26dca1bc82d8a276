package plugins

import (
	"fmt"
	"strings"
)

// StageDefinition describes a custom stage loaded from .legwork/stages.
//
// The struct mirrors the on-disk schema and is intentionally narrow so the
// runtime can validate plugin metadata before wiring it into a leg.
type StageDefinition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Command     []string          `json:"command" yaml:"command"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	BestEffort  bool              `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
}

// Normalized returns a trimmed copy of the definition.
func (def StageDefinition) Normalized() StageDefinition {
	clone := StageDefinition{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		BestEffort:  def.BestEffort,
	}
	if len(def.Command) > 0 {
		clone.Command = make([]string, len(def.Command))
		copy(clone.Command, def.Command)
	}
	if len(def.Env) > 0 {
		clone.Env = make(map[string]string, len(def.Env))
		for key, value := range def.Env {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Env[trimmed] = value
		}
	}
	return clone
}

// Validate ensures the plugin definition is well-formed.
func (def StageDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if len(normalized.Command) == 0 {
		return fmt.Errorf("plugin %s: a command is required", normalized.ID)
	}
	for idx, word := range normalized.Command {
		if strings.TrimSpace(word) == "" {
			return fmt.Errorf("plugin %s: command[%d] is empty", normalized.ID, idx)
		}
	}
	return nil
}

// DisplayName is the label used in run records.
func (def StageDefinition) DisplayName() string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}
