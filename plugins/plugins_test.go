package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/legwork-ci/legwork/internal/stage"
)

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(`
id: coverage
name: coverage report
command: ["coverage", "report", "--fail-under=90"]
env:
  COVERAGE_FILE: .coverage
`))
	if err != nil {
		t.Fatalf("ParseDefinitionYAML returned error: %v", err)
	}
	if def.ID != "coverage" || len(def.Command) != 3 {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestParseDefinitionYAMLRejectsMissingCommand(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("id: broken\n")); err == nil {
		t.Fatal("expected error for missing command")
	}
	if _, err := ParseDefinitionYAML([]byte("  \n")); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestLoadDefinitionDirMissingIsNotAnError(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing dir must not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected no definitions, got %+v", defs)
	}
}

func TestRegisterStagePluginsFromYAML(t *testing.T) {
	dir := t.TempDir()
	payload := `
id: coverage
command: ["coverage", "report"]
`
	if err := os.WriteFile(filepath.Join(dir, "coverage.yaml"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := stage.NewRegistry()
	if err := RegisterStagePlugins(reg, dir); err != nil {
		t.Fatalf("RegisterStagePlugins returned error: %v", err)
	}
	s, err := reg.Resolve("coverage", nil)
	if err != nil {
		t.Fatalf("resolve coverage: %v", err)
	}
	if s.Info().ID != "coverage" {
		t.Fatalf("unexpected stage %+v", s.Info())
	}
}

func TestRegisterStagePluginsRejectsDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	payload := "id: coverage\ncommand: [\"coverage\"]\n"
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(payload), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := stage.NewRegistry()
	if err := RegisterStagePlugins(reg, dir); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestLoadGoDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	source := `package stages

func StageDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":      "smoke",
			"command": []any{"curl", "--fail", "http://localhost:8000/health"},
		},
	}, nil
}
`
	if err := os.WriteFile(filepath.Join(dir, "smoke.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("LoadGoDefinitionDir returned error: %v", err)
	}
	if len(defs) != 1 || defs[0].Definition.ID != "smoke" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	if len(defs[0].Definition.Command) != 3 {
		t.Fatalf("command not parsed: %+v", defs[0].Definition)
	}
}

func TestLoadGoDefinitionDirRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	source := `package stages

func StageDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":      "smoke",
			"command": []any{"true"},
			"comand":  []any{"oops"},
		},
	}, nil
}
`
	if err := os.WriteFile(filepath.Join(dir, "typo.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadGoDefinitionDir(dir)
	if err == nil {
		t.Fatal("expected an error for an unknown definition field")
	}
	if !strings.Contains(err.Error(), "comand") {
		t.Fatalf("error does not name the offending field: %v", err)
	}
}

func TestLoadGoDefinitionDirDecodesEnvAndBestEffort(t *testing.T) {
	dir := t.TempDir()
	source := `package stages

func StageDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":          "warmup",
			"command":     []any{"make", "warm-cache"},
			"env":         map[string]any{"CACHE_DIR": "/tmp/cache"},
			"best_effort": true,
		},
	}, nil
}
`
	if err := os.WriteFile(filepath.Join(dir, "warmup.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("LoadGoDefinitionDir returned error: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	def := defs[0].Definition
	if !def.BestEffort || def.Env["CACHE_DIR"] != "/tmp/cache" {
		t.Fatalf("fields not decoded: %+v", def)
	}
}

func TestLoadGoDefinitionDirRejectsNonErrorSecondReturn(t *testing.T) {
	dir := t.TempDir()
	source := `package stages

func StageDefinitions() ([]map[string]any, int) {
	return nil, 7
}
`
	if err := os.WriteFile(filepath.Join(dir, "badsig.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadGoDefinitionDir(dir)
	if err == nil {
		t.Fatal("expected an error for a non-error second return value")
	}
	if !strings.Contains(err.Error(), "second return value") {
		t.Fatalf("error does not explain the signature problem: %v", err)
	}
}

func TestLoadGoDefinitionDirPropagatesPluginError(t *testing.T) {
	dir := t.TempDir()
	source := `package stages

import "errors"

func StageDefinitions() ([]map[string]any, error) {
	return nil, errors.New("plugin refused to load")
}
`
	if err := os.WriteFile(filepath.Join(dir, "refuse.go"), []byte(source), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadGoDefinitionDir(dir)
	if err == nil || !strings.Contains(err.Error(), "plugin refused to load") {
		t.Fatalf("plugin error not propagated: %v", err)
	}
}

func TestPluginStageOverridesFromConfig(t *testing.T) {
	def := StageDefinition{ID: "coverage", Command: []string{"coverage", "report"}}
	s, err := newPluginStage(def, stage.Config{stage.ConfigArgv: []any{"coverage", "html"}})
	if err != nil {
		t.Fatal(err)
	}
	if s.Info().ID != "coverage" {
		t.Fatalf("unexpected info %+v", s.Info())
	}
}
