package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const goDefinitionFuncName = "StageDefinitions"

var errType = reflect.TypeOf((*error)(nil)).Elem()

// LoadGoDefinitionDir interprets every .go file in dir and collects the
// stage definitions its StageDefinitions() function returns. Interpreted
// code sees the standard library only; definitions come back as plain maps
// and are decoded field by field, so a typo in a key fails the load instead
// of silently dropping the field.
func LoadGoDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var files []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		path := filepath.Join(trimmed, entry.Name())
		defs, err := evalStageFile(path)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s: %w", path, err)
		}
		for idx, def := range defs {
			files = append(files, DefinitionFile{
				Definition: def,
				Path:       fmt.Sprintf("%s#%d", path, idx+1),
			})
		}
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// evalStageFile runs one plugin source through the interpreter and decodes
// every definition it declares.
func evalStageFile(path string) ([]StageDefinition, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(code)) == "" {
		return nil, fmt.Errorf("file is empty")
	}
	interpreter := interp.New(interp.Options{})
	if err := interpreter.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("prepare interpreter: %w", err)
	}
	if _, err := interpreter.EvalPath(path); err != nil {
		return nil, fmt.Errorf("interpret: %w", err)
	}
	fn, err := interpreter.Eval(goDefinitionFuncName)
	if err != nil {
		return nil, fmt.Errorf("%s() ([]map[string]any, error) must be defined: %w", goDefinitionFuncName, err)
	}
	entries, err := callStageFunc(fn)
	if err != nil {
		return nil, err
	}
	defs := make([]StageDefinition, 0, len(entries))
	for idx, entry := range entries {
		def, err := decodeStageFields(entry)
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", idx+1, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("definition %d: %w", idx+1, err)
		}
		defs = append(defs, def.Normalized())
	}
	return defs, nil
}

// callStageFunc checks the declared function shape before calling it. The
// shape check happens on the type, not the returned values, so a plugin
// returning something odd gets an error rather than a reflect panic.
func callStageFunc(fn reflect.Value) ([]any, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goDefinitionFuncName)
	}
	signature := fn.Type()
	if signature.NumIn() != 0 || signature.NumOut() < 1 || signature.NumOut() > 2 {
		return nil, fmt.Errorf("%s must be func() ([]map[string]any, error)", goDefinitionFuncName)
	}
	if signature.NumOut() == 2 && !signature.Out(1).Implements(errType) {
		return nil, fmt.Errorf("%s second return value must be an error, not %s", goDefinitionFuncName, signature.Out(1))
	}
	results := fn.Call(nil)
	if len(results) == 2 {
		if err, _ := results[1].Interface().(error); err != nil {
			return nil, err
		}
	}
	list := results[0]
	if list.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return a slice of definitions, not %s", goDefinitionFuncName, list.Type())
	}
	entries := make([]any, list.Len())
	for i := range entries {
		entries[i] = list.Index(i).Interface()
	}
	return entries, nil
}

// decodeStageFields maps one returned definition onto StageDefinition.
// Unknown keys are rejected, matching the strict YAML side.
func decodeStageFields(entry any) (StageDefinition, error) {
	fields, ok := entry.(map[string]any)
	if !ok {
		return StageDefinition{}, fmt.Errorf("definition must be a map[string]any, got %T", entry)
	}
	var def StageDefinition
	for key, value := range fields {
		var err error
		switch key {
		case "id":
			def.ID, err = stringValue(key, value)
		case "name":
			def.Name, err = stringValue(key, value)
		case "description":
			def.Description, err = stringValue(key, value)
		case "command":
			def.Command, err = stringListValue(key, value)
		case "env":
			def.Env, err = stringMapValue(key, value)
		case "best_effort":
			boolVal, ok := value.(bool)
			if !ok {
				err = fmt.Errorf("field %s must be a bool, got %T", key, value)
			}
			def.BestEffort = boolVal
		default:
			err = fmt.Errorf("unknown field %q", key)
		}
		if err != nil {
			return StageDefinition{}, err
		}
	}
	return def, nil
}

func stringValue(key string, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s must be a string, got %T", key, value)
	}
	return s, nil
}

func stringListValue(key string, value any) ([]string, error) {
	switch list := value.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []any:
		out := make([]string, 0, len(list))
		for idx, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %s[%d] must be a string, got %T", key, idx, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %s must be a list of strings, got %T", key, value)
	}
}

func stringMapValue(key string, value any) (map[string]string, error) {
	switch m := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("field %s[%s] must be a string, got %T", key, k, v)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %s must map strings to strings, got %T", key, value)
	}
}
