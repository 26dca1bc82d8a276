package stage

import "fmt"

// Config keys shared by the builtin factories.
const (
	ConfigArgv     = "argv"
	ConfigEnv      = "env"
	ConfigCacheTag = "cache_tag"
	ConfigHelper   = "helper"
)

// Builtin stage identifiers. The exec family all share the command factory;
// the ids exist so run records and the TUI read naturally.
var execFamily = map[string]string{
	"exec":      "command",
	"install":   "dependency install",
	"lint":      "lint",
	"typecheck": "type check",
	"test":      "test suite",
}

// RegisterBuiltins installs every builtin stage factory. registryHost may be
// empty for the default registry.
func RegisterBuiltins(reg *Registry, registryHost string) error {
	for id, name := range execFamily {
		id, name := id, name
		if err := reg.Register(id, func(cfg Config) (Stage, error) {
			argv, env, err := commandConfig(id, cfg)
			if err != nil {
				return nil, err
			}
			return NewCommand(Info{ID: id, Name: name}, argv, env)
		}); err != nil {
			return err
		}
	}
	if err := reg.Register("drift-check", func(cfg Config) (Stage, error) {
		argv, _, err := commandConfig("drift-check", cfg)
		if err != nil {
			return nil, err
		}
		return NewDriftCheck(Info{ID: "drift-check", Name: "migration drift check"}, argv)
	}); err != nil {
		return err
	}
	if err := reg.Register("image-pull", func(cfg Config) (Stage, error) {
		cacheTag, err := cfg.String(ConfigCacheTag)
		if err != nil {
			return nil, err
		}
		return NewImagePull(Info{ID: "image-pull", Name: "image cache warm-up"}, cacheTag)
	}); err != nil {
		return err
	}
	if err := reg.Register("image-build", func(cfg Config) (Stage, error) {
		cacheTag, err := cfg.String(ConfigCacheTag)
		if err != nil {
			return nil, err
		}
		return NewImageBuild(Info{ID: "image-build", Name: "image build"}, cacheTag)
	}); err != nil {
		return err
	}
	if err := reg.Register("registry-login", func(cfg Config) (Stage, error) {
		return NewRegistryLogin(Info{ID: "registry-login", Name: "registry login"}, registryHost)
	}); err != nil {
		return err
	}
	if err := reg.Register("image-push", func(cfg Config) (Stage, error) {
		return NewImagePush(Info{ID: "image-push", Name: "image push"})
	}); err != nil {
		return err
	}
	if err := reg.Register("deploy", func(cfg Config) (Stage, error) {
		helper, err := cfg.StringSlice(ConfigHelper)
		if err != nil {
			return nil, err
		}
		return NewDeploy(Info{ID: "deploy", Name: "deploy"}, helper)
	}); err != nil {
		return err
	}
	return nil
}

func commandConfig(id string, cfg Config) ([]string, map[string]string, error) {
	argv, err := cfg.StringSlice(ConfigArgv)
	if err != nil {
		return nil, nil, err
	}
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("stage %s: %s config is required", id, ConfigArgv)
	}
	env, err := cfg.StringMap(ConfigEnv)
	if err != nil {
		return nil, nil, err
	}
	return argv, env, nil
}
