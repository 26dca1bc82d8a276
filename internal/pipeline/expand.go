package pipeline

import (
	"strings"

	"github.com/legwork-ci/legwork/internal/trigger"
)

// ResolvedLeg is a fully expanded matrix row: defaults applied, environment
// merged, stage sequence resolved. Resolved legs share nothing with each
// other beyond the definition they came from.
type ResolvedLeg struct {
	Name        string
	Interpreter string
	OS          string
	Services    []Service
	Env         map[string]string
	Secrets     []string
	Stages      []StageRef
	When        trigger.Condition
}

// Expand materializes the build matrix into its legs in deterministic input
// order: interpreter axis first, then deploy targets, then explicit legs.
func Expand(def Definition) ([]ResolvedLeg, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	defaults := def.Defaults.normalized()
	var legs []ResolvedLeg
	for _, interp := range def.Matrix.Interpreters {
		interp = strings.TrimSpace(interp)
		legs = append(legs, ResolvedLeg{
			Name:        interpreterLegName(interp),
			Interpreter: interp,
			Env:         mergeEnv(def.Env, map[string]string{"INTERPRETER": interp}),
			Stages:      defaultSequence(defaults),
		})
	}
	for _, target := range def.Matrix.DeployTargets {
		legs = append(legs, deployLeg(def, target))
	}
	for _, leg := range def.Matrix.Legs {
		legs = append(legs, resolveLeg(def, defaults, leg))
	}
	return legs, nil
}

// Select returns the expanded legs whose condition matches the event.
func Select(legs []ResolvedLeg, evt trigger.Event) []ResolvedLeg {
	var selected []ResolvedLeg
	for _, leg := range legs {
		if leg.When.Matches(evt) {
			selected = append(selected, leg)
		}
	}
	return selected
}

func resolveLeg(def Definition, defaults Defaults, leg Leg) ResolvedLeg {
	resolved := ResolvedLeg{
		Name:        leg.legName(),
		Interpreter: strings.TrimSpace(leg.Interpreter),
		OS:          strings.TrimSpace(leg.OS),
		Services:    cloneServices(leg.Services),
		Env:         mergeEnv(def.Env, leg.Env),
		Secrets:     cloneStrings(leg.Secrets),
		When:        leg.When,
	}
	if resolved.Interpreter != "" {
		resolved.Env = mergeEnv(resolved.Env, map[string]string{"INTERPRETER": resolved.Interpreter})
	}
	switch {
	case leg.Stages == nil:
		resolved.Stages = defaultSequence(defaults)
	case len(*leg.Stages) == 0:
		// Explicit empty override: the leg suppresses the default sequence
		// and runs nothing of its own.
		resolved.Stages = nil
	default:
		resolved.Stages = cloneStageRefs(*leg.Stages)
	}
	return resolved
}

func defaultSequence(defaults Defaults) []StageRef {
	return []StageRef{
		{ID: StageInstall, Run: cloneStrings(defaults.Install)},
		{ID: StageLint, Run: cloneStrings(defaults.Lint)},
		{ID: StageTypecheck, Run: cloneStrings(defaults.Typecheck)},
		{ID: StageTest, Run: cloneStrings(defaults.Test)},
		{ID: StageDriftCheck, Run: cloneStrings(defaults.DriftCheck)},
	}
}

// deployLeg builds a container leg. The default install/script stages are
// replaced entirely: warm the layer cache from the previous image
// (best-effort), build, then authenticate/push/deploy gated on the target's
// trigger condition.
func deployLeg(def Definition, target DeployTarget) ResolvedLeg {
	cacheTag := strings.TrimSpace(target.CacheTag)
	if cacheTag == "" {
		cacheTag = DefaultCacheTag
	}
	stages := []StageRef{
		{ID: StageImagePull, BestEffort: true, Config: map[string]any{"cache_tag": cacheTag}},
		{ID: StageImageBuild, Config: map[string]any{"cache_tag": cacheTag}},
		{ID: StageRegistryAuth, When: target.When},
		{ID: StageImagePush, When: target.When},
	}
	if len(target.Helper) > 0 {
		stages = append(stages, StageRef{
			ID:     StageDeploy,
			When:   target.When,
			Config: map[string]any{"helper": cloneStrings(target.Helper)},
		})
	}
	return ResolvedLeg{
		Name:    deployLegName(target.Name),
		Env:     mergeEnv(def.Env, nil),
		Secrets: []string{"REGISTRY_USER", "REGISTRY_PASS"},
		Stages:  stages,
	}
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overlay {
		out[key] = value
	}
	return out
}

func cloneServices(services []Service) []Service {
	if len(services) == 0 {
		return nil
	}
	out := make([]Service, len(services))
	for i, svc := range services {
		out[i] = Service{
			Name:  svc.Name,
			Image: svc.Image,
			Env:   cloneStringMap(svc.Env),
			Probe: cloneStrings(svc.Probe),
		}
	}
	return out
}

func cloneStageRefs(refs []StageRef) []StageRef {
	out := make([]StageRef, len(refs))
	for i, ref := range refs {
		out[i] = StageRef{
			ID:         ref.ID,
			Name:       ref.Name,
			Run:        cloneStrings(ref.Run),
			Env:        cloneStringMap(ref.Env),
			BestEffort: ref.BestEffort,
			When:       ref.When,
			Config:     cloneConfig(ref.Config),
		}
	}
	return out
}

func cloneConfig(cfg map[string]any) map[string]any {
	if len(cfg) == 0 {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for key, value := range cfg {
		out[key] = value
	}
	return out
}
