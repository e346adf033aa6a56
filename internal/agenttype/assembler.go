package agenttype

import "fmt"

// EffectiveAgent is the fully resolved, rendering-ready output of
// Assemble: a specific sub-agent instance, its resolved values, and a
// runtime-config template with every placeholder substituted except
// nr-env ones, which remain for ResolveEnv to re-evaluate on each start.
type EffectiveAgent struct {
	AgentID AgentID
	TypeID  AgentTypeID
	Values  Values
	Runtime RuntimeConfigTemplate
}

// Assemble resolves agentID's agent-type definition and values into an
// EffectiveAgent. acContext supplies the nr-ac namespace (agent_id,
// instance_id, fleet_id, ...); subRefs supplies nr-sub.
func Assemble(reg *Registry, agentID AgentID, typeID AgentTypeID, values Values, acContext, subRefs map[string]string) (EffectiveAgent, error) {
	if err := agentID.Validate(); err != nil {
		return EffectiveAgent{}, err
	}

	def, err := reg.Get(typeID)
	if err != nil {
		return EffectiveAgent{}, errUnknownType(typeID)
	}

	resolved, err := resolveValues(def, values)
	if err != nil {
		return EffectiveAgent{}, err
	}

	ctx := TemplateContext{Var: resolved, Sub: subRefs, AC: acContext, DeferEnv: true}

	runtime, err := renderRuntimeTemplate(def.Runtime, ctx)
	if err != nil {
		return EffectiveAgent{}, fmt.Errorf("agent %s (%s): %w", agentID, typeID, err)
	}

	return EffectiveAgent{
		AgentID: agentID,
		TypeID:  typeID,
		Values:  resolved,
		Runtime: runtime,
	}, nil
}

func renderRuntimeTemplate(tmpl RuntimeConfigTemplate, ctx TemplateContext) (RuntimeConfigTemplate, error) {
	out := tmpl

	if tmpl.OnHost != nil {
		rendered, err := renderOnHost(*tmpl.OnHost, ctx)
		if err != nil {
			return RuntimeConfigTemplate{}, err
		}
		out.OnHost = &rendered
	}
	if tmpl.K8s != nil {
		rendered, err := renderK8s(*tmpl.K8s, ctx)
		if err != nil {
			return RuntimeConfigTemplate{}, err
		}
		out.K8s = &rendered
	}
	if tmpl.HealthCheck != nil {
		rendered, err := renderHealthCheck(*tmpl.HealthCheck, ctx)
		if err != nil {
			return RuntimeConfigTemplate{}, err
		}
		out.HealthCheck = &rendered
	}
	if tmpl.VersionCheck != nil {
		target, err := Render(tmpl.VersionCheck.Target, ctx)
		if err != nil {
			return RuntimeConfigTemplate{}, err
		}
		out.VersionCheck = &VersionCheckSpec{Type: tmpl.VersionCheck.Type, Target: target}
	}
	return out, nil
}

func renderOnHost(r OnHostRuntime, ctx TemplateContext) (OnHostRuntime, error) {
	out := OnHostRuntime{
		Executables: make([]ExecutableSpec, len(r.Executables)),
		Files:       make([]FileSpec, len(r.Files)),
	}

	for i, ex := range r.Executables {
		rendered := ex
		rendered.Args = make([]string, len(ex.Args))
		for j, a := range ex.Args {
			v, err := Render(a, ctx)
			if err != nil {
				return OnHostRuntime{}, fmt.Errorf("executable %s arg %d: %w", ex.ID, j, err)
			}
			rendered.Args[j] = v
		}
		if ex.Env != nil {
			rendered.Env = make(map[string]string, len(ex.Env))
			for k, v := range ex.Env {
				rv, err := Render(v, ctx)
				if err != nil {
					return OnHostRuntime{}, fmt.Errorf("executable %s env %s: %w", ex.ID, k, err)
				}
				rendered.Env[k] = rv
			}
		}
		path, err := Render(ex.Path, ctx)
		if err != nil {
			return OnHostRuntime{}, fmt.Errorf("executable %s path: %w", ex.ID, err)
		}
		rendered.Path = path
		out.Executables[i] = rendered
	}

	for i, f := range r.Files {
		path, err := Render(f.Path, ctx)
		if err != nil {
			return OnHostRuntime{}, fmt.Errorf("file %s path: %w", f.Path, err)
		}

		if f.TemplatedMap {
			m, err := resolveTemplatedMap(f.Contents, ctx)
			if err != nil {
				return OnHostRuntime{}, fmt.Errorf("file %s contents: %w", f.Path, err)
			}
			out.Files[i] = FileSpec{Path: path, TemplatedMap: true, ContentsMap: m}
			continue
		}

		contents, err := Render(f.Contents, ctx)
		if err != nil {
			return OnHostRuntime{}, fmt.Errorf("file %s contents: %w", f.Path, err)
		}
		out.Files[i] = FileSpec{Path: path, Contents: contents}
	}

	return out, nil
}

func renderK8s(r K8sRuntime, ctx TemplateContext) (K8sRuntime, error) {
	out := K8sRuntime{Objects: make([]ObjectSpec, len(r.Objects))}
	for i, obj := range r.Objects {
		rendered := obj
		name, err := Render(obj.Name, ctx)
		if err != nil {
			return K8sRuntime{}, fmt.Errorf("object %s/%s name: %w", obj.Kind, obj.Name, err)
		}
		rendered.Name = name
		spec, err := renderMap(obj.Spec, ctx)
		if err != nil {
			return K8sRuntime{}, fmt.Errorf("object %s/%s spec: %w", obj.Kind, obj.Name, err)
		}
		rendered.Spec = spec
		out.Objects[i] = rendered
	}
	return out, nil
}

func renderMap(m map[string]any, ctx TemplateContext) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		rv, err := renderValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func renderValue(v any, ctx TemplateContext) (any, error) {
	switch t := v.(type) {
	case string:
		return Render(t, ctx)
	case map[string]any:
		return renderMap(t, ctx)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			rv, err := renderValue(e, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderHealthCheck(h HealthCheckSpec, ctx TemplateContext) (HealthCheckSpec, error) {
	target, err := Render(h.Target, ctx)
	if err != nil {
		return HealthCheckSpec{}, err
	}
	h.Target = target
	return h, nil
}
