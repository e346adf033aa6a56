package render

import (
	"path"
	"strings"

	"github.com/fleetcontrol/agent-control/internal/agenttype"
)

// Host turns a sub-agent's runtime-config template into a flat set of
// files and executables ready for internal/supervisor/host to write and
// run. Every file path is checked against dataDir escape before being
// returned, per spec.md §4.2's path-safety requirement.
func Host(eff agenttype.EffectiveAgent) (*HostRenderOutput, error) {
	if eff.Runtime.OnHost == nil {
		return nil, errInvalidPath("", "agent type has no on_host runtime")
	}

	out := &HostRenderOutput{Executables: append([]agenttype.ExecutableSpec(nil), eff.Runtime.OnHost.Executables...)}

	seen := make(map[string]bool)
	for _, f := range eff.Runtime.OnHost.Files {
		if f.TemplatedMap {
			for relName, contents := range f.ContentsMap {
				full := path.Join(f.Path, relName)
				if err := validateRelPath(full); err != nil {
					return nil, err
				}
				if seen[full] {
					return nil, errInvalidPath(full, "must be unique within the rendered file set")
				}
				seen[full] = true
				out.Files = append(out.Files, RenderedFile{RelPath: full, Data: []byte(contents)})
			}
			continue
		}
		if err := validateRelPath(f.Path); err != nil {
			return nil, err
		}
		if seen[f.Path] {
			return nil, errInvalidPath(f.Path, "must be unique within the rendered file set")
		}
		seen[f.Path] = true
		out.Files = append(out.Files, RenderedFile{RelPath: f.Path, Data: []byte(f.Contents)})
	}

	for _, ex := range eff.Runtime.OnHost.Executables {
		if ex.ID == "" {
			return nil, errInvalidPath("", "executable id must not be empty")
		}
	}

	return out, nil
}

// validateRelPath rejects absolute paths and any path that climbs out of
// the sub-agent's data directory via "..".
func validateRelPath(p string) error {
	if p == "" {
		return errInvalidPath(p, "path must not be empty")
	}
	if path.IsAbs(p) {
		return errInvalidPath(p, "must be relative to the sub-agent data directory")
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errInvalidPath(p, "must not escape the sub-agent data directory")
	}
	return nil
}
