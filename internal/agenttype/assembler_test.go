package agenttype

import (
	"errors"
	"testing"
)

func sampleDefinition() Definition {
	return Definition{
		Metadata: Metadata{Namespace: "newrelic", Name: "otel-collector", Version: "0.1.0"},
		Variables: map[string]VariableDef{
			"log.level": {Kind: KindString, Required: false, Default: "info", Variants: []string{"debug", "info", "warn", "error"}},
			"endpoint":  {Kind: KindString, Required: true},
		},
		Runtime: RuntimeConfigTemplate{
			OnHost: &OnHostRuntime{
				Executables: []ExecutableSpec{{
					ID:   "collector",
					Path: "/usr/bin/otelcol",
					Args: []string{"--endpoint=${nr-var:endpoint}", "--log-level=${nr-var:log.level}"},
					Env:  map[string]string{"API_KEY": "${nr-env:OTEL_API_KEY}"},
					Restart: RestartPolicy{
						Strategy:        BackoffExponential,
						BackoffDelaySec: 1,
						MaxRetries:      5,
					},
				}},
			},
		},
	}
}

func TestRegistryRegisterRejectsBadDefault(t *testing.T) {
	reg := NewRegistry()
	bad := sampleDefinition()
	bad.Variables["extra"] = VariableDef{Kind: KindString, Required: false}
	if err := reg.Register(bad); err == nil {
		t.Fatalf("expected Register to reject a required=false variable with no default")
	}
}

func TestAssembleMissingRequired(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(sampleDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := Assemble(reg, AgentID("otel-1"), AgentTypeID{Namespace: "newrelic", Name: "otel-collector", Version: "0.1.0"}, Values{}, nil, nil)
	if err == nil {
		t.Fatalf("expected MissingRequired error for unset endpoint")
	}
	var terr *Error
	if !asError(err, &terr) || terr.Kind != "MissingRequired" {
		t.Fatalf("got %v, want MissingRequired", err)
	}
}

func TestAssembleRendersAndDefersEnv(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(sampleDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	eff, err := Assemble(reg, AgentID("otel-1"), AgentTypeID{Namespace: "newrelic", Name: "otel-collector", Version: "0.1.0"},
		Values{"endpoint": "https://otlp.example.com"}, nil, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	ex := eff.Runtime.OnHost.Executables[0]
	if ex.Args[0] != "--endpoint=https://otlp.example.com" {
		t.Fatalf("arg0 = %q", ex.Args[0])
	}
	if ex.Args[1] != "--log-level=info" {
		t.Fatalf("arg1 = %q, want default info", ex.Args[1])
	}
	if ex.Env["API_KEY"] != "${nr-env:OTEL_API_KEY}" {
		t.Fatalf("env API_KEY = %q, want deferred placeholder", ex.Env["API_KEY"])
	}
}

func TestAssembleUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := Assemble(reg, AgentID("x"), AgentTypeID{Namespace: "a", Name: "b", Version: "1"}, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected UnknownType error")
	}
}

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}
