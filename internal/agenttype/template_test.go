package agenttype

import "testing"

func TestRender(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		ctx     TemplateContext
		want    string
		wantErr bool
	}{
		{
			name: "nr-var plain",
			in:   "level: ${nr-var:log.level}",
			ctx:  TemplateContext{Var: Values{"log.level": "debug"}},
			want: "level: debug",
		},
		{
			name: "to_upper pipeline",
			in:   "${nr-var:name|to_upper}",
			ctx:  TemplateContext{Var: Values{"name": "otel"}},
			want: "OTEL",
		},
		{
			name: "indent pipeline",
			in:   "a: ${nr-var:block|indent 2}",
			ctx:  Values{"block": "x\ny"}.toCtx(),
			want: "a: x\n  y",
		},
		{
			name: "base64 pipeline",
			in:   "${nr-var:tok|base64}",
			ctx:  TemplateContext{Var: Values{"tok": "hi"}},
			want: "aGk=",
		},
		{
			name: "yaml_quote pipeline",
			in:   "${nr-var:s|yaml_quote}",
			ctx:  TemplateContext{Var: Values{"s": `say "hi"`}},
			want: `"say \"hi\""`,
		},
		{
			name:    "missing var",
			in:      "${nr-var:missing}",
			ctx:     TemplateContext{Var: Values{}},
			wantErr: true,
		},
		{
			name:    "unknown namespace",
			in:      "${nr-bogus:x}",
			ctx:     TemplateContext{},
			wantErr: true,
		},
		{
			name: "nr-env deferred",
			in:   "${nr-env:HOME}",
			ctx:  TemplateContext{DeferEnv: true},
			want: "${nr-env:HOME}",
		},
		{
			name: "nr-env resolved",
			in:   "${nr-env:FOO}",
			ctx:  TemplateContext{Env: func(n string) (string, bool) { return "bar", n == "FOO" }},
			want: "bar",
		},
		{
			name: "nr-ac context",
			in:   "id=${nr-ac:agent_id}",
			ctx:  TemplateContext{AC: map[string]string{"agent_id": "otel-collector"}},
			want: "id=otel-collector",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Render(tc.in, tc.ctx)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Render(%q) = %q, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render(%q) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("Render(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func (v Values) toCtx() TemplateContext {
	return TemplateContext{Var: v}
}

func TestResolveEnv(t *testing.T) {
	rendered, err := Render("${nr-env:PORT}", TemplateContext{DeferEnv: true})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered != "${nr-env:PORT}" {
		t.Fatalf("deferred render = %q", rendered)
	}

	resolved, err := ResolveEnv(rendered, func(n string) (string, bool) {
		if n == "PORT" {
			return "8080", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("ResolveEnv: %v", err)
	}
	if resolved != "8080" {
		t.Fatalf("ResolveEnv = %q, want 8080", resolved)
	}
}
