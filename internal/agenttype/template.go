package agenttype

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// placeholder grammar, per spec.md §4.2:
//
//	${<namespace>:<name>[|<fn> <arg>...]*}
//
// namespaces:
//
//	nr-var  resolved agent-type variable values
//	nr-sub  values published by another sub-agent (cross-agent reference)
//	nr-ac   agent-control-supplied context (agent_id, instance_id, fleet_id, ...)
//	nr-env  process environment variables, re-evaluated per §9 Open Question 2
//
// pipeline functions, applied left to right after namespace resolution:
//
//	indent N     prefix every line but the first with N spaces
//	to_upper     uppercase the resolved string
//	base64       base64-std-encode the resolved string
//	yaml_quote   wrap the resolved string in a YAML double-quoted scalar
type TemplateContext struct {
	// Var backs the nr-var namespace: resolved agent-type variable values.
	Var Values
	// Sub backs the nr-sub namespace: values published by other sub-agents.
	Sub map[string]string
	// AC backs the nr-ac namespace: agent-control-supplied context.
	AC map[string]string
	// Env backs the nr-env namespace; nil defaults to os.LookupEnv.
	Env func(string) (string, bool)
	// DeferEnv, when true, leaves nr-env placeholders unresolved in the
	// output instead of looking them up, so a later ResolveEnv pass can
	// re-evaluate them immediately before each process start per §9 Open
	// Question 2.
	DeferEnv bool
}

// resolveTemplatedMap resolves a bare "${nr-var:name}" reference to a
// map-kind variable and stringifies its entries, for FileSpec.TemplatedMap.
func resolveTemplatedMap(placeholder string, ctx TemplateContext) (map[string]string, error) {
	s := strings.TrimSpace(placeholder)
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return nil, errTemplate(fmt.Sprintf("templated_map contents %q must be a single placeholder", placeholder))
	}
	body := s[2 : len(s)-1]
	ref, _, _ := strings.Cut(body, "|")
	namespace, name, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || namespace != nsVar {
		return nil, errTemplate(fmt.Sprintf("templated_map contents %q must reference a single nr-var placeholder", placeholder))
	}

	val, ok := ctx.Var[name]
	if !ok {
		return nil, errTemplate(fmt.Sprintf("nr-var:%s is not set", name))
	}
	raw, ok := val.(map[string]any)
	if !ok {
		return nil, errTemplate(fmt.Sprintf("nr-var:%s: templated_map requires a map-kind variable", name))
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = stringifyValue(v)
	}
	return out, nil
}

// ResolveEnv re-renders a string that was previously rendered with
// DeferEnv=true, resolving only the nr-env placeholders left behind.
func ResolveEnv(s string, lookup func(string) (string, bool)) (string, error) {
	return Render(s, TemplateContext{Env: lookup})
}

const (
	nsVar = "nr-var"
	nsSub = "nr-sub"
	nsAC  = "nr-ac"
	nsEnv = "nr-env"
)

// Render substitutes every ${...} placeholder in s, returning a
// TemplateError-kind error naming the first failing placeholder.
func Render(s string, ctx TemplateContext) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			out.WriteString(s[i:])
			break
		}
		start += i
		out.WriteString(s[i:start])

		end := matchingBrace(s, start+2)
		if end < 0 {
			return "", errTemplate(fmt.Sprintf("unterminated placeholder starting at byte %d", start))
		}

		resolved, err := resolvePlaceholder(s[start+2:end], ctx)
		if err != nil {
			return "", err
		}
		out.WriteString(resolved)
		i = end + 1
	}
	return out.String(), nil
}

// matchingBrace finds the index of the '}' that closes the placeholder
// opened at from (the position right after "${"). Placeholders do not
// nest, so the first '}' terminates it.
func matchingBrace(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == '}' {
			return i
		}
	}
	return -1
}

func resolvePlaceholder(body string, ctx TemplateContext) (string, error) {
	segments := strings.Split(body, "|")
	ref := strings.TrimSpace(segments[0])

	colon := strings.IndexByte(ref, ':')
	if colon < 0 {
		return "", errTemplate(fmt.Sprintf("placeholder %q: missing namespace separator ':'", ref))
	}
	namespace := ref[:colon]
	name := ref[colon+1:]
	if name == "" {
		return "", errTemplate(fmt.Sprintf("placeholder %q: empty name", ref))
	}

	if namespace == nsEnv && ctx.DeferEnv {
		// Leave the whole placeholder, pipeline included, for ResolveEnv.
		return "${" + body + "}", nil
	}

	value, err := resolveNamespace(namespace, name, ctx)
	if err != nil {
		return "", err
	}

	for _, fn := range segments[1:] {
		value, err = applyPipelineFunc(strings.TrimSpace(fn), value)
		if err != nil {
			return "", err
		}
	}
	return value, nil
}

func resolveNamespace(namespace, name string, ctx TemplateContext) (string, error) {
	switch namespace {
	case nsVar:
		val, ok := ctx.Var[name]
		if !ok {
			return "", errTemplate(fmt.Sprintf("nr-var:%s is not set", name))
		}
		return stringifyValue(val), nil
	case nsSub:
		val, ok := ctx.Sub[name]
		if !ok {
			return "", errTemplate(fmt.Sprintf("nr-sub:%s has not been published by any sub-agent", name))
		}
		return val, nil
	case nsAC:
		val, ok := ctx.AC[name]
		if !ok {
			return "", errTemplate(fmt.Sprintf("nr-ac:%s is not a known agent-control context field", name))
		}
		return val, nil
	case nsEnv:
		if ctx.DeferEnv {
			return fmt.Sprintf("${nr-env:%s}", name), nil
		}
		lookup := ctx.Env
		if lookup == nil {
			lookup = osLookupEnv
		}
		val, ok := lookup(name)
		if !ok {
			return "", errTemplate(fmt.Sprintf("nr-env:%s is not set in the process environment", name))
		}
		return val, nil
	default:
		return "", errTemplate(fmt.Sprintf("unknown placeholder namespace %q", namespace))
	}
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func applyPipelineFunc(expr string, value string) (string, error) {
	name, arg, _ := strings.Cut(expr, " ")
	switch name {
	case "indent":
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return "", errTemplate(fmt.Sprintf("indent: invalid width %q", arg))
		}
		return indentLines(value, n), nil
	case "to_upper":
		return strings.ToUpper(value), nil
	case "base64":
		return base64.StdEncoding.EncodeToString([]byte(value)), nil
	case "yaml_quote":
		return yamlQuote(value), nil
	default:
		return "", errTemplate(fmt.Sprintf("unknown pipeline function %q", name))
	}
}

func indentLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func yamlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
