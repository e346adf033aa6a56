package agenttype

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// resolveValues merges supplied values onto a definition's declared
// defaults and checks required/variant constraints, returning the fully
// resolved value set or an aggregate error naming every violation.
func resolveValues(def Definition, values Values) (Values, error) {
	resolved := make(Values, len(def.Variables))
	var errs *multierror.Error

	for name, v := range def.Variables {
		val, present := values[name]
		if !present {
			if v.Default != nil {
				resolved[name] = v.Default
				continue
			}
			if v.Required {
				errs = multierror.Append(errs, errMissingRequired(name))
				continue
			}
			// Unreachable once validateDefinition has run at registration
			// time, but handled defensively for definitions constructed
			// directly in tests.
			continue
		}

		if err := checkKind(v.Kind, val); err != nil {
			errs = multierror.Append(errs, errTypeMismatch(name, v.Kind, describeKind(val)))
			continue
		}

		if len(v.Variants) > 0 {
			if !isAllowedVariant(val, v.Variants) {
				errs = multierror.Append(errs, errInvalidVariant(name, val, v.Variants))
				continue
			}
		}

		resolved[name] = val
	}

	if errs.ErrorOrNil() != nil {
		return nil, errs.ErrorOrNil()
	}
	return resolved, nil
}

func checkKind(kind VariableKind, val any) error {
	switch kind {
	case KindString, KindFile, KindYAML:
		if _, ok := val.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case KindBool:
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("expected bool")
		}
	case KindNumber:
		switch val.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected number")
		}
	case KindMap:
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("expected map")
		}
	}
	return nil
}

func describeKind(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, float64:
		return "number"
	case map[string]any:
		return "map"
	default:
		return fmt.Sprintf("%T", val)
	}
}

func isAllowedVariant(val any, variants []string) bool {
	s, ok := val.(string)
	if !ok {
		return false
	}
	for _, v := range variants {
		if v == s {
			return true
		}
	}
	return false
}
