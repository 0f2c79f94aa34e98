package inventory

import (
	"fmt"
	"strconv"
	"strings"
)

// applyChecks enforces a section's per-field checks in place (spec
// §4.E "Per-section checks constrain values"): required fields,
// typed coercion, regex pattern drop, case normalization. It returns
// an error when a required field is missing, matching §4.E "entries
// missing any required field are dropped with a debug message" (the
// caller is responsible for the drop; applyChecks only detects it).
func applyChecks(section string, rec Record) error {
	spec, ok := schema[section]
	if !ok {
		return nil
	}

	for name, fs := range spec.Fields {
		v, present := rec[name]
		if !present {
			if fs.Required {
				return fmt.Errorf("missing required field %s", name)
			}
			continue
		}

		var coerced any
		var ok bool
		if section == "BIOS" && name == "BDATE" {
			coerced, ok = coerceBiosDate(v)
		} else {
			coerced, ok = coerce(fs, v)
		}
		if !ok {
			delete(rec, name)
			continue
		}
		rec[name] = coerced

		if s, isStr := coerced.(string); isStr {
			if fs.Pattern != nil && !fs.Pattern.MatchString(s) {
				delete(rec, name)
				continue
			}
			if fs.Lowercase {
				rec[name] = strings.ToLower(s)
			} else if fs.Uppercase {
				rec[name] = strings.ToUpper(s)
			}
		}
	}

	return nil
}

// coerce converts v to fs.Type, returning ok=false when the value
// cannot be parsed (spec §4.E "reject malformed integers/booleans").
func coerce(fs FieldSpec, v any) (any, bool) {
	switch fs.Type {
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeInteger:
		return coerceInt(v)
	case TypeBoolean:
		return coerceBool(v)
	case TypeDate:
		return coerceDate(v)
	case TypeDateTime:
		return coerceDateTime(v)
	case TypeDateOrDateTime:
		if s, ok := coerceDateTime(v); ok {
			return s, true
		}
		return coerceDate(v)
	default:
		return v, true
	}
}

func coerceInt(v any) (any, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, false
		}
		return n, true
	default:
		return nil, false
	}
}

func coerceBool(v any) (any, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no":
			return false, true
		default:
			return nil, false
		}
	case int:
		return t != 0, true
	default:
		return nil, false
	}
}
