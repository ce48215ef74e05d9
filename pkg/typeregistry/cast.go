// Package typeregistry implements C1: coercion of raw request/user
// parameter values into typed types.Value, driven by a registered
// key -> declared-type mapping (the KeyDataType table).
package typeregistry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/types"
)

// truthy mirrors spec.md §4.1's boolean truthy set.
var truthy = map[string]bool{"1": true, "true": true, "yes": true, "on": true}

// Cast coerces value to typeName per spec.md §4.1. Unknown type names
// fall back to "string".
func Cast(value interface{}, typeName string) (types.Value, error) {
	switch typeName {
	case "integer":
		return castInt(value)
	case "float":
		return castFloat(value)
	case "boolean":
		return castBool(value), nil
	case "datetime":
		return castDatetime(value)
	case "string":
		return types.String(toString(value)), nil
	default:
		return types.String(toString(value)), nil
	}
}

func castInt(value interface{}) (types.Value, error) {
	switch v := value.(type) {
	case int:
		return types.Int(int64(v)), nil
	case int64:
		return types.Int(v), nil
	case float64:
		if v != float64(int64(v)) {
			return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("cannot cast '%v' to integer", value))
		}
		return types.Int(int64(v)), nil
	case string:
		s := strings.TrimSpace(v)
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("cannot cast '%v' to integer", value))
		}
		return types.Int(n), nil
	case bool:
		if v {
			return types.Int(1), nil
		}
		return types.Int(0), nil
	default:
		return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("cannot cast '%v' to integer", value))
	}
}

func castFloat(value interface{}) (types.Value, error) {
	switch v := value.(type) {
	case int:
		return types.Float(float64(v)), nil
	case int64:
		return types.Float(float64(v)), nil
	case float64:
		return types.Float(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("cannot cast '%v' to float", value))
		}
		return types.Float(f), nil
	case bool:
		if v {
			return types.Float(1), nil
		}
		return types.Float(0), nil
	default:
		return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("cannot cast '%v' to float", value))
	}
}

func castBool(value interface{}) types.Value {
	switch v := value.(type) {
	case bool:
		return types.Bool(v)
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return types.Bool(truthy[s])
	case nil:
		return types.Bool(false)
	case int:
		return types.Bool(v != 0)
	case int64:
		return types.Bool(v != 0)
	case float64:
		return types.Bool(v != 0)
	default:
		return types.Bool(true)
	}
}

func castDatetime(value interface{}) (types.Value, error) {
	switch v := value.(type) {
	case time.Time:
		return types.Time(v), nil
	case string:
		s := v
		if strings.HasSuffix(s, "Z") {
			s = strings.TrimSuffix(s, "Z") + "+00:00"
		}
		t, err := parseISO8601(s)
		if err != nil {
			return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("invalid datetime format: %v", value))
		}
		return types.Time(t), nil
	default:
		return types.Value{}, errors.NewTypeCastError(fmt.Sprintf("invalid datetime format: %v", value))
	}
}

// parseISO8601 tries the layouts ISO-8601 strings commonly take once a
// trailing Z has been normalized to +00:00.
func parseISO8601(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999-07:00",
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
