package typeregistry

import (
	"strings"

	"github.com/Artem468/executor-balancer/internal/errors"
	"github.com/Artem468/executor-balancer/pkg/types"
)

// CastRequestParams casts a raw `{key -> {value, operator, height}}`
// payload into typed conditions, using snapshot (a key -> type_name
// mapping, typically a Snapshot() of the KeyDataType table) to decide
// each value's target type. Unknown keys default to "string"
// (spec.md §4.1). Missing structure or an unsupported operator is a
// ValidationError.
func CastRequestParams(raw map[string]interface{}, snapshot map[string]string) (map[string]types.Condition, error) {
	out := make(map[string]types.Condition, len(raw))

	for key, rawCondition := range raw {
		obj, ok := rawCondition.(map[string]interface{})
		if !ok {
			return nil, errors.NewValidationError("parameter '" + key + "' must be an object with 'value', 'operator', 'height'")
		}

		typeName, known := snapshot[key]
		if !known {
			typeName = "string"
		}

		value, err := Cast(obj["value"], typeName)
		if err != nil {
			return nil, err
		}

		operator := types.Operator(strings.ToUpper(toOperatorString(obj["operator"])))
		if operator == "" {
			operator = types.OpEQ
		}
		if !types.ValidOperators[operator] {
			return nil, errors.NewValidationError("unsupported operator '" + string(operator) + "' for parameter '" + key + "'")
		}

		height := 1.0
		if h, present := obj["height"]; present && h != nil {
			hv, err := castFloat(h)
			if err != nil {
				return nil, errors.NewValidationError("height for parameter '" + key + "' must be numeric")
			}
			height = hv.Float64()
		}

		out[key] = types.Condition{Value: value, Operator: operator, Height: height}
	}

	return out, nil
}

func toOperatorString(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return string(types.OpEQ)
	}
	return s
}

// Snapshot is a read-only view of the KeyDataType registry: key name
// -> declared type_of. It is the structure CastRequestParams consumes;
// see pkg/typeregistry/cache.go for how it is produced and refreshed.
type Snapshot map[string]string
