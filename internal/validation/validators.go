// Package validation validates inbound HTTP payloads before they reach
// the dispatcher, using the same struct-tag validator the teacher
// carries as a dependency.
package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Get returns the process-wide validator instance, registering custom
// rules for the executor-balancer payload shapes on first use.
func Get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		_ = instance.RegisterValidation("operator", validateOperator)
	})
	return instance
}

var allowedOperators = map[string]bool{
	"EQ": true, "NE": true, "GT": true, "GTE": true,
	"LT": true, "LTE": true, "ICONTAINS": true,
}

func validateOperator(fl validator.FieldLevel) bool {
	return allowedOperators[strings.ToUpper(fl.Field().String())]
}

// CreateRequestPayload is the body of POST /requests.
type CreateRequestPayload struct {
	ID       string                 `json:"id" validate:"required"`
	ParentID *string                `json:"parent_id" validate:"omitempty"`
	UserID   *string                `json:"user_id" validate:"omitempty"`
	Params   map[string]ConditionIn `json:"params" validate:"required,dive"`
}

// ConditionIn is one entry of CreateRequestPayload.Params before type
// casting against the registry snapshot (spec.md §4.1).
type ConditionIn struct {
	Value    interface{} `json:"value" validate:"required"`
	Operator string      `json:"operator" validate:"required,operator"`
	Height   *float64    `json:"height" validate:"omitempty,gte=0"`
}

// DispatchPayload is the body of POST /dispatch.
type DispatchPayload struct {
	RequestID string `json:"request_id" validate:"required"`
}

// Validate runs the struct-tag validator over payload and wraps any
// failure as an AppError of type Validation, formatted field-by-field
// so callers get an actionable 400 response.
func Validate(payload interface{}) error {
	if err := Get().Struct(payload); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return apperrors.NewValidationError("invalid request payload").WithDetails(err.Error())
		}

		details := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fmt.Sprintf("%s: failed on %q", fe.Namespace(), fe.Tag()))
		}
		return apperrors.NewValidationError("invalid request payload").
			WithDetails(strings.Join(details, "; "))
	}
	return nil
}
