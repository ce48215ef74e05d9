package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Artem468/executor-balancer/internal/errors"
)

func height(f float64) *float64 { return &f }

func TestValidate_CreateRequestPayload_Valid(t *testing.T) {
	payload := CreateRequestPayload{
		ID: "req-1",
		Params: map[string]ConditionIn{
			"region": {Value: "eu-west", Operator: "EQ", Height: height(2)},
		},
	}

	assert.NoError(t, Validate(payload))
}

func TestValidate_CreateRequestPayload_MissingID(t *testing.T) {
	payload := CreateRequestPayload{
		Params: map[string]ConditionIn{
			"region": {Value: "eu-west", Operator: "EQ"},
		},
	}

	err := Validate(payload)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestValidate_CreateRequestPayload_UnsupportedOperator(t *testing.T) {
	payload := CreateRequestPayload{
		ID: "req-1",
		Params: map[string]ConditionIn{
			"region": {Value: "eu-west", Operator: "MATCHES"},
		},
	}

	err := Validate(payload)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestValidate_CreateRequestPayload_NegativeHeight(t *testing.T) {
	payload := CreateRequestPayload{
		ID: "req-1",
		Params: map[string]ConditionIn{
			"region": {Value: "eu-west", Operator: "EQ", Height: height(-1)},
		},
	}

	err := Validate(payload)
	require.Error(t, err)
}

func TestValidate_DispatchPayload(t *testing.T) {
	assert.NoError(t, Validate(DispatchPayload{RequestID: "req-1"}))
	assert.Error(t, Validate(DispatchPayload{}))
}

func TestGet_ReturnsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}
