package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Module   string `json:"module" validate:"required,slug"`
	Password string `json:"password" validate:"min=8"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Email:    "alice@example.com",
		Module:   "case_control",
		Password: "correct-horse",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(testPayload{Email: "invalid", Module: "Cases!", Password: "short"})
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.ElementsMatch(t, []string{"email", "module", "password"}, vErrs.Fields())
}

func TestValidateVar(t *testing.T) {
	require.NoError(t, ValidateVar("dashboard", "required,slug"))
	require.Error(t, ValidateVar("", "required,slug"))
	require.Error(t, ValidateVar("9lives", "slug"))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("casedesk", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "casedesk"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"casedesk"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "casedesk"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))
}
