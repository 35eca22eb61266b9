package core

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"dripline/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// the service's validation error taxonomy.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct tag validation enabled.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct checks the struct's `validate` tags and returns an AppError
// describing the first failing field. required failures map to
// validation_missing_required_field, email failures to
// validation_invalid_email, everything else to validation_invalid_field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fe := verrs[0]
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			fmt.Sprintf("missing required field %q", field), err,
			map[string]any{"field": field})
	case "email":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEmail,
			fmt.Sprintf("field %q must be a valid email address", field), err,
			map[string]any{"field": field})
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("field %q failed validation rule %q", field, fe.Tag()), err,
			map[string]any{"field": field, "rule": fe.Tag()})
	}
}
