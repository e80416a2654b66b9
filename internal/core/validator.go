package core

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"presto/internal/types"
)

// Validator wraps go-playground/validator for request structs. Field names
// in error details follow the json tag, not the Go field name.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with json-tag field naming.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// ValidateStruct checks the struct's validate tags and returns a
// validation AppError with per-field details, or nil.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"request validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		"request validation failed", nil, details)
}
