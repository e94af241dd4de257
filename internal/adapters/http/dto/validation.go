package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrBinding indicates query or path binding failed.
var ErrBinding = errors.New("binding failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the singleton validator instance. Field names in errors
// are taken from the uri, form or json tag, in that order.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(fieldName)
	})

	return validate
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"uri", "form", "json"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}

		if name != "" {
			return name
		}
	}

	return fld.Name
}

// Validate validates a struct using the validator instance.
func Validate(v any) error {
	return Validator().Struct(v)
}

// BindQueryAndValidate binds query parameters and validates.
func BindQueryAndValidate(c *gin.Context, v any) error {
	if err := c.ShouldBindQuery(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBinding, err)
	}

	return Validate(v)
}

// BindURIAndValidate binds path parameters and validates.
func BindURIAndValidate(c *gin.Context, v any) error {
	if err := c.ShouldBindUri(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBinding, err)
	}

	return Validate(v)
}

// ValidationErrors extracts field-level error messages from a validator error.
func ValidationErrors(err error) map[string]string {
	fieldErrors := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, fieldErr := range validationErrs {
			fieldErrors[fieldErr.Field()] = validationMessage(fieldErr)
		}
	}

	return fieldErrors
}

// IsValidationError checks if the error is a validation error.
func IsValidationError(err error) bool {
	var validationErrs validator.ValidationErrors
	return errors.As(err, &validationErrs)
}

var validationMessages = map[string]string{
	"required": "this field is required",
	"uuid":     "must be a valid UUID",
	"min":      "must be at least {param}",
	"max":      "must be at most {param}",
	"oneof":    "must be one of: {param}",
}

func validationMessage(fe validator.FieldError) string {
	if msg, ok := validationMessages[fe.Tag()]; ok {
		return strings.ReplaceAll(msg, "{param}", fe.Param())
	}

	return "failed validation: " + fe.Tag()
}
