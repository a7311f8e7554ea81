package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	// severity accepts the four detection levels, upper case only.
	_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "CRITICAL", "HIGH", "MEDIUM", "LOW":
			return true
		}
		return false
	})
}

// Struct validates data against its `validate` tags.
func Struct(data interface{}) error {
	return validate.Struct(data)
}

// Var validates a single value against tag.
func Var(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

// Describe flattens validation failures into "field: rule" pairs. Other
// errors are returned as is.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}
