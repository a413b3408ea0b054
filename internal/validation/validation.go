package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var accountNumberPattern = regexp.MustCompile(`^[0-9]{10}$`)

// New returns a validator that reports fields by their json names and knows
// the account_number tag.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("account_number", func(fl validator.FieldLevel) bool {
		return accountNumberPattern.MatchString(fl.Field().String())
	})
	return v
}

// Message flattens validation errors into "field: rule" pairs.
func Message(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+": "+rule)
	}
	return strings.Join(parts, "; ")
}
