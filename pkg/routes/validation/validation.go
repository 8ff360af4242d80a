// Package validation binds and validates request bodies for the REST handlers
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/thistle/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BindRequest decodes the body into T and validates it. Failures are ValidationErrors
// naming the offending field.
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, errors.NewValidationError("body", "invalid request body")
	}

	if err := Validate(v); err != nil {
		return v, err
	}

	return v, nil
}

// Validate checks value's validate tags
func Validate[T any](value T) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.NewValidationError("body", err.Error())
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return errors.NewValidationErrorf(fe.Field(), "%s is required", fe.Field())
	case "gte", "min":
		return errors.NewValidationErrorf(fe.Field(), "%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return errors.NewValidationErrorf(fe.Field(), "%s must be at most %s", fe.Field(), fe.Param())
	default:
		return errors.NewValidationError(fe.Field(), fmt.Sprintf("%s failed rule '%s'", fe.Field(), fe.Tag()))
	}
}
