// Package validate scrubs and validates payload structs before any
// transaction starts: defaults are applied, mold modifiers clean the
// fields, and validator runs the declared rules.
package validate

import (
	"context"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

type Validator struct {
	conform  *mold.Transformer
	validate *validator.Validate
}

// New initializes a new Validator instance with the appropriate validation
// functions registered.
func New() *Validator {
	conform := modifiers.New()
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{conform, validate}
}

// Check applies defaults, modifies, and validates the given payload
// struct. It returns an errcodes validation error describing the first
// failing field.
func (v *Validator) Check(ctx context.Context, i interface{}) error {
	if err := defaults.Set(i); err != nil {
		return errors.WithStack(err)
	}
	if err := v.conform.Struct(ctx, i); err != nil {
		return errors.WithStack(err)
	}
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		return formatValidationErrors(fieldErrors)
	}
	return errors.WithStack(err)
}

var defaultValidator = New()

// Check runs the default validator.
func Check(ctx context.Context, i interface{}) error {
	return defaultValidator.Check(ctx, i)
}
