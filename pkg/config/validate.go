package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/provisio/provisio/pkg/engine"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator. Field names in errors use
// the json tag so they match what users write in manifests.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				name, _, _ = strings.Cut(field.Tag.Get("mapstructure"), ",")
			}
			return name
		})
	})
	return validate
}

// Validate checks a manifest and aggregates every violation into one
// validation error. Callers should validate the result of WithDefaults.
func Validate(m Manifest) error {
	return validateStruct(m, "invalid manifest")
}

func validateStruct(v any, message string) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return engine.NewValidationError(message, err)
	}

	var result *multierror.Error
	for _, fe := range fieldErrs {
		result = multierror.Append(result, fieldError(fe))
	}
	result.ErrorFormat = formatErrors
	return engine.NewValidationError(message, result)
}

// fieldError renders a validator failure without the top-level struct name.
func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required option is missing", path)
	case "oneof":
		return fmt.Errorf("%s: %v is not one of [%s]", path, fe.Value(), fe.Param())
	case "ip":
		return fmt.Errorf("%s: %q is not an IP address", path, fe.Value())
	case "excludesall":
		return fmt.Errorf("%s: must not contain any of %s", path, fe.Param())
	case "unique":
		return fmt.Errorf("%s: contains duplicates", path)
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s: failed %s=%s", path, fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%s: failed %s", path, fe.Tag())
	}
}

func formatErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
