package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/bosley/recordnote/scribe"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator. Field names in its errors are the
// TOML or JSON keys, and the model_size rule accepts the scribe model sizes.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"toml", "json"} {
				name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
		_ = validate.RegisterValidation("model_size", func(fl validator.FieldLevel) bool {
			_, err := scribe.ParseModelSize(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks every field rule and returns one error naming each
// failure.
func (c *Config) Validate() error {
	err := Validator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(FormatValidationErrors(verrs), "; "))
}

// FormatValidationErrors renders each failure as a readable line keyed by
// its dotted TOML path.
func FormatValidationErrors(errs validator.ValidationErrors) []string {
	out := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		line := fmt.Sprintf("field '%s' failed on the '%s' rule", field, fe.Tag())
		if fe.Param() != "" {
			line = fmt.Sprintf("%s (%s)", line, fe.Param())
		}
		out = append(out, line)
	}
	return out
}
