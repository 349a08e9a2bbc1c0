package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable is unset.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates a value is present but invalid.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a value or file could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrInvalidWindow indicates the retention window bounds are missing,
	// unparsable or reversed.
	ErrInvalidWindow ConfigErrorType = "INVALID_WINDOW"
	// ErrFileNotFound indicates the yaml config file could not be read.
	ErrFileNotFound ConfigErrorType = "FILE_NOT_FOUND"
)

// ConfigError is returned by Load for every configuration problem. The process
// must not start collecting when it sees one.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// newValidator reports fields by their envconfig or yaml name so messages
// point at what the operator actually sets.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"envconfig", "yaml"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// validationError converts validator output into a ConfigError. Missing
// required values are reported as ErrMissingEnv when they come from the
// environment.
func validationError(source string, err error) *ConfigError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ConfigError{Type: ErrValidation, Message: source + " validation failed", Err: err}
	}
	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	if source == "environment" && len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "required environment variables not set: " + strings.Join(missing, ", "),
			Err:     err,
		}
	}
	msg := source + " validation failed"
	if len(missing) > 0 {
		msg += "; missing: " + strings.Join(missing, ", ")
	}
	if len(invalid) > 0 {
		msg += "; invalid: " + strings.Join(invalid, ", ")
	}
	return &ConfigError{Type: ErrValidation, Message: msg, Err: err}
}
