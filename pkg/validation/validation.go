// Package validation checks configuration structs against their
// `validate` struct tags.
//
// Besides the built-in go-playground/validator tags, the "frequency" tag
// accepts any code understood by frequency.Parse.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/HatiCode/chronocast/pkg/frequency"
	"github.com/HatiCode/chronocast/pkg/schema"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
			_, err := frequency.Parse(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// FieldError describes one failed field constraint.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error aggregates every failed constraint of a struct. It matches
// schema.ErrInvalidConfiguration with errors.Is.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return fmt.Sprintf("%s: %s", schema.ErrInvalidConfiguration, strings.Join(msgs, "; "))
}

func (e *Error) Unwrap() error { return schema.ErrInvalidConfiguration }

// Struct validates s and returns *Error when any constraint fails.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", schema.ErrInvalidConfiguration, err)
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		}
	}
	return out
}

var messages = map[string]string{
	"required":  "%s is required",
	"frequency": "%s is not a valid frequency code",
}

var messagesWithParam = map[string]string{
	"oneof":   "%s must be one of: %s",
	"gt":      "%s must be greater than %s",
	"gte":     "%s must be greater than or equal to %s",
	"lte":     "%s must be less than or equal to %s",
	"nefield": "%s must differ from %s",
}

func message(fe validator.FieldError) string {
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
