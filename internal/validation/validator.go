// Shiftbeacon - Workforce Shift Tracking and Location Telemetry
// Copyright 2026 Crewmint Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/crewmint/shiftbeacon

// Package validation wraps go-playground/validator v10 behind one shared
// instance. Sharing matters because the validator caches struct metadata:
// every fix pushed through the intake endpoint is checked against cached
// rules instead of freshly reflected ones.
//
//	var fix models.RawFix
//	if verr := validation.ValidateStruct(&fix); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    // apiErr.Code, apiErr.Message, apiErr.Details
//	}
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// GetValidator returns the shared validator.
func GetValidator() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
	})
	return instance
}

// FieldError describes one failed constraint on one struct field.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Value   interface{}
	Message string
}

// RequestValidationError carries every field failure from a single
// validation pass. It satisfies error so intake paths can hand it up the
// stack and let the HTTP layer unwrap it with errors.As.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(ve.errors))
	for i, fe := range ve.errors {
		parts[i] = fe.Message
	}
	return strings.Join(parts, "; ")
}

// APIError is the wire shape of a validation failure. It mirrors the API
// error envelope without importing the api package.
type APIError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// ToAPIError renders the failures for the control API. One failing field
// is reported inline; several are listed under a "fields" detail.
func (ve *RequestValidationError) ToAPIError() *APIError {
	out := &APIError{Code: "VALIDATION_ERROR", Message: "Validation failed"}

	switch len(ve.errors) {
	case 0:
		return out
	case 1:
		fe := ve.errors[0]
		out.Message = fe.Message
		out.Details = map[string]interface{}{
			"field": fe.Field,
			"tag":   fe.Tag,
			"value": fe.Value,
		}
		return out
	}

	fields := make([]map[string]interface{}, len(ve.errors))
	parts := make([]string, len(ve.errors))
	for i, fe := range ve.errors {
		fields[i] = map[string]interface{}{
			"field":   fe.Field,
			"tag":     fe.Tag,
			"message": fe.Message,
		}
		parts[i] = fe.Field + ": " + fe.Message
	}
	out.Message = strings.Join(parts, "; ")
	out.Details = map[string]interface{}{"fields": fields}
	return out
}

// ValidateStruct checks s against its validate tags. It returns nil when
// everything passes.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var ferrs validator.ValidationErrors
	if !errors.As(err, &ferrs) {
		// InvalidValidationError, e.g. a non-struct argument.
		return &RequestValidationError{errors: []FieldError{{
			Field:   "unknown",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	out := make([]FieldError, len(ferrs))
	for i, fe := range ferrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: message(fe),
		}
	}
	return &RequestValidationError{errors: out}
}

// message renders a field error the way the control API reports it.
func message(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "datetime":
		return field + " must be a valid date/time in RFC3339 format"
	case "latitude":
		return field + " must be a valid latitude (-90 to 90)"
	case "longitude":
		return field + " must be a valid longitude (-180 to 180)"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed validation on %s", field, fe.Tag())
}
