package config

import "fmt"

// ValidationError reports a profile document field that cannot be used.
type ValidationError struct {
	Parameter string
	Value     interface{}
	Message   string
}

func NewValidationError(parameter string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Value:     value,
		Message:   message,
	}
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for parameter '%s' with value '%v': %s",
		ve.Parameter, ve.Value, ve.Message)
}
