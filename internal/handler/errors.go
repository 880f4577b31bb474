package handler

import "fmt"

// ValidationError answers a well-formed frame with a negative response
// code. The connection stays open.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error %s: %s", e.Code, e.Message)
}

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ConfigurationError is a startup-time mistake in the handler table.
type ConfigurationError struct {
	MTI    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("handler configuration [%s]: %s", e.MTI, e.Reason)
}
