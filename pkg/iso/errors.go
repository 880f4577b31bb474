package iso

import "fmt"

// ProtocolError means the byte stream or frame cannot be trusted: truncated
// data, a bad field conversion, an unknown field or a missing required field.
type ProtocolError struct {
	MTI    string
	Field  int // 0 when not tied to one field
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.MTI != "" {
		msg += " [" + e.MTI + "]"
	}
	if e.Field > 0 {
		msg += fmt.Sprintf(" field %d", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protoErr(mti string, field int, reason string, err error) *ProtocolError {
	return &ProtocolError{MTI: mti, Field: field, Reason: reason, Err: err}
}
