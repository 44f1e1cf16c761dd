package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error codes shared by every boneybank component. Transports map them onto
// their own status codes, so any change here must be mirrored in the http
// package status table.
const (
	EInternal    = "internal error"
	ENotFound    = "not found"
	EConflict    = "conflict" // stale ballot or superseded primary
	EInvalid     = "invalid"  // validation failed
	EUnavailable = "unavailable"
	EGap         = "sequence gap"
)

// Error is the error struct of boneybank.
//
// The Code targets automated handlers so that retries and recovery can occur:
// an EUnavailable error is retried by the transport, an EGap error starts a
// recovery. Msg is for operators. Op and Err chain errors together in a
// logical stack trace.
//
// To create a simple error,
//
//	&Error{
//	    Code: EUnavailable,
//	    Op:   "replication.Tentative",
//	}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing out the recursive messages.
func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: <%s>", e.Op, e.Code)
	}
	return fmt.Sprintf("<%s>", e.Code)
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Unavailable returns the error reported by a node that is frozen for the
// current slot.
func Unavailable(op string) *Error {
	return &Error{Code: EUnavailable, Op: op, Msg: "node is frozen for the current slot"}
}

// Invalid returns an EInvalid error with a formatted message.
func Invalid(op, format string, args ...interface{}) *Error {
	return &Error{Code: EInvalid, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the code of the root error, if available; otherwise returns EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return EInternal
	}

	if e == nil {
		return ""
	}

	if e.Code != "" {
		return e.Code
	}

	if e.Err != nil {
		return ErrorCode(e.Err)
	}

	return EInternal
}

// IsUnavailable reports whether err was raised by a frozen node.
func IsUnavailable(err error) bool {
	return err != nil && ErrorCode(err) == EUnavailable
}

// ErrorOp returns the op of the error, if available; otherwise return empty string.
func ErrorOp(err error) string {
	var e *Error
	if err == nil || !errors.As(err, &e) || e == nil {
		return ""
	}

	if e.Op != "" {
		return e.Op
	}

	if e.Err != nil {
		return ErrorOp(e.Err)
	}

	return ""
}

// ErrorMessage returns the human-readable message of the error, if available.
// Otherwise returns a generic error message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		return "An internal error has occurred."
	}

	if e == nil {
		return ""
	}

	if e.Msg != "" {
		return e.Msg
	}

	if e.Err != nil {
		return ErrorMessage(e.Err)
	}

	return "An internal error has occurred."
}

// errEncode an JSON encoding helper that is needed to handle the recursive stack of errors.
type errEncode struct {
	Code string      `json:"code"`
	Msg  string      `json:"message,omitempty"`
	Op   string      `json:"op,omitempty"`
	Err  interface{} `json:"error,omitempty"`
}

// MarshalJSON recursively marshals the stack of Err.
func (e *Error) MarshalJSON() ([]byte, error) {
	ee := errEncode{
		Code: e.Code,
		Msg:  e.Msg,
		Op:   e.Op,
	}
	if e.Err != nil {
		var inner *Error
		if errors.As(e.Err, &inner) {
			ee.Err = inner
		} else {
			ee.Err = e.Err.Error()
		}
	}
	return json.Marshal(ee)
}

// UnmarshalJSON recursively unmarshals the error stack.
func (e *Error) UnmarshalJSON(b []byte) error {
	ee := new(errEncode)
	err := json.Unmarshal(b, ee)
	e.Code = ee.Code
	e.Msg = ee.Msg
	e.Op = ee.Op
	e.Err = decodeInternalError(ee.Err)
	return err
}

func decodeInternalError(target interface{}) error {
	if errStr, ok := target.(string); ok {
		return errors.New(errStr)
	}
	if m, ok := target.(map[string]interface{}); ok {
		internalErr := new(Error)
		if code, ok := m["code"].(string); ok {
			internalErr.Code = code
		}
		if msg, ok := m["message"].(string); ok {
			internalErr.Msg = msg
		}
		if op, ok := m["op"].(string); ok {
			internalErr.Op = op
		}
		internalErr.Err = decodeInternalError(m["error"])
		return internalErr
	}
	return nil
}
