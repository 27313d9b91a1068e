// Package errors implements the structured error type used throughout the provisioning library.
package errors

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ripe-ncc/rpki-provisioning/validation"
)

// ProvisioningError is the structured error type returned by every fallible function in this module.
type ProvisioningError struct {
	errorCode    ErrorCode
	message      []string
	extError     error
	extErrorCode int
	errorStack   string
	failures     []validation.Check
	location     validation.Location
}

// New constructs a new ProvisioningError.
func New(code ErrorCode) *ProvisioningError {
	return &ProvisioningError{
		errorCode:  code,
		errorStack: stack(),
	}
}

// Wrap wraps the provided error into ProvisioningError, if the input is not already a ProvisioningError.
// By default the error code is set to ErrExternalError. In case 'err' is already a ProvisioningError, the
// original error is returned without any modification.
//
// Optionally an error code can be provided, which will be applied in case of an external error. Despite the
// fact that 'code' is a variadic value, only the first supplied code is used.
func Wrap(err error, code ...ErrorCode) *ProvisioningError {
	if err == nil {
		return nil
	}

	errCode := ErrExternalError
	if len(code) != 0 {
		errCode = code[0]
	}

	provErr, ok := err.(*ProvisioningError)
	if !ok {
		provErr = New(errCode).SetExtError(err)
	}
	return provErr
}

// FromValidation constructs an ErrValidationFailure ProvisioningError carrying the Fail checks result
// accumulated at loc. Use this instead of a bare New(ErrValidationFailure) whenever a failure originates
// from a validation.Result walk, so the checks that actually failed travel with the error instead of
// being left behind in a Result the caller has to separately thread through.
func FromValidation(result *validation.Result, loc validation.Location) *ProvisioningError {
	e := New(ErrValidationFailure)
	e.location = loc
	if result != nil {
		e.failures = result.FailuresForLocation(loc)
	}
	e.AppendMessage(fmt.Sprintf("%d check(s) failed for %q.", len(e.failures), loc))
	return e
}

func stack() string {
	buf := make([]byte, 1024)
	n := 0
	for {
		n = runtime.Stack(buf, false)
		if n < len(buf) {
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	return string(buf[:n])
}

// Error implements the error interface.
func (e *ProvisioningError) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%04x/%d] %s.\n", uint16(e.errorCode), e.extErrorCode, e.errorCode.String()))

	if len(e.message) > 0 {
		b.WriteString("Error message:")
		for i := len(e.message); i > 0; i-- {
			b.WriteString(fmt.Sprintf("\n  %d: %s", i, e.message[i-1]))
		}
		b.WriteString("\n")
	}

	if e.extError != nil {
		b.WriteString(fmt.Sprintf("Extended error: %s\n", e.extError))
	}

	if len(e.failures) > 0 {
		b.WriteString(fmt.Sprintf("Failed checks for %q:\n", e.location))
		for _, c := range e.failures {
			b.WriteString(fmt.Sprintf("  %s\n", c))
		}
	}

	return b.String()
}

// AppendMessage adds an additional descriptive message to the error.
// Returns the receiver to allow chaining.
func (e *ProvisioningError) AppendMessage(msg string) *ProvisioningError {
	if e == nil {
		return nil
	}
	e.message = append(e.message, msg)
	return e
}

// SetExtError sets an additional low-level error, e.g. one returned by encoding/asn1 or crypto/x509.
// Returns the receiver to allow chaining.
func (e *ProvisioningError) SetExtError(err error) *ProvisioningError {
	if e == nil {
		return nil
	}
	e.extError = err
	return e
}

// SetExtErrorCode sets an additional low-level error code.
// Returns the receiver to allow chaining.
func (e *ProvisioningError) SetExtErrorCode(c int) *ProvisioningError {
	if e == nil {
		return nil
	}
	e.extErrorCode = c
	return e
}

// Code returns the error code.
func (e *ProvisioningError) Code() ErrorCode {
	if e == nil {
		return ErrNoError
	}
	return e.errorCode
}

// Stack returns the stack trace captured when the error was constructed.
func (e *ProvisioningError) Stack() string {
	if e == nil {
		return ""
	}
	return e.errorStack
}

// ExtCode returns the extended error code.
func (e *ProvisioningError) ExtCode() int {
	if e == nil {
		return 0
	}
	return e.extErrorCode
}

// ExtError returns the wrapped low-level error, or nil.
func (e *ProvisioningError) ExtError() error {
	if e == nil {
		return nil
	}
	return e.extError
}

// Unwrap allows errors.Is / errors.As from the standard library to reach the wrapped error.
func (e *ProvisioningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.extError
}

// Message returns the appended human-readable messages, oldest first.
func (e *ProvisioningError) Message() []string {
	if e == nil {
		return nil
	}
	return e.message
}

// Failures returns the validation.Check entries this error was constructed from via FromValidation, or
// nil if it was not.
func (e *ProvisioningError) Failures() []validation.Check {
	if e == nil {
		return nil
	}
	return e.failures
}

// Location returns the validation.Location this error's failures (if any) were recorded against.
func (e *ProvisioningError) Location() validation.Location {
	if e == nil {
		return ""
	}
	return e.location
}
