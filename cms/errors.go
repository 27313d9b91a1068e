package cms

import (
	"fmt"

	"github.com/ripe-ncc/rpki-provisioning/errors"
	"github.com/ripe-ncc/rpki-provisioning/validation"
)

// ParserError is returned by Parser.GetProvisioningCmsObject when the accumulated ValidationResult
// carries one or more failures for the parsed location, or when an internal error prevented the parse
// from completing at all. It always carries the full ValidationResult, so an operator can see every
// defect a bad message carries, not just the one that happened to surface first.
type ParserError struct {
	*errors.ProvisioningError
	Result   *validation.Result
	Location validation.Location
}

func newParserError(result *validation.Result, loc validation.Location, rootCause *errors.ProvisioningError) *ParserError {
	var pe *errors.ProvisioningError
	if rootCause != nil {
		pe = errors.New(rootCause.Code()).SetExtError(rootCause)
	} else {
		pe = errors.FromValidation(result, loc)
	}
	return &ParserError{ProvisioningError: pe, Result: result, Location: loc}
}

// Error implements the error interface, including the full per-location check trace.
func (e *ParserError) Error() string {
	if e == nil {
		return ""
	}
	base := e.ProvisioningError.Error()
	if e.Result == nil {
		return base
	}
	return fmt.Sprintf("%sValidation trace for %q:\n%s", base, e.Location, e.Result.String())
}

// Failures returns the Fail checks recorded at this error's location, in insertion order.
func (e *ParserError) Failures() []validation.Check {
	if e == nil || e.Result == nil {
		return nil
	}
	return e.Result.FailuresForLocation(e.Location)
}
