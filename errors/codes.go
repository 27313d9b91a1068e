package errors

// ErrorCode represents the error code value.
type ErrorCode uint16

const (
	// ErrNoError represents a successful result.
	ErrNoError = ErrorCode(0)

	/*
		Syntax errors.
	*/

	// ErrInvalidArgument is set in case of an invalid function input argument (e.g. nil pointer).
	ErrInvalidArgument = ErrorCode(0x100)
	// ErrInvalidFormat is set when a provided value is invalid (e.g. out of range).
	ErrInvalidFormat = ErrorCode(0x101)
	// ErrMalformedDER is set when a byte sequence cannot be parsed as the expected ASN.1 DER structure.
	ErrMalformedDER = ErrorCode(0x102)
	// ErrMalformedBase64 is set when a Base64 encoded payload body cannot be decoded.
	ErrMalformedBase64 = ErrorCode(0x103)
	// ErrMalformedResourceSet is set when a resource set attribute does not parse as a sorted,
	// comma-separated list of resources.
	ErrMalformedResourceSet = ErrorCode(0x104)
	// ErrInvalidStateError is set when the objects used are in an invalid state (e.g. missing mandatory value).
	ErrInvalidStateError = ErrorCode(0x105)
	// ErrUnknownPayloadType is set when a payload's "type" attribute is outside the closed enumeration.
	ErrUnknownPayloadType = ErrorCode(0x106)
	// ErrMissingRequiredAttribute is set when a required XML attribute or element is absent.
	ErrMissingRequiredAttribute = ErrorCode(0x107)
	// ErrSchemaValidation is set when a payload document fails the up-down message schema.
	ErrSchemaValidation = ErrorCode(0x108)

	/*
		System / crypto errors.
	*/

	// ErrIoError is set in case of an I/O error.
	ErrIoError = ErrorCode(0x200)
	// ErrCryptoFailure is set when a cryptographic operation could not be performed. Likely causes are
	// unsupported algorithms, invalid keys, or lack of resources.
	ErrCryptoFailure = ErrorCode(0x201)
	// ErrKeyAlgorithmMismatch is set when the EE key pair's algorithm does not match what the builder expects.
	ErrKeyAlgorithmMismatch = ErrorCode(0x202)
	// ErrSigningFailed is set when the builder could not produce a signature over the eContent.
	ErrSigningFailed = ErrorCode(0x203)
	// ErrMissingEeCert is set when the builder was not given an end-entity certificate to embed.
	ErrMissingEeCert = ErrorCode(0x204)
	// ErrExternalError is set in case an external error from a 3rd party API (e.g. the standard library) is
	// returned and wrapped automatically inside ProvisioningError.
	ErrExternalError = ErrorCode(0x205)

	/*
		Validation failure (accumulated, never thrown directly -- see the validation package).
	*/

	// ErrValidationFailure is the error code carried by cms.ParserError when the accumulated
	// ValidationResult contains one or more failures.
	ErrValidationFailure = ErrorCode(0x300)

	// ErrNotImplemented indicates an invalid API state.
	ErrNotImplemented = ErrorCode(0xffff)
)

var errStrings = map[ErrorCode]string{
	ErrNoError: "No Error",

	ErrInvalidArgument:          "Invalid Argument",
	ErrInvalidFormat:            "Invalid Format",
	ErrMalformedDER:             "Malformed DER",
	ErrMalformedBase64:          "Malformed Base64",
	ErrMalformedResourceSet:     "Malformed Resource Set",
	ErrInvalidStateError:        "Invalid State",
	ErrUnknownPayloadType:       "Unknown Payload Type",
	ErrMissingRequiredAttribute: "Missing Required Attribute",
	ErrSchemaValidation:         "Schema Validation Failed",

	ErrIoError:              "IO Error",
	ErrCryptoFailure:        "Cryptographic failure",
	ErrKeyAlgorithmMismatch: "Key Algorithm Mismatch",
	ErrSigningFailed:        "Signing Failed",
	ErrMissingEeCert:        "Missing EE Certificate",
	ErrExternalError:        "Common external error from 3rd party API",

	ErrValidationFailure: "Validation Failure",

	ErrNotImplemented: "Not Implemented",
}

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	return errStrings[c]
}
