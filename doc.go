/*

Package rpkiprovisioning implements the RPKI up-down provisioning protocol: the CMS-signed XML exchange
a certification authority and its child use to list, request, and revoke resource certificates.

The package is organized around three layers, each importable on its own:

	payload    the seven-message XML codec (encoding/xml, canonical output)
	cms        the CMS SignedData parser and builder wrapping a payload (github.com/fullsailor/pkcs7)
	derasn1    typed ASN.1 accessors over CMS/X.509 structures the cms package needs encoding/asn1 does
	           not expose directly

A caller that already has a well-formed CMS-signed message only needs the cms package:

	parser := cms.NewParser()
	if err := parser.Parse(validation.Location(peerURI), der); err != nil {
		return err
	}
	if parser.Result().HasFailures() {
		// Every defect the message carries is in parser.Result(), not just the first one found.
		return fmt.Errorf("rejected %s:\n%s", peerURI, parser.Result())
	}
	obj, err := parser.GetProvisioningCmsObject()

obj.Payload() returns the decoded payload.Payload, a closed sum type over the protocol's seven message
kinds (List, ListResponse, Issue, IssueResponse, Revoke, ErrorResponse).


Building a signed message

cms.Builder is the inverse of cms.Parser: given a payload.Payload and the signer's end-entity certificate
and private key, it produces a DER-encoded CMS SignedData message that the Parser above accepts.

	b, err := cms.NewBuilder(p, eeCert, eeKey, cms.WithCRL(crl))
	if err != nil {
		return err
	}
	der, err := b.Build()

The certificate and CRL are never generated by this package -- constructing and signing X.509 material is
left to the caller's own PKI tooling, exactly as the protocol leaves certificate issuance to the resource
certificate engine rather than the provisioning transport.


Logging

The subpackage log defines the logging interface type log.Logger and a basic logger implementation for
writing lines to a file.

By default logging is disabled. To enable logging of the API internals, register an implementation with the
log package, e.g. the default logger:

	logger, err := log.New(log.INFO, nil)
	if err != nil {
		return err
	}
	log.SetLogger(logger)

To disable logging again, call log.SetLogger(nil).


Errors

Methods that can fail for a reason other than an accumulated validation failure return an
*errors.ProvisioningError. For troubleshooting, it carries:

	error code     - for error classification and recovery logic;
	error message  - a stack of human-readable descriptive messages;
	stack trace    - the stack trace of the error's construction;
	extended error - a wrapped error code, or an error from e.g. the standard library.

Example usage:

	func decode(der []byte) (*payload.List, error) {
		return nil, errors.New(errors.ErrNotImplemented).AppendMessage("Missing implementation.")
	}

	func handle() error {
		if _, err := decode(der); err != nil {
			return err
		}
		return nil
	}

Validation defects -- a malformed CMS structure, a message that fails one of the up-down protocol's
required checks -- are never returned as plain errors. They accumulate in a *validation.Result instead, so
a single Parse call surfaces every way a peer's message is broken, not just the first one the walk hit.


Acknowledgments

This product includes package github.com/fullsailor/pkcs7.

*/
package rpkiprovisioning
