// Package cms implements the CMS (RFC 5652) profile this library's provisioning protocol requires: a
// Parser that enforces the exact profile (signed attributes, single EE certificate, single CRL, SHA-256
// throughout, signature verification) and a Builder that constructs conforming messages.
package cms

import (
	"crypto/x509"

	"github.com/ripe-ncc/rpki-provisioning/payload"
)

// ProvisioningCmsObject is the validated result of a successful Parse. It is immutable after
// construction and owns copies of every byte slice and decoded value it exposes.
type ProvisioningCmsObject struct {
	encoded []byte
	eeCert  *x509.Certificate
	caCerts []*x509.Certificate
	crl     *x509.RevocationList
	decoded payload.Payload
}

// EncodedBytes returns the original DER bytes this object was parsed from, for re-transmission without
// re-signing.
func (o *ProvisioningCmsObject) EncodedBytes() []byte {
	if o == nil {
		return nil
	}
	out := make([]byte, len(o.encoded))
	copy(out, o.encoded)
	return out
}

// EECertificate returns the single end-entity certificate embedded in the message.
func (o *ProvisioningCmsObject) EECertificate() *x509.Certificate {
	if o == nil {
		return nil
	}
	return o.eeCert
}

// CACertificates returns any additional certificates embedded alongside the EE certificate. This is
// usually empty in valid up-down messages.
func (o *ProvisioningCmsObject) CACertificates() []*x509.Certificate {
	if o == nil {
		return nil
	}
	return o.caCerts
}

// CRL returns the single certificate revocation list embedded in the message.
func (o *ProvisioningCmsObject) CRL() *x509.RevocationList {
	if o == nil {
		return nil
	}
	return o.crl
}

// Payload returns the decoded up-down payload carried as the CMS eContent.
func (o *ProvisioningCmsObject) Payload() payload.Payload {
	if o == nil {
		return nil
	}
	return o.decoded
}
