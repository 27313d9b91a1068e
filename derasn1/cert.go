package derasn1

import (
	"crypto/sha1" //nolint:gosec // SKI is defined over SHA-1 by RFC 5280, not used as a security boundary.
	"crypto/x509"

	"github.com/ripe-ncc/rpki-provisioning/errors"
)

// Certificates decodes the [0] IMPLICIT certificate SET of a SignedData into parsed X.509 certificates.
// Each element is required to be the "certificate" CHOICE alternative (a plain X.509 Certificate); any
// other CHOICE alternative on the wire fails to parse as an x509.Certificate and is reported as malformed.
func (sd *SignedData) Certificates() ([]*x509.Certificate, error) {
	if sd == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	out := make([]*x509.Certificate, 0, len(sd.RawCertificates))
	for _, raw := range sd.RawCertificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
				AppendMessage("Failed to parse certificate in SignedData.certificates.")
		}
		out = append(out, cert)
	}
	return out, nil
}

// CRLs decodes the [1] IMPLICIT crls SET of a SignedData into parsed X.509 revocation lists. Each element
// is required to be the "crl" CHOICE alternative (a plain CertificateList).
func (sd *SignedData) CRLs() ([]*x509.RevocationList, error) {
	if sd == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	out := make([]*x509.RevocationList, 0, len(sd.RawCRLs))
	for _, raw := range sd.RawCRLs {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if err != nil {
			return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
				AppendMessage("Failed to parse CRL in SignedData.crls.")
		}
		out = append(out, crl)
	}
	return out, nil
}

// CertificateBasicConstraints reports the cA boolean of cert's Basic Constraints extension, mirroring
// the extension-level introspection `pdu.CertificateRecord.VerifySigType` performs directly against parsed
// ASN.1 rather than a policy engine: crypto/x509 already decodes Basic Constraints during
// x509.ParseCertificate, so no second hand-rolled ASN.1 pass is needed here.
func CertificateBasicConstraints(cert *x509.Certificate) (isCA bool, present bool) {
	if cert == nil {
		return false, false
	}
	return cert.IsCA, cert.BasicConstraintsValid
}

// CertificateSubjectKeyIdentifier returns the raw key identifier bytes of cert's Subject Key Identifier
// extension, or nil if the extension is absent.
func CertificateSubjectKeyIdentifier(cert *x509.Certificate) []byte {
	if cert == nil {
		return nil
	}
	return cert.SubjectKeyId
}

// SubjectKeyIdentifierFromPublicKey computes the canonical Subject Key Identifier of pub: the SHA-1 hash
// of its complete DER-encoded SubjectPublicKeyInfo.
func SubjectKeyIdentifierFromPublicKey(pub interface{}) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.New(errors.ErrCryptoFailure).SetExtError(err).
			AppendMessage("Failed to marshal public key to DER SubjectPublicKeyInfo.")
	}
	sum := sha1.Sum(der) //nolint:gosec // see doc comment above.
	return sum[:], nil
}
