package cms

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/fullsailor/pkcs7"

	"github.com/ripe-ncc/rpki-provisioning/derasn1"
	"github.com/ripe-ncc/rpki-provisioning/errors"
	"github.com/ripe-ncc/rpki-provisioning/log"
	"github.com/ripe-ncc/rpki-provisioning/payload"
	"github.com/ripe-ncc/rpki-provisioning/validation"
)

// OIDProvisioning is the eContentType/signed ContentType attribute value every up-down CMS message
// carries.
var OIDProvisioning = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 28}

var (
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
)

// Parser enforces the CMS profile this provisioning protocol requires and, on success, yields a
// ProvisioningCmsObject. Every defect found is recorded against the Result rather than aborting the walk,
// so a single Parse call surfaces every way a message is broken.
type Parser struct {
	result *validation.Result
	loc    validation.Location
	obj    *ProvisioningCmsObject
}

// NewParser constructs a Parser with a fresh Result.
func NewParser() *Parser {
	return &Parser{result: validation.NewResult()}
}

// Result returns the accumulated validation Result. Valid immediately after Parse returns, whether or not
// the parse succeeded.
func (p *Parser) Result() *validation.Result {
	if p == nil {
		return nil
	}
	return p.result
}

// Parse runs every profile check against der, recording results at loc. It returns a non-nil error only
// for inputs too malformed to attempt any check at all (e.g. a nil buffer); RFC-conformance defects are
// recorded in the Result, not returned here.
func (p *Parser) Parse(loc validation.Location, der []byte) error {
	if p == nil {
		return errors.New(errors.ErrInvalidArgument)
	}
	if len(der) == 0 {
		return errors.New(errors.ErrInvalidArgument).AppendMessage("Input DER buffer is empty.")
	}
	p.loc = loc
	p.result.SetLocation(loc)
	log.Debug("cms: parsing provisioning CMS object.")

	// Step 1: cms.data.parsing -- the pack's pkcs7 dependency gates well-formedness exactly as
	// publicationsfile_handler.go does for the publications file signature, backed by our own
	// derasn1 walk for the version/attribute-level checks the pkcs7 API does not expose.
	_, p7Err := pkcs7.Parse(der)
	ci, ciErr := derasn1.ParseContentInfo(der)
	var sd *derasn1.SignedData
	var sdErr error
	if ciErr == nil {
		sd, sdErr = ci.SignedData()
	}
	if ok := p.result.RejectIfFalse(p7Err == nil && ciErr == nil && sdErr == nil, "cms.data.parsing"); !ok {
		log.Notice("cms: input is not a well-formed CMS SignedData structure.")
		return nil
	}

	p.result.RejectIfFalse(sd.Version == 3, "cms.signeddata.version", sd.Version)

	digestAlgs := sd.DigestAlgorithms()
	p.result.RejectIfFalse(len(digestAlgs) == 1 && digestAlgs[0].Equal(oidSHA256), "cms.signeddata.digest.algorithm")

	p.result.RejectIfFalse(sd.EncapContentInfo.EContentType.Equal(OIDProvisioning), "cms.content.type")

	decoded, decErr := p.decodeContent(sd.EncapContentInfo.EContent)

	eeCert, caCerts := p.checkCertificates(sd)
	crl := p.checkCRL(sd)
	si := p.checkSignerInfos(sd)
	p.checkSignerVersion(si)
	p.checkSignerSID(si, eeCert)
	p.checkSignerDigestAlgorithm(si)
	p.checkSignedAttrs(si, sd.EncapContentInfo.EContent, eeCert)

	if p.result.HasFailureForLocation(loc) || decErr != nil {
		return nil
	}
	p.obj = &ProvisioningCmsObject{
		encoded: append([]byte(nil), der...),
		eeCert:  eeCert,
		caCerts: caCerts,
		crl:     crl,
		decoded: decoded,
	}
	return nil
}

// decodeContent implements check 5 (cms.content.parsing), surfacing payload.version/payload.type.unknown
// under their own keys per the codec's DecodeError, per the provisioning protocol's requirement that
// those two failures be visible at the same location as every other defect.
func (p *Parser) decodeContent(eContent []byte) (payload.Payload, error) {
	decoded, err := payload.Decode(eContent)
	if err != nil {
		if de, ok := err.(*payload.DecodeError); ok && (de.Key == "payload.version" || de.Key == "payload.type.unknown") {
			p.result.RejectIfFalse(false, de.Key)
		}
		p.result.RejectIfFalse(false, "cms.content.parsing")
		return nil, err
	}
	p.result.RejectIfFalse(true, "cms.content.parsing")
	return decoded, nil
}

// checkCertificates implements check 6: get.certs.and.crls, cert.is.x509cert, cert.is.ee.cert,
// cert.has.ski, only.one.ee.cert.allowed. Returns the selected EE certificate (nil if none qualifies) and
// every other certificate kept as caCertificates.
func (p *Parser) checkCertificates(sd *derasn1.SignedData) (*x509.Certificate, []*x509.Certificate) {
	p.result.RejectIfFalse(true, "get.certs.and.crls")

	var parsed []*x509.Certificate
	for _, raw := range sd.RawCertificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		ok := p.result.RejectIfFalse(err == nil, "cert.is.x509cert")
		if ok {
			parsed = append(parsed, cert)
		}
	}

	var eeCandidates, caCerts []*x509.Certificate
	for _, cert := range parsed {
		isCA, present := derasn1.CertificateBasicConstraints(cert)
		if !present || !isCA {
			eeCandidates = append(eeCandidates, cert)
		} else {
			caCerts = append(caCerts, cert)
		}
	}
	p.result.RejectIfFalse(len(eeCandidates) >= 1, "cert.is.ee.cert")
	p.result.RejectIfFalse(len(eeCandidates) == 1, "only.one.ee.cert.allowed", len(eeCandidates))

	var eeCert *x509.Certificate
	if len(eeCandidates) >= 1 {
		eeCert = eeCandidates[0]
		caCerts = append(caCerts, eeCandidates[1:]...)
	}

	ski := derasn1.CertificateSubjectKeyIdentifier(eeCert)
	p.result.RejectIfFalse(eeCert != nil && len(ski) > 0, "cert.has.ski")

	return eeCert, caCerts
}

// checkCRL implements check 7: only.one.crl.allowed, crl.is.x509crl.
func (p *Parser) checkCRL(sd *derasn1.SignedData) *x509.RevocationList {
	var valid []*x509.RevocationList
	for _, raw := range sd.RawCRLs {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if p.result.RejectIfFalse(err == nil, "crl.is.x509crl") {
			valid = append(valid, crl)
		}
	}
	p.result.RejectIfFalse(len(valid) == 1, "only.one.crl.allowed", len(valid))
	if len(valid) == 1 {
		return valid[0]
	}
	return nil
}

// checkSignerInfos implements check 8: get.signer.info, only.one.signer.
func (p *Parser) checkSignerInfos(sd *derasn1.SignedData) *derasn1.SignerInfo {
	infos, err := sd.SignerInfos()
	if ok := p.result.RejectIfFalse(err == nil, "get.signer.info"); !ok {
		p.result.RejectIfFalse(false, "only.one.signer")
		return nil
	}
	p.result.RejectIfFalse(len(infos) == 1, "only.one.signer", len(infos))
	if len(infos) >= 1 {
		return infos[0]
	}
	return nil
}

// checkSignerVersion implements check 9: cms.signer.info.version.
func (p *Parser) checkSignerVersion(si *derasn1.SignerInfo) {
	p.result.RejectIfFalse(si != nil && si.Version == 3, "cms.signer.info.version")
}

// checkSignerSID implements check 10: cms.signer.info.ski, cms.signer.info.ski.only, in that order --
// value equality is recorded first, then the CHOICE-form check, per the canonical ordering.
func (p *Parser) checkSignerSID(si *derasn1.SignerInfo, eeCert *x509.Certificate) {
	var skiBytes []byte
	var isSKIForm bool
	if si != nil {
		skiBytes, isSKIForm = si.SubjectKeyIdentifierSID()
	}
	eeSKI := derasn1.CertificateSubjectKeyIdentifier(eeCert)
	valueMatches := isSKIForm && eeCert != nil && len(eeSKI) > 0 && bytes.Equal(skiBytes, eeSKI)
	p.result.RejectIfFalse(valueMatches, "cms.signer.info.ski")
	p.result.RejectIfFalse(isSKIForm, "cms.signer.info.ski.only")
}

// checkSignerDigestAlgorithm implements check 11: cms.signer.info.digest.algorithm.
func (p *Parser) checkSignerDigestAlgorithm(si *derasn1.SignerInfo) {
	p.result.RejectIfFalse(si != nil && si.DigestAlgorithm.Algorithm.Equal(oidSHA256), "cms.signer.info.digest.algorithm")
}

// checkSignedAttrs implements checks 12-18: signed attributes present, ContentType attribute,
// MessageDigest attribute, SigningTime attribute, encryption algorithm, signature verification, unsigned
// attributes omitted.
func (p *Parser) checkSignedAttrs(si *derasn1.SignerInfo, eContent []byte, eeCert *x509.Certificate) {
	hasSignedAttrs := si != nil && si.HasSignedAttrs()
	p.result.RejectIfFalse(hasSignedAttrs, "signed.attrs.present")

	var ctAttr, mdAttr, stAttr *derasn1.Attribute
	var ctCount, mdCount, stCount int
	if hasSignedAttrs {
		ctAttr, _ = si.SignedAttribute(derasn1.OIDContentType)
		ctCount, _ = si.SignedAttributeCount(derasn1.OIDContentType)
		mdAttr, _ = si.SignedAttribute(derasn1.OIDMessageDigest)
		mdCount, _ = si.SignedAttributeCount(derasn1.OIDMessageDigest)
		stAttr, _ = si.SignedAttribute(derasn1.OIDSigningTime)
		stCount, _ = si.SignedAttributeCount(derasn1.OIDSigningTime)
	}

	p.result.RejectIfFalse(ctAttr != nil, "content.type.attr.present")
	p.result.RejectIfFalse(ctCount == 1, "content.type.value.count", ctCount)
	p.result.RejectIfFalse(attributeHoldsOID(ctAttr, OIDProvisioning), "content.type.value")

	p.result.RejectIfFalse(mdAttr != nil, "msg.digest.attr.present")
	p.result.RejectIfFalse(mdCount == 1, "msg.digest.value.count", mdCount)

	p.result.RejectIfFalse(stAttr != nil, "signing.time.attr.present")
	p.result.RejectIfFalse(stCount == 1, "only.one.signing.time.attr", stCount)

	p.result.RejectIfFalse(si != nil && si.SignatureAlgorithm.Algorithm.Equal(oidRSAEncryption), "encryption.algorithm")

	p.result.RejectIfFalse(p.verifySignature(si, eContent, mdAttr, eeCert), "signature.verification")

	p.result.RejectIfFalse(si != nil && !si.HasUnsignedAttrs(), "unsigned.attrs.omitted")
}

// verifySignature implements check 17. Every distinct failure mode RFC 5652 section 5.4/5.6 admits
// (certificate not yet valid or expired, unsupported key algorithm, message digest mismatch, cryptographic
// mismatch) collapses into this single boolean.
func (p *Parser) verifySignature(si *derasn1.SignerInfo, eContent []byte, mdAttr *derasn1.Attribute, eeCert *x509.Certificate) bool {
	if si == nil || eeCert == nil || mdAttr == nil {
		return false
	}

	now := time.Now()
	if now.Before(eeCert.NotBefore) || now.After(eeCert.NotAfter) {
		log.Notice("cms: EE certificate is outside its validity window.")
		return false
	}

	var digestValues [][]byte
	if _, err := asn1.UnmarshalWithParams(mdAttr.Values.FullBytes, &digestValues, "set"); err != nil || len(digestValues) != 1 {
		return false
	}
	expectedDigest := sha256.Sum256(eContent)
	if !bytes.Equal(digestValues[0], expectedDigest[:]) {
		log.Notice("cms: signed MessageDigest attribute does not match the eContent digest.")
		return false
	}

	pub, ok := eeCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		log.Notice("cms: EE certificate public key is not RSA.")
		return false
	}
	attrsDER, err := si.SignedAttrsForDigest()
	if err != nil {
		return false
	}
	hashed := sha256.Sum256(attrsDER)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], si.Signature); err != nil {
		log.Notice("cms: RSA signature verification failed.")
		return false
	}
	return true
}

// attributeHoldsOID reports whether attr's single value decodes as oid.
func attributeHoldsOID(attr *derasn1.Attribute, oid asn1.ObjectIdentifier) bool {
	if attr == nil {
		return false
	}
	var values []asn1.ObjectIdentifier
	if _, err := asn1.UnmarshalWithParams(attr.Values.FullBytes, &values, "set"); err != nil || len(values) != 1 {
		return false
	}
	return values[0].Equal(oid)
}

// GetProvisioningCmsObject returns the parsed object if every check passed. Otherwise it returns a
// *ParserError carrying the accumulated Result.
func (p *Parser) GetProvisioningCmsObject() (*ProvisioningCmsObject, error) {
	if p == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	if p.result.HasFailureForLocation(p.loc) {
		return nil, newParserError(p.result, p.loc, nil)
	}
	if p.obj == nil {
		return nil, newParserError(p.result, p.loc, errors.New(errors.ErrInvalidStateError).
			AppendMessage("Parse has not been run, or did not complete."))
	}
	return p.obj, nil
}
