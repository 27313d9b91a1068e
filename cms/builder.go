package cms

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"time"

	"github.com/ripe-ncc/rpki-provisioning/derasn1"
	"github.com/ripe-ncc/rpki-provisioning/errors"
	"github.com/ripe-ncc/rpki-provisioning/log"
	"github.com/ripe-ncc/rpki-provisioning/payload"
	"github.com/ripe-ncc/rpki-provisioning/validation"
)

// buildLocation is the single validation.Location a Builder's advisories are recorded against. A Builder
// never fails a build over them, so one shared location is enough -- there is no per-peer scoping need the
// way the Parser's caller-supplied Location has.
const buildLocation = validation.Location("build")

// Builder constructs a CMS SignedData message that satisfies the Parser's profile: exactly one EE
// certificate, exactly one CRL, SHA-256 digests, RSA-with-SHA-256 signature, and the three required
// signed attributes. Builder accumulates setter calls; every network/crypto primitive is touched only
// inside Build, following the same settings-then-finalize shape as the teacher's verification context and
// service request builders.
type Builder struct {
	payload   payload.Payload
	eeCert    *x509.Certificate
	eeKey     *rsa.PrivateKey
	caCerts   []*x509.Certificate
	crl       *x509.RevocationList
	signingAt time.Time
	result    *validation.Result
}

// BuilderSetting configures a Builder before Build is called.
type BuilderSetting func(*Builder) error

// NewBuilder constructs a Builder for p, to be signed by the given EE certificate and its matching private
// key. The EE certificate must already carry Basic Constraints absent or cA=false and a Subject Key
// Identifier matching eeKey's public key. Build only rejects an EE certificate that carries no Subject
// Key Identifier at all; it checks neither the Basic Constraints nor that the identifier matches eeKey --
// that is the caller's responsibility per the construction contract, exactly as the distilled spec assigns
// certificate construction to an external collaborator.
func NewBuilder(p payload.Payload, eeCert *x509.Certificate, eeKey *rsa.PrivateKey, settings ...BuilderSetting) (*Builder, error) {
	if p == nil {
		return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("Payload must not be nil.")
	}
	if eeCert == nil {
		return nil, errors.New(errors.ErrMissingEeCert)
	}
	if eeKey == nil {
		return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("EE private key must not be nil.")
	}
	b := &Builder{payload: p, eeCert: eeCert, eeKey: eeKey, signingAt: time.Now(), result: validation.NewResult()}
	b.result.SetLocation(buildLocation)
	for _, set := range settings {
		if set == nil {
			return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("Setting is a nil function.")
		}
		if err := set(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// WithCRL embeds crl as the message's single certificate revocation list. Required: Build fails with
// ErrInvalidArgument if it is never set -- the provisioning protocol always ships exactly one CRL alongside
// the EE certificate.
func WithCRL(crl *x509.RevocationList) BuilderSetting {
	return func(b *Builder) error {
		if crl == nil {
			return errors.New(errors.ErrInvalidArgument).AppendMessage("CRL must not be nil.")
		}
		b.crl = crl
		return nil
	}
}

// WithCACertificates embeds additional certificates alongside the EE certificate. The provisioning
// protocol does not require any (valid messages usually embed none), so this setting is optional.
func WithCACertificates(certs ...*x509.Certificate) BuilderSetting {
	return func(b *Builder) error {
		b.caCerts = append(b.caCerts, certs...)
		return nil
	}
}

// WithSigningTime overrides the signingTime signed attribute. Defaults to time.Now() captured at
// NewBuilder, injected rather than sampled again at Build so a Builder produces deterministic output when
// reused.
func WithSigningTime(t time.Time) BuilderSetting {
	return func(b *Builder) error {
		b.signingAt = t
		return nil
	}
}

// Result returns the advisories accumulated by every Build call on this Builder (the Result is never
// reset, so each Build adds its own entry) -- currently only ee.cert.key.size, recorded as a pass for a
// 2048-bit RSA EE key and as a non-fatal warning otherwise. Build never fails over an entry
// recorded here.
func (b *Builder) Result() *validation.Result {
	if b == nil {
		return nil
	}
	return b.result
}

// Build serializes the configured payload into a signed, DER-encoded CMS SignedData message satisfying
// every check in Parser.Parse.
func (b *Builder) Build() ([]byte, error) {
	if b == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	if b.crl == nil {
		return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("No CRL configured; call WithCRL.")
	}
	pub, ok := b.eeKey.Public().(*rsa.PublicKey)
	if !ok {
		return nil, errors.New(errors.ErrKeyAlgorithmMismatch).AppendMessage("EE key is not RSA.")
	}
	b.result.WarnIfFalse(pub.N.BitLen() == 2048, "ee.cert.key.size", pub.N.BitLen())
	log.Debug("cms: building provisioning CMS object.")

	eContent, err := payload.Encode(b.payload)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to render payload to canonical XML.")
	}

	digest := sha256.Sum256(eContent)

	signedAttrs, err := marshalSignedAttrs(digest[:], b.signingAt)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to encode signed attributes.")
	}
	attrsForDigest, err := reencodeAsExplicitSet(signedAttrs)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to re-encode signed attributes for signing.")
	}
	signatureDigest := sha256.Sum256(attrsForDigest)

	signature, err := rsa.SignPKCS1v15(rand.Reader, b.eeKey, crypto.SHA256, signatureDigest[:])
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("RSA signing operation failed.")
	}

	ski := derasn1.CertificateSubjectKeyIdentifier(b.eeCert)
	if len(ski) == 0 {
		return nil, errors.New(errors.ErrMissingEeCert).
			AppendMessage("EE certificate has no Subject Key Identifier.")
	}

	si := derasn1.SignerInfo{
		Version:            3,
		SID:                asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: ski},
		DigestAlgorithm:    pkix.AlgorithmIdentifier{Algorithm: oidSHA256},
		RawSignedAttrs:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedAttrs},
		SignatureAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oidRSAEncryption},
		Signature:          signature,
	}
	siDER, err := asn1.Marshal(si)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to encode SignerInfo.")
	}

	var rawCerts []asn1.RawValue
	rawCerts = append(rawCerts, asn1.RawValue{FullBytes: b.eeCert.Raw})
	for _, c := range b.caCerts {
		rawCerts = append(rawCerts, asn1.RawValue{FullBytes: c.Raw})
	}

	sd := derasn1.SignedData{
		Version:    3,
		DigestAlgs: []pkix.AlgorithmIdentifier{{Algorithm: oidSHA256}},
		EncapContentInfo: derasn1.EncapsulatedContentInfo{
			EContentType: OIDProvisioning,
			EContent:     eContent,
		},
		RawCertificates: rawCerts,
		RawCRLs:         []asn1.RawValue{{FullBytes: b.crl.Raw}},
		RawSignerInfos:  []asn1.RawValue{{FullBytes: siDER}},
	}
	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to encode SignedData.")
	}

	ci := derasn1.ContentInfo{
		ContentType: derasn1.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	}
	der, err := asn1.Marshal(ci)
	if err != nil {
		return nil, errors.New(errors.ErrSigningFailed).SetExtError(err).
			AppendMessage("Failed to encode ContentInfo.")
	}
	return der, nil
}

// marshalSignedAttrs encodes the three required signed attributes (contentType, messageDigest,
// signingTime) as a sequence of Attribute structures, in this order, for embedding as signedAttrs.
func marshalSignedAttrs(eContentDigest []byte, signingTime time.Time) ([]byte, error) {
	ctVal, err := asn1.Marshal(OIDProvisioning)
	if err != nil {
		return nil, err
	}
	ctValues, err := wrapAsSet(ctVal)
	if err != nil {
		return nil, err
	}
	mdVal, err := asn1.Marshal(eContentDigest)
	if err != nil {
		return nil, err
	}
	mdValues, err := wrapAsSet(mdVal)
	if err != nil {
		return nil, err
	}
	stVal, err := asn1.MarshalWithParams(signingTime.UTC(), "utc")
	if err != nil {
		return nil, err
	}
	stValues, err := wrapAsSet(stVal)
	if err != nil {
		return nil, err
	}

	attrs := []derasn1.Attribute{
		{Type: derasn1.OIDContentType, Values: ctValues},
		{Type: derasn1.OIDMessageDigest, Values: mdValues},
		{Type: derasn1.OIDSigningTime, Values: stValues},
	}
	// Marshal each Attribute individually and concatenate -- this is exactly the content octets of a SET
	// OF Attribute, which is what the [0] IMPLICIT signedAttrs field requires.
	var body []byte
	for _, a := range attrs {
		der, err := asn1.Marshal(a)
		if err != nil {
			return nil, err
		}
		body = append(body, der...)
	}
	return body, nil
}

// wrapAsSet wraps a single DER-encoded value as the sole element of a SET OF AttributeValue.
func wrapAsSet(valueDER []byte) (asn1.RawValue, error) {
	set := asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: valueDER}
	der, err := asn1.Marshal(set)
	if err != nil {
		return asn1.RawValue{}, err
	}
	var rv asn1.RawValue
	if _, err := asn1.Unmarshal(der, &rv); err != nil {
		return asn1.RawValue{}, err
	}
	return rv, nil
}

// reencodeAsExplicitSet re-tags body (the concatenated Attribute content octets) as a universal SET for
// the signature digest computation, per RFC 5652 section 5.4.
func reencodeAsExplicitSet(body []byte) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: body})
}
