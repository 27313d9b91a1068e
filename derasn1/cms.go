// Package derasn1 implements thin, typed accessors over the RFC 5652 CMS SignedData structure and the
// X.509 certificate fields the provisioning protocol depends on. It carries no validation policy of its
// own -- every accessor either returns a value or an *errors.ProvisioningError carrying
// errors.ErrMalformedDER; the cms package decides what a missing or malformed value means.
package derasn1

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"

	"github.com/ripe-ncc/rpki-provisioning/errors"
)

// OID identifies an ASN.1 object by its well-known string form.
type OID = asn1.ObjectIdentifier

var (
	// OIDSignedData is the CMS content type for SignedData (RFC 5652 section 5.1).
	OIDSignedData = OID{1, 2, 840, 113549, 1, 7, 2}

	// OIDContentType identifies the signed ContentType attribute (RFC 5652 section 11.1).
	OIDContentType = OID{1, 2, 840, 113549, 1, 9, 3}
	// OIDMessageDigest identifies the signed MessageDigest attribute (RFC 5652 section 11.2).
	OIDMessageDigest = OID{1, 2, 840, 113549, 1, 9, 4}
	// OIDSigningTime identifies the signed SigningTime attribute (RFC 5652 section 11.3).
	OIDSigningTime = OID{1, 2, 840, 113549, 1, 9, 5}
)

// ContentInfo is the top-level CMS envelope (RFC 5652 section 3):
//
//	ContentInfo ::= SEQUENCE {
//	  contentType ContentType,
//	  content     [0] EXPLICIT ANY DEFINED BY contentType }
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// ParseContentInfo decodes the outer CMS wrapper. It does not interpret Content; callers that expect
// signedData call SignedData() next.
func ParseContentInfo(der []byte) (*ContentInfo, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(der, &ci)
	if err != nil {
		return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
			AppendMessage("Failed to parse ContentInfo.")
	}
	if len(rest) != 0 {
		return nil, errors.New(errors.ErrMalformedDER).
			AppendMessage("Trailing bytes after ContentInfo.")
	}
	return &ci, nil
}

// SignedData decodes ci.Content as a SignedData structure. Returns an error if ci.ContentType is not
// id-signedData or the content does not parse.
func (ci *ContentInfo) SignedData() (*SignedData, error) {
	if ci == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, errors.New(errors.ErrMalformedDER).
			AppendMessage("ContentInfo.ContentType is not id-signedData.")
	}
	// ci.Content was decoded from an EXPLICIT [0] wrapper into a RawValue; Go's asn1 package does not
	// parse the inner element of an explicitly tagged RawValue, so RawValue.Bytes holds the complete
	// inner SignedData TLV (its own SEQUENCE tag, length and content octets).
	var sd SignedData
	rest, err := asn1.Unmarshal(ci.Content.Bytes, &sd)
	if err != nil {
		return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
			AppendMessage("Failed to parse SignedData.")
	}
	if len(rest) != 0 {
		return nil, errors.New(errors.ErrMalformedDER).
			AppendMessage("Trailing bytes after SignedData.")
	}
	return &sd, nil
}

// SignedData represents the CMS SignedData content type (RFC 5652 section 5.1):
//
//	SignedData ::= SEQUENCE {
//	  version             CMSVersion,
//	  digestAlgorithms    DigestAlgorithmIdentifiers,
//	  encapContentInfo    EncapsulatedContentInfo,
//	  certificates        [0] IMPLICIT CertificateSet             OPTIONAL,
//	  crls                [1] IMPLICIT CertificateRevocationLists OPTIONAL,
//	  signerInfos         SignerInfos }
type SignedData struct {
	Version          int
	DigestAlgs       []pkix.AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	RawCertificates  []asn1.RawValue `asn1:"optional,tag:0"`
	RawCRLs          []asn1.RawValue `asn1:"optional,tag:1"`
	RawSignerInfos   []asn1.RawValue `asn1:"set"`
}

// DigestAlgorithms returns the digest algorithm OIDs declared at the SignedData level.
func (sd *SignedData) DigestAlgorithms() []asn1.ObjectIdentifier {
	if sd == nil {
		return nil
	}
	out := make([]asn1.ObjectIdentifier, len(sd.DigestAlgs))
	for i, a := range sd.DigestAlgs {
		out[i] = a.Algorithm
	}
	return out
}

// SignerInfos decodes each element of RawSignerInfos into a SignerInfo.
func (sd *SignedData) SignerInfos() ([]*SignerInfo, error) {
	if sd == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	out := make([]*SignerInfo, 0, len(sd.RawSignerInfos))
	for _, raw := range sd.RawSignerInfos {
		var si SignerInfo
		if _, err := asn1.Unmarshal(raw.FullBytes, &si); err != nil {
			return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
				AppendMessage("Failed to parse SignerInfo.")
		}
		out = append(out, &si)
	}
	return out, nil
}

// EncapsulatedContentInfo holds the signed content and its type (RFC 5652 section 5.2):
//
//	EncapsulatedContentInfo ::= SEQUENCE {
//	  eContentType    ContentType,
//	  eContent        [0] EXPLICIT OCTET STRING OPTIONAL }
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

// IsDetached reports whether eContent is absent from the encoding.
func (e EncapsulatedContentInfo) IsDetached() bool {
	return e.EContent == nil
}

// SignerInfo represents the per-signer signature block (RFC 5652 section 5.3):
//
//	SignerInfo ::= SEQUENCE {
//	  version             CMSVersion,
//	  sid                 SignerIdentifier,
//	  digestAlgorithm     DigestAlgorithmIdentifier,
//	  signedAttrs         [0] IMPLICIT SignedAttributes   OPTIONAL,
//	  signatureAlgorithm  SignatureAlgorithmIdentifier,
//	  signature           SignatureValue,
//	  unsignedAttrs       [1] IMPLICIT UnsignedAttributes OPTIONAL }
//
// SID is kept as a RawValue because SignerIdentifier is a CHOICE between IssuerAndSerialNumber (a
// SEQUENCE) and SubjectKeyIdentifier ([0] IMPLICIT OCTET STRING); the tag on the raw value disambiguates.
type SignerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    pkix.AlgorithmIdentifier
	RawSignedAttrs     asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          []byte
	RawUnsignedAttrs   asn1.RawValue `asn1:"optional,tag:1"`
}

// IssuerAndSerialNumber identifies a certificate by issuer name and serial number (RFC 5652 section 5.3).
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// SubjectKeyIdentifierSID reports whether SID is the [0] IMPLICIT SubjectKeyIdentifier form, returning the
// raw key identifier bytes when it is.
func (si *SignerInfo) SubjectKeyIdentifierSID() (ski []byte, ok bool) {
	if si == nil || si.SID.Class != asn1.ClassContextSpecific || si.SID.Tag != 0 {
		return nil, false
	}
	return si.SID.Bytes, true
}

// HasSignedAttrs reports whether the [0] IMPLICIT signedAttrs field is present.
func (si *SignerInfo) HasSignedAttrs() bool {
	return si != nil && len(si.RawSignedAttrs.Bytes) > 0
}

// HasUnsignedAttrs reports whether the [1] IMPLICIT unsignedAttrs field is present.
func (si *SignerInfo) HasUnsignedAttrs() bool {
	return si != nil && len(si.RawUnsignedAttrs.Bytes) > 0
}

// Attribute is a single CMS attribute (RFC 5652 section 5.3):
//
//	Attribute ::= SEQUENCE {
//	  attrType    OBJECT IDENTIFIER,
//	  attrValues  SET OF AttributeValue }
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// SignedAttributes parses the [0] IMPLICIT signedAttrs SET into individual Attribute values. The implicit
// context tag is rewritten to a universal SET tag before unmarshalling, since an IMPLICIT tag on the wire
// would otherwise not match the SET OF Attribute grammar.
func (si *SignerInfo) SignedAttributes() ([]Attribute, error) {
	if si == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	if !si.HasSignedAttrs() {
		return nil, nil
	}
	return unmarshalAttributeSet(si.RawSignedAttrs)
}

// SignedAttribute returns the first signed attribute matching oid, or nil if absent.
func (si *SignerInfo) SignedAttribute(oid asn1.ObjectIdentifier) (*Attribute, error) {
	attrs, err := si.SignedAttributes()
	if err != nil {
		return nil, err
	}
	for i := range attrs {
		if attrs[i].Type.Equal(oid) {
			return &attrs[i], nil
		}
	}
	return nil, nil
}

// SignedAttributeCount returns how many signed attributes carry oid -- RFC 5652 section 11.1/11.2 require
// exactly one ContentType and one MessageDigest value, a fact only checkable by counting.
func (si *SignerInfo) SignedAttributeCount(oid asn1.ObjectIdentifier) (int, error) {
	attrs, err := si.SignedAttributes()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range attrs {
		if a.Type.Equal(oid) {
			n++
		}
	}
	return n, nil
}

// SignedAttrsForDigest re-encodes the signed attributes as a DER SET (universal tag 0x31, EXPLICIT),
// rather than the [0] IMPLICIT form the wire carries. RFC 5652 section 5.4 requires the message digest
// over signed attributes to be computed over this re-encoding, not over the raw IMPLICIT-tagged bytes.
func (si *SignerInfo) SignedAttrsForDigest() ([]byte, error) {
	if si == nil || !si.HasSignedAttrs() {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	raw := si.RawSignedAttrs
	recoded := asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      raw.Bytes,
	}
	der, err := asn1.Marshal(recoded)
	if err != nil {
		return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
			AppendMessage("Failed to re-encode signed attributes for digest computation.")
	}
	return der, nil
}

func unmarshalAttributeSet(raw asn1.RawValue) ([]Attribute, error) {
	recoded := asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      raw.Bytes,
	}
	der, err := asn1.Marshal(recoded)
	if err != nil {
		return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
			AppendMessage("Failed to re-encode attribute SET.")
	}
	var attrs []Attribute
	rest, err := asn1.UnmarshalWithParams(der, &attrs, "set")
	if err != nil {
		return nil, errors.New(errors.ErrMalformedDER).SetExtError(err).
			AppendMessage("Failed to parse attribute SET.")
	}
	if len(rest) != 0 {
		return nil, errors.New(errors.ErrMalformedDER).
			AppendMessage("Trailing bytes after attribute SET.")
	}
	return attrs, nil
}
