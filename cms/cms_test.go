package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"reflect"
	"testing"
	"time"

	"github.com/ripe-ncc/rpki-provisioning/derasn1"
	"github.com/ripe-ncc/rpki-provisioning/payload"
	"github.com/ripe-ncc/rpki-provisioning/test/utils"
	"github.com/ripe-ncc/rpki-provisioning/validation"
)

// buildAndParse signs p with a fresh EE certificate/CRL pair and runs it straight through a Parser,
// returning both the built DER and the parse outcome for the caller to assert on.
func buildAndParse(t *testing.T, p payload.Payload) ([]byte, *Parser) {
	t.Helper()
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	crl := utils.NewCRL(ca, caKey)

	b, err := NewBuilder(p, eeCert, eeKey, WithCRL(crl))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	der, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	parser := NewParser()
	if err := parser.Parse(validation.Location("test"), der); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	return der, parser
}

func TestUnitBuildThenParseRoundTripList(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	_, parser := buildAndParse(t, p)

	if parser.Result().HasFailures() {
		t.Fatalf("Unexpected validation failures:\n%s", parser.Result().String())
	}
	obj, err := parser.GetProvisioningCmsObject()
	if err != nil {
		t.Fatalf("GetProvisioningCmsObject failed: %v", err)
	}
	if !reflect.DeepEqual(obj.Payload(), p) {
		t.Fatalf("Round-tripped payload mismatch:\nwant %+v\ngot  %+v", p, obj.Payload())
	}
	if obj.EECertificate() == nil {
		t.Fatal("Expected a non-nil EE certificate on the parsed object.")
	}
	if obj.CRL() == nil {
		t.Fatal("Expected a non-nil CRL on the parsed object.")
	}
}

func TestUnitBuildThenParseRoundTripRevoke(t *testing.T) {
	p := &payload.Revoke{
		Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeRevoke},
		Key: payload.Key{ClassName: "class1", SKI: "c29tZS1za2k"},
	}
	_, parser := buildAndParse(t, p)

	if parser.Result().HasFailures() {
		t.Fatalf("Unexpected validation failures:\n%s", parser.Result().String())
	}
	obj, err := parser.GetProvisioningCmsObject()
	if err != nil {
		t.Fatalf("GetProvisioningCmsObject failed: %v", err)
	}
	if !reflect.DeepEqual(obj.Payload(), p) {
		t.Fatalf("Round-tripped payload mismatch:\nwant %+v\ngot  %+v", p, obj.Payload())
	}
}

func TestUnitBuilderIsDeterministicGivenSameSigningTime(t *testing.T) {
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	crl := utils.NewCRL(ca, caKey)
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	signingAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	b1, err := NewBuilder(p, eeCert, eeKey, WithCRL(crl), WithSigningTime(signingAt))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	der1, err := b1.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	b2, err := NewBuilder(p, eeCert, eeKey, WithCRL(crl), WithSigningTime(signingAt))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	der2, err := b2.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !reflect.DeepEqual(der1, der2) {
		t.Fatal("Expected two Builds with identical inputs and signing time to produce byte-identical DER.")
	}
}

func TestUnitParseDetectsTamperedSignature(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	der, parser := buildAndParse(t, p)
	if parser.Result().HasFailures() {
		t.Fatalf("Unexpected failures on the untampered message:\n%s", parser.Result().String())
	}

	tampered, err := mutateSignerInfo(der, func(si *derasn1.SignerInfo) {
		si.Signature[len(si.Signature)-1] ^= 0xff
	})
	if err != nil {
		t.Fatalf("mutateSignerInfo failed: %v", err)
	}

	parser2 := NewParser()
	if err := parser2.Parse(validation.Location("test"), tampered); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !parser2.Result().HasFailures() {
		t.Fatal("Expected a tampered signature to be rejected.")
	}
	if !hasFailureKey(parser2.Result(), validation.Location("test"), "signature.verification") {
		t.Fatalf("Expected signature.verification to fail:\n%s", parser2.Result().String())
	}
	if _, err := parser2.GetProvisioningCmsObject(); err == nil {
		t.Fatal("Expected GetProvisioningCmsObject to fail for a tampered message.")
	}
}

func TestUnitParseDetectsWrongSubjectKeyIdentifier(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	der, parser := buildAndParse(t, p)
	if parser.Result().HasFailures() {
		t.Fatalf("Unexpected failures on the untampered message:\n%s", parser.Result().String())
	}

	tampered, err := mutateSignerInfo(der, func(si *derasn1.SignerInfo) {
		wrong := append([]byte(nil), si.SID.Bytes...)
		wrong[0] ^= 0xff
		si.SID = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: wrong}
	})
	if err != nil {
		t.Fatalf("mutateSignerInfo failed: %v", err)
	}

	parser2 := NewParser()
	if err := parser2.Parse(validation.Location("test"), tampered); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !hasFailureKey(parser2.Result(), validation.Location("test"), "cms.signer.info.ski") {
		t.Fatalf("Expected cms.signer.info.ski to fail:\n%s", parser2.Result().String())
	}
	if hasFailureKey(parser2.Result(), validation.Location("test"), "cms.signer.info.ski.only") {
		t.Fatalf("Did not expect cms.signer.info.ski.only to fail:\n%s", parser2.Result().String())
	}
}

func TestUnitParseRejectsTwoCRLs(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	crl := utils.NewCRL(ca, caKey)
	otherCRL := utils.NewCRL(ca, caKey)

	b, err := NewBuilder(p, eeCert, eeKey, WithCRL(crl))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	der, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	tampered, err := mutateSignedData(der, func(sd *derasn1.SignedData) {
		sd.RawCRLs = append(sd.RawCRLs, asn1.RawValue{FullBytes: otherCRL.Raw})
	})
	if err != nil {
		t.Fatalf("mutateSignedData failed: %v", err)
	}

	parser := NewParser()
	if err := parser.Parse(validation.Location("test"), tampered); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !hasFailureKey(parser.Result(), validation.Location("test"), "only.one.crl.allowed") {
		t.Fatalf("Expected only.one.crl.allowed to fail:\n%s", parser.Result().String())
	}
	// Checks after the CRL check still run to completion -- the accumulator never aborts the walk.
	if hasFailureKey(parser.Result(), validation.Location("test"), "signature.verification") {
		t.Fatalf("Did not expect signature.verification to fail on a message with an untouched signature:\n%s", parser.Result().String())
	}
}

func TestUnitParseRejectsSecondEECertificate(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	secondEE, _ := utils.NewEECertificate("Other EE", ca, caKey)
	crl := utils.NewCRL(ca, caKey)

	b, err := NewBuilder(p, eeCert, eeKey, WithCRL(crl), WithCACertificates(secondEE))
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	der, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	parser := NewParser()
	if err := parser.Parse(validation.Location("test"), der); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !hasFailureKey(parser.Result(), validation.Location("test"), "only.one.ee.cert.allowed") {
		t.Fatalf("Expected only.one.ee.cert.allowed to fail:\n%s", parser.Result().String())
	}
}

func TestUnitParseRejectsNonSHA256DigestAlgorithm(t *testing.T) {
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}
	der, parser := buildAndParse(t, p)
	if parser.Result().HasFailures() {
		t.Fatalf("Unexpected failures on the untampered message:\n%s", parser.Result().String())
	}

	oidSHA1 := asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	tampered, err := mutateSignedData(der, func(sd *derasn1.SignedData) {
		sd.DigestAlgs = []pkix.AlgorithmIdentifier{{Algorithm: oidSHA1}}
	})
	if err != nil {
		t.Fatalf("mutateSignedData failed: %v", err)
	}

	parser2 := NewParser()
	if err := parser2.Parse(validation.Location("test"), tampered); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !hasFailureKey(parser2.Result(), validation.Location("test"), "cms.signeddata.digest.algorithm") {
		t.Fatalf("Expected cms.signeddata.digest.algorithm to fail:\n%s", parser2.Result().String())
	}
}

func TestUnitParseRejectsUnparseableInput(t *testing.T) {
	parser := NewParser()
	if err := parser.Parse(validation.Location("test"), []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("Parse returned an unexpected hard error: %v", err)
	}
	if !hasFailureKey(parser.Result(), validation.Location("test"), "cms.data.parsing") {
		t.Fatalf("Expected cms.data.parsing to fail:\n%s", parser.Result().String())
	}
	if _, err := parser.GetProvisioningCmsObject(); err == nil {
		t.Fatal("Expected GetProvisioningCmsObject to fail for unparseable input.")
	}
}

func TestUnitParseRejectsEmptyInput(t *testing.T) {
	parser := NewParser()
	if err := parser.Parse(validation.Location("test"), nil); err == nil {
		t.Fatal("Expected Parse to return an error for an empty buffer.")
	}
}

func TestUnitNewBuilderRejectsMissingCRL(t *testing.T) {
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	p := &payload.List{Hdr: payload.Header{Recipient: "child", Sender: "parent", Type: payload.TypeList}}

	b, err := NewBuilder(p, eeCert, eeKey)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("Expected Build to fail without a configured CRL.")
	}
}

func TestUnitNewBuilderRejectsNilPayload(t *testing.T) {
	ca, caKey := utils.NewCACertificate("Test CA")
	eeCert, eeKey := utils.NewEECertificate("Test EE", ca, caKey)
	if _, err := NewBuilder(nil, eeCert, eeKey); err == nil {
		t.Fatal("Expected NewBuilder to reject a nil payload.")
	}
}

// mutateSignerInfo decodes der down to the sole SignerInfo, applies mutate, and re-encodes the full
// ContentInfo/SignedData/SignerInfo chain around the mutated value.
func mutateSignerInfo(der []byte, mutate func(*derasn1.SignerInfo)) ([]byte, error) {
	return mutateSignedData(der, func(sd *derasn1.SignedData) {
		if len(sd.RawSignerInfos) != 1 {
			return
		}
		var si derasn1.SignerInfo
		if _, err := asn1.Unmarshal(sd.RawSignerInfos[0].FullBytes, &si); err != nil {
			return
		}
		mutate(&si)
		siDER, err := asn1.Marshal(si)
		if err != nil {
			return
		}
		sd.RawSignerInfos = []asn1.RawValue{{FullBytes: siDER}}
	})
}

// mutateSignedData decodes der down to the SignedData structure, applies mutate, and re-encodes the
// ContentInfo wrapper around the mutated value. Used by tests that need to produce a message the Builder
// itself cannot: two CRLs, a foreign digest algorithm, a forged SubjectKeyIdentifier.
func mutateSignedData(der []byte, mutate func(*derasn1.SignedData)) ([]byte, error) {
	ci, err := derasn1.ParseContentInfo(der)
	if err != nil {
		return nil, err
	}
	sd, err := ci.SignedData()
	if err != nil {
		return nil, err
	}
	mutate(sd)
	sdDER, err := asn1.Marshal(*sd)
	if err != nil {
		return nil, err
	}
	out := derasn1.ContentInfo{
		ContentType: derasn1.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	}
	return asn1.Marshal(out)
}

func hasFailureKey(result *validation.Result, loc validation.Location, key string) bool {
	for _, c := range result.FailuresForLocation(loc) {
		if c.Key == key {
			return true
		}
	}
	return false
}
