package derasn1

import (
	"bytes"
	"encoding/asn1"
	"testing"

	"github.com/ripe-ncc/rpki-provisioning/test/utils"
)

func TestUnitCertificateBasicConstraints(t *testing.T) {
	ca, caKey := utils.NewCACertificate("ca")
	ee, _ := utils.NewEECertificate("ee", ca, caKey)

	if isCA, present := CertificateBasicConstraints(ca); !isCA || !present {
		t.Fatalf("expected CA certificate to report isCA=true present=true, got isCA=%v present=%v", isCA, present)
	}
	if isCA, present := CertificateBasicConstraints(ee); isCA || !present {
		t.Fatalf("expected EE certificate to report isCA=false present=true, got isCA=%v present=%v", isCA, present)
	}
	if isCA, present := CertificateBasicConstraints(nil); isCA || present {
		t.Fatal("expected nil certificate to report isCA=false present=false")
	}
}

func TestUnitCertificateSubjectKeyIdentifier(t *testing.T) {
	ca, caKey := utils.NewCACertificate("ca")
	ee, eeKey := utils.NewEECertificate("ee", ca, caKey)

	ski := CertificateSubjectKeyIdentifier(ee)
	if len(ski) == 0 {
		t.Fatal("expected EE certificate to carry a Subject Key Identifier.")
	}

	recomputed, err := SubjectKeyIdentifierFromPublicKey(&eeKey.PublicKey)
	if err != nil {
		t.Fatalf("SubjectKeyIdentifierFromPublicKey: %v", err)
	}
	if !bytes.Equal(ski, recomputed) {
		t.Fatalf("SKI in certificate (%x) does not match SKI recomputed from public key (%x)", ski, recomputed)
	}
}

func TestUnitSignedDataCertificatesAndCRLs(t *testing.T) {
	ca, caKey := utils.NewCACertificate("ca")
	ee, _ := utils.NewEECertificate("ee", ca, caKey)
	crl := utils.NewCRL(ca, caKey)

	sd := &SignedData{
		RawCertificates: []asn1.RawValue{{FullBytes: ee.Raw}},
		RawCRLs:         []asn1.RawValue{{FullBytes: crl.Raw}},
	}

	certs, err := sd.Certificates()
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certs) != 1 || certs[0].SerialNumber.Cmp(ee.SerialNumber) != 0 {
		t.Fatalf("unexpected certificates: %v", certs)
	}

	crls, err := sd.CRLs()
	if err != nil {
		t.Fatalf("CRLs: %v", err)
	}
	if len(crls) != 1 || crls[0].Number.Cmp(crl.Number) != 0 {
		t.Fatalf("unexpected CRLs: %v", crls)
	}
}
