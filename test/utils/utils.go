// Package utils implements fixture helpers shared across the provisioning library's test suites.
//
// Certificate and CRL construction live here, never in the library itself: the core explicitly treats
// X.509 certificate construction as an external collaborator's concern (see SPEC_FULL.md section 1), so
// these helpers exist only to hand the CMS parser and builder tests something realistic to chew on.
package utils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SKI computation is defined over SHA-1, not a security boundary here.
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"time"
)

// StringToBin decodes a hex string into bytes, panicking on malformed input. Intended for literal test
// fixtures only.
func StringToBin(s string) []byte {
	if s == "" {
		panic("String is empty!")
	}
	h, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return h
}

// GenerateRSAKey returns a freshly generated RSA private key of the given bit size, panicking on failure.
// Intended for test fixtures only -- the library never generates key material itself.
func GenerateRSAKey(bits int) *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		panic(err)
	}
	return key
}

func ski(pub *rsa.PublicKey) []byte {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		panic(err)
	}
	sum := sha1.Sum(der) //nolint:gosec // SKI is defined as SHA-1 over the SubjectPublicKeyInfo DER encoding.
	return sum[:]
}

// NewCACertificate builds a throwaway self-signed CA certificate and returns it alongside its private key.
func NewCACertificate(cn string) (*x509.Certificate, *rsa.PrivateKey) {
	key := GenerateRSAKey(2048)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		IsCA:         true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		SubjectKeyId:          ski(&key.PublicKey),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return cert, key
}

// NewEECertificate builds a throwaway single-use end-entity certificate signed by the given CA, with Basic
// Constraints cA=false and a Subject Key Identifier set from the EE public key.
func NewEECertificate(cn string, ca *x509.Certificate, caKey *rsa.PrivateKey) (*x509.Certificate, *rsa.PrivateKey) {
	key := GenerateRSAKey(2048)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  false,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		SubjectKeyId:          ski(&key.PublicKey),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca, &key.PublicKey, caKey)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return cert, key
}

// NewCRL builds an empty, throwaway CRL issued by the given CA, valid for an hour.
func NewCRL(ca *x509.Certificate, caKey *rsa.PrivateKey) *x509.RevocationList {
	tmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Minute),
		NextUpdate: time.Now().Add(time.Hour),
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca, caKey)
	if err != nil {
		panic(err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		panic(err)
	}
	return crl
}
