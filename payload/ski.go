package payload

import (
	"encoding/base64"

	"github.com/ripe-ncc/rpki-provisioning/derasn1"
	"github.com/ripe-ncc/rpki-provisioning/errors"
)

// EncodeSKI renders a raw Subject Key Identifier as the URL-safe Base64 string the wire format carries in
// a <key ski="..."/> attribute.
func EncodeSKI(ski []byte) string {
	return base64.URLEncoding.EncodeToString(ski)
}

// DecodeSKI parses a wire-format ski attribute value back into raw bytes.
func DecodeSKI(s string) ([]byte, error) {
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New(errors.ErrMalformedBase64).SetExtError(err).
			AppendMessage("Failed to decode ski attribute as URL-safe Base64.")
	}
	return b, nil
}

// SKIFromPublicKey computes the wire-format ski attribute value for pub.
func SKIFromPublicKey(pub interface{}) (string, error) {
	raw, err := derasn1.SubjectKeyIdentifierFromPublicKey(pub)
	if err != nil {
		return "", err
	}
	return EncodeSKI(raw), nil
}
