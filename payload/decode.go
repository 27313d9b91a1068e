package payload

import (
	"encoding/base64"
	"encoding/xml"
	"strconv"

	"github.com/ripe-ncc/rpki-provisioning/errors"
)

// xmlLangSpace is the namespace of the built-in xml: prefix, which every XML processor recognizes without
// an explicit declaration.
const xmlLangSpace = "http://www.w3.org/XML/1998/namespace"

// DecodeError wraps a *errors.ProvisioningError with the validation key the distilled spec assigns to the
// failure (e.g. "payload.version", "payload.type.unknown"), so the cms package can record it under that
// key in its Validation Accumulator instead of a generic "cms.content.parsing" catch-all.
type DecodeError struct {
	*errors.ProvisioningError
	Key string
}

func decodeErr(code errors.ErrorCode, key, msg string) *DecodeError {
	return &DecodeError{ProvisioningError: errors.New(code).AppendMessage(msg), Key: key}
}

// rawElem is a namespace-aware generic XML element tree, used to implement the structural validator (closed
// element/attribute set per payload variant, namespace checks) against the decoded document rather than
// through a RELAX NG processor -- see DESIGN.md for why no such processor exists anywhere in the retrieved
// example pack.
type rawElem struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Chardata string     `xml:",chardata"`
	Children []rawElem  `xml:",any"`
}

// Decode parses the canonical up-down XML wire format into the matching Payload variant.
func Decode(data []byte) (Payload, error) {
	var root rawElem
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, decodeErr(errors.ErrInvalidFormat, "payload.xml.malformed", "Failed to parse XML document: "+err.Error())
	}
	if root.XMLName != xmlName("message") {
		return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
			"Root element must be <message> in the up-down namespace.")
	}
	if err := rejectForeignAttrs(root.Attrs, nil); err != nil {
		return nil, err
	}

	version, ok := attrVal(root.Attrs, "version")
	if !ok {
		return nil, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "Missing required attribute: version.")
	}
	if version != "1" {
		return nil, decodeErr(errors.ErrSchemaValidation, "payload.version", "Unsupported protocol version: "+version)
	}

	typeStr, ok := attrVal(root.Attrs, "type")
	if !ok {
		return nil, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "Missing required attribute: type.")
	}
	msgType := MessageType(typeStr)
	if !msgType.valid() {
		return nil, decodeErr(errors.ErrUnknownPayloadType, "payload.type.unknown", "Unknown payload type: "+typeStr)
	}

	recipient, _ := attrVal(root.Attrs, "recipient")
	sender, _ := attrVal(root.Attrs, "sender")
	hdr := Header{Recipient: recipient, Sender: sender, Type: msgType}

	if err := requireClosedAttrSet(root.Attrs, map[string]bool{"recipient": true, "sender": true, "type": true, "version": true}, "message"); err != nil {
		return nil, err
	}

	switch msgType {
	case TypeList:
		if len(root.Children) != 0 {
			return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed", "list request must not carry a body.")
		}
		return &List{Hdr: hdr}, nil
	case TypeListResponse, TypeIssueResponse:
		class, err := findExactlyOneChild(root.Children, "class")
		if err != nil {
			return nil, err
		}
		rc, err := decodeResourceClass(*class)
		if err != nil {
			return nil, err
		}
		if msgType == TypeListResponse {
			return &ListResponse{Hdr: hdr, Class: rc}, nil
		}
		return &IssueResponse{Hdr: hdr, Class: rc}, nil
	case TypeIssue:
		reqElem, err := findExactlyOneChild(root.Children, "request")
		if err != nil {
			return nil, err
		}
		req, err := decodeRequest(*reqElem)
		if err != nil {
			return nil, err
		}
		return &Issue{Hdr: hdr, Request: req}, nil
	case TypeRevoke, TypeRevokeResponse:
		keyElem, err := findExactlyOneChild(root.Children, "key")
		if err != nil {
			return nil, err
		}
		key, err := decodeKey(*keyElem)
		if err != nil {
			return nil, err
		}
		return &Revoke{Hdr: hdr, Key: key}, nil
	case TypeErrorResponse:
		return decodeErrorResponse(hdr, root.Children)
	}
	return nil, decodeErr(errors.ErrUnknownPayloadType, "payload.type.unknown", "Unknown payload type: "+typeStr)
}

func decodeResourceClass(e rawElem) (ResourceClass, error) {
	if err := requireClosedAttrSet(e.Attrs, map[string]bool{
		"class_name": true, "cert_url": true, "resource_set_as": true, "resource_set_ipv4": true,
		"resource_set_ipv6": true, "resource_set_notafter": true, "suggested_sia_head": true,
	}, "class"); err != nil {
		return ResourceClass{}, err
	}
	className, ok := attrVal(e.Attrs, "class_name")
	if !ok {
		return ResourceClass{}, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "class is missing class_name.")
	}
	certURLs, _ := attrVal(e.Attrs, "cert_url")
	notAfter, _ := attrVal(e.Attrs, "resource_set_notafter")
	siaHead, _ := attrVal(e.Attrs, "suggested_sia_head")

	rc := ResourceClass{
		ClassName:           className,
		ResourceSetNotAfter: notAfter,
		SuggestedSIAHead:    siaHead,
	}
	if certURLs != "" {
		rc.CertURLs = splitComma(certURLs)
	}
	if v, ok := attrVal(e.Attrs, "resource_set_as"); ok {
		rc.ResourceSetAS = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "resource_set_ipv4"); ok {
		rc.ResourceSetIPv4 = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "resource_set_ipv6"); ok {
		rc.ResourceSetIPv6 = ParseResourceSet(v)
	}
	for _, child := range e.Children {
		if child.XMLName != xmlName("certificate") {
			return ResourceClass{}, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
				"class must only contain certificate children.")
		}
		cert, err := decodeCertificate(child)
		if err != nil {
			return ResourceClass{}, err
		}
		rc.Certificates = append(rc.Certificates, cert)
	}
	return rc, nil
}

func decodeCertificate(e rawElem) (IssuedCertificate, error) {
	if err := requireClosedAttrSet(e.Attrs, map[string]bool{
		"cert_url": true, "req_resource_set_as": true, "req_resource_set_ipv4": true, "req_resource_set_ipv6": true,
	}, "certificate"); err != nil {
		return IssuedCertificate{}, err
	}
	certURL, ok := attrVal(e.Attrs, "cert_url")
	if !ok {
		return IssuedCertificate{}, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "certificate is missing cert_url.")
	}
	body, err := decodeBase64(e.Chardata)
	if err != nil {
		return IssuedCertificate{}, err
	}
	c := IssuedCertificate{CertURL: certURL, Body: body}
	if v, ok := attrVal(e.Attrs, "req_resource_set_as"); ok {
		c.ReqResourceSetAS = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "req_resource_set_ipv4"); ok {
		c.ReqResourceSetIPv4 = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "req_resource_set_ipv6"); ok {
		c.ReqResourceSetIPv6 = ParseResourceSet(v)
	}
	return c, nil
}

func decodeRequest(e rawElem) (Request, error) {
	if err := requireClosedAttrSet(e.Attrs, map[string]bool{
		"class_name": true, "req_resource_set_as": true, "req_resource_set_ipv4": true, "req_resource_set_ipv6": true,
	}, "request"); err != nil {
		return Request{}, err
	}
	className, ok := attrVal(e.Attrs, "class_name")
	if !ok {
		return Request{}, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "request is missing class_name.")
	}
	body, err := decodeBase64(e.Chardata)
	if err != nil {
		return Request{}, err
	}
	r := Request{ClassName: className, Body: body}
	if v, ok := attrVal(e.Attrs, "req_resource_set_as"); ok {
		r.ReqResourceSetAS = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "req_resource_set_ipv4"); ok {
		r.ReqResourceSetIPv4 = ParseResourceSet(v)
	}
	if v, ok := attrVal(e.Attrs, "req_resource_set_ipv6"); ok {
		r.ReqResourceSetIPv6 = ParseResourceSet(v)
	}
	return r, nil
}

func decodeKey(e rawElem) (Key, error) {
	if err := requireClosedAttrSet(e.Attrs, map[string]bool{"class_name": true, "ski": true}, "key"); err != nil {
		return Key{}, err
	}
	className, ok := attrVal(e.Attrs, "class_name")
	if !ok {
		return Key{}, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "key is missing class_name.")
	}
	ski, ok := attrVal(e.Attrs, "ski")
	if !ok {
		return Key{}, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "key is missing ski.")
	}
	return Key{ClassName: className, SKI: ski}, nil
}

func decodeErrorResponse(hdr Header, children []rawElem) (*ErrorResponse, error) {
	resp := &ErrorResponse{Hdr: hdr}
	sawStatus := false
	for _, child := range children {
		switch child.XMLName {
		case xmlName("status"):
			if sawStatus {
				return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed", "error_response must carry exactly one status.")
			}
			sawStatus = true
			status, err := strconv.Atoi(child.Chardata)
			if err != nil {
				return nil, decodeErr(errors.ErrInvalidFormat, "payload.xml.malformed", "status is not a valid integer.")
			}
			resp.Status = status
		case xmlName("description"):
			lang := ""
			for _, a := range child.Attrs {
				if a.Name.Space == xmlLangSpace && a.Name.Local == "lang" {
					lang = a.Value
					continue
				}
				return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed", "description carries an unexpected attribute: "+a.Name.Local)
			}
			resp.Descriptions = append(resp.Descriptions, Description{Lang: lang, Text: child.Chardata})
		default:
			return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed", "error_response contains an unexpected element: "+child.XMLName.Local)
		}
	}
	if !sawStatus {
		return nil, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed", "error_response is missing status.")
	}
	return resp, nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, decodeErr(errors.ErrMalformedBase64, "payload.xml.malformed", "Failed to decode Base64 body: "+err.Error())
	}
	return b, nil
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func attrVal(attrs []xml.Attr, local string) (string, bool) {
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// rejectForeignAttrs fails if any attribute carries a namespace not in allowedExtra (every current caller
// passes nil; description elements check their xml:lang attribute in decodeErrorResponse instead).
func rejectForeignAttrs(attrs []xml.Attr, allowedExtra map[string]bool) error {
	for _, a := range attrs {
		if a.Name.Space == "" {
			continue
		}
		if allowedExtra != nil && allowedExtra[a.Name.Space] {
			continue
		}
		return decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
			"Attribute not permitted in this namespace: "+a.Name.Local)
	}
	return nil
}

// requireClosedAttrSet fails if attrs carries any unprefixed attribute not in allowed, or any attribute at
// all outside the up-down namespace's "no namespace" convention for plain attributes. A default namespace
// declaration (xmlns="...") is not an attribute of the element and is skipped; the element's own name
// check decides whether that namespace is the right one.
func requireClosedAttrSet(attrs []xml.Attr, allowed map[string]bool, elementDesc string) error {
	if err := rejectForeignAttrs(attrs, nil); err != nil {
		return err
	}
	for _, a := range attrs {
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			continue
		}
		if !allowed[a.Name.Local] {
			return decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
				elementDesc+" carries an unexpected attribute: "+a.Name.Local)
		}
	}
	return nil
}

func findExactlyOneChild(children []rawElem, local string) (*rawElem, error) {
	var found *rawElem
	for i := range children {
		if children[i].XMLName != xmlName(local) {
			return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
				"Unexpected element where <"+local+"> was expected: "+children[i].XMLName.Local)
		}
		if found != nil {
			return nil, decodeErr(errors.ErrSchemaValidation, "payload.xml.malformed",
				"Expected exactly one <"+local+"> element.")
		}
		found = &children[i]
	}
	if found == nil {
		return nil, decodeErr(errors.ErrMissingRequiredAttribute, "payload.xml.malformed",
			"Missing required element: <"+local+">.")
	}
	return found, nil
}
