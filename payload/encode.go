package payload

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/ripe-ncc/rpki-provisioning/errors"
)

const xmlProlog = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Encode renders p as the canonical up-down XML wire format: alphabetical root attributes, one element
// per line indented three spaces per nesting level, Base64 bodies with no line wrapping, sorted comma-separated
// resource sets, trailing newline. Encode never produces off-schema output -- the writer only emits shapes
// a Payload value can represent, so there is no separate post-encode schema validation pass.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New(errors.ErrInvalidArgument)
	}
	hdr := p.Header()

	var body strings.Builder
	switch v := p.(type) {
	case *List:
		// no body
	case *ListResponse:
		writeResourceClass(&body, v.Class)
	case *Issue:
		writeRequest(&body, v.Request)
	case *IssueResponse:
		writeResourceClass(&body, v.Class)
	case *Revoke:
		writeKey(&body, v.Key)
	case *ErrorResponse:
		writeErrorBody(&body, *v)
	default:
		return nil, errors.New(errors.ErrInvalidArgument).AppendMessage("Unknown Payload implementation.")
	}

	var out strings.Builder
	out.WriteString(xmlProlog)
	fmt.Fprintf(&out, `<message xmlns="%s" recipient="%s" sender="%s" type="%s" version="1"`,
		escapeAttr(Namespace), escapeAttr(hdr.Recipient), escapeAttr(hdr.Sender), escapeAttr(string(p.Type())))
	if body.Len() == 0 {
		out.WriteString("/>\n")
		return []byte(out.String()), nil
	}
	out.WriteString(">\n")
	out.WriteString(body.String())
	out.WriteString("</message>\n")
	return []byte(out.String()), nil
}

func writeResourceClass(b *strings.Builder, rc ResourceClass) {
	fmt.Fprintf(b, `   <class class_name="%s"`, escapeAttr(rc.ClassName))
	if len(rc.CertURLs) > 0 {
		fmt.Fprintf(b, ` cert_url="%s"`, escapeAttr(strings.Join(rc.CertURLs, ",")))
	}
	writeResourceSetAttr(b, "resource_set_as", rc.ResourceSetAS)
	writeResourceSetAttr(b, "resource_set_ipv4", rc.ResourceSetIPv4)
	writeResourceSetAttr(b, "resource_set_ipv6", rc.ResourceSetIPv6)
	if rc.ResourceSetNotAfter != "" {
		fmt.Fprintf(b, ` resource_set_notafter="%s"`, escapeAttr(rc.ResourceSetNotAfter))
	}
	if rc.SuggestedSIAHead != "" {
		fmt.Fprintf(b, ` suggested_sia_head="%s"`, escapeAttr(rc.SuggestedSIAHead))
	}
	if len(rc.Certificates) == 0 {
		b.WriteString("/>\n")
		return
	}
	b.WriteString(">\n")
	for _, cert := range rc.Certificates {
		writeCertificate(b, cert)
	}
	b.WriteString("   </class>\n")
}

func writeCertificate(b *strings.Builder, c IssuedCertificate) {
	fmt.Fprintf(b, `      <certificate cert_url="%s"`, escapeAttr(c.CertURL))
	writeResourceSetAttr(b, "req_resource_set_as", c.ReqResourceSetAS)
	writeResourceSetAttr(b, "req_resource_set_ipv4", c.ReqResourceSetIPv4)
	writeResourceSetAttr(b, "req_resource_set_ipv6", c.ReqResourceSetIPv6)
	b.WriteString(">")
	b.WriteString(base64.StdEncoding.EncodeToString(c.Body))
	b.WriteString("</certificate>\n")
}

func writeRequest(b *strings.Builder, r Request) {
	fmt.Fprintf(b, `   <request class_name="%s"`, escapeAttr(r.ClassName))
	writeResourceSetAttr(b, "req_resource_set_as", r.ReqResourceSetAS)
	writeResourceSetAttr(b, "req_resource_set_ipv4", r.ReqResourceSetIPv4)
	writeResourceSetAttr(b, "req_resource_set_ipv6", r.ReqResourceSetIPv6)
	b.WriteString(">")
	b.WriteString(base64.StdEncoding.EncodeToString(r.Body))
	b.WriteString("</request>\n")
}

func writeKey(b *strings.Builder, k Key) {
	fmt.Fprintf(b, `   <key class_name="%s" ski="%s"/>`+"\n", escapeAttr(k.ClassName), escapeAttr(k.SKI))
}

func writeErrorBody(b *strings.Builder, e ErrorResponse) {
	fmt.Fprintf(b, "   <status>%s</status>\n", strconv.Itoa(e.Status))
	for _, d := range e.Descriptions {
		if d.Lang == "" {
			fmt.Fprintf(b, "   <description>%s</description>\n", escapeText(d.Text))
		} else {
			fmt.Fprintf(b, `   <description xml:lang="%s">%s</description>`+"\n", escapeAttr(d.Lang), escapeText(d.Text))
		}
	}
}

func writeResourceSetAttr(b *strings.Builder, name string, rs ResourceSet) {
	if len(rs) == 0 {
		return
	}
	fmt.Fprintf(b, ` %s="%s"`, name, escapeAttr(rs.String()))
}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")
var textEscaper = strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
func escapeText(s string) string { return textEscaper.Replace(s) }
