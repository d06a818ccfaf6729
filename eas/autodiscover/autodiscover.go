// Package autodiscover implements the Autodiscover XML and JSON responders
// (spec.md §4.6): the XML responder switches output schema by substring
// matching the request's <AcceptableResponseSchema>, the JSON variant is
// assembled with tidwall/sjson rather than encoding/json struct marshaling
// since the response is a single flat two-field object built from
// config-derived strings (see SPEC_FULL.md §4.6).
package autodiscover

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// requestEnvelope is the minimal shape needed to read the client's email
// address and requested schema out of an Autodiscover POST body.
type requestEnvelope struct {
	XMLName xml.Name `xml:"Autodiscover"`
	Request struct {
		EMailAddress            string `xml:"EMailAddress"`
		AcceptableResponseSchema string `xml:"AcceptableResponseSchema"`
	} `xml:"Request"`
}

// ParseRequest extracts the email address and requested schema from body.
func ParseRequest(body []byte) (email, schema string, err error) {
	var env requestEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", "", fmt.Errorf("autodiscover: parse request: %w", err)
	}
	return env.Request.EMailAddress, env.Request.AcceptableResponseSchema, nil
}

// Config carries the server identity values Autodiscover responses embed.
type Config struct {
	HostName string // e.g. "mail.example.com"
}

// BuildXMLResponse selects the MobileSync or Outlook response schema by
// substring-matching schema, per spec.md §4.6.
func (c Config) BuildXMLResponse(email, schema string) []byte {
	if strings.Contains(strings.ToLower(schema), "mobilesync") {
		return c.mobileSyncResponse(email)
	}
	return c.outlookResponse(email)
}

func (c Config) mobileSyncResponse(email string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/responseschema/2006">
  <Response xmlns="http://schemas.microsoft.com/exchange/autodiscover/mobilesync/responseschema/2006">
    <User>
      <EMailAddress>%s</EMailAddress>
    </User>
    <Action>
      <Settings>
        <Server>
          <Type>MobileSync</Type>
          <Url>https://%s/Microsoft-Server-ActiveSync</Url>
          <Name>https://%s/Microsoft-Server-ActiveSync</Name>
        </Server>
      </Settings>
    </Action>
  </Response>
</Autodiscover>`, xmlEscape(email), c.HostName, c.HostName))
}

func (c Config) outlookResponse(email string) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/responseschema/2006">
  <Response xmlns="http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a">
    <User>
      <EMailAddress>%s</EMailAddress>
    </User>
    <Account>
      <AccountType>email</AccountType>
      <Action>settings</Action>
      <Protocol>
        <Type>EXHTTP</Type>
        <AuthPackage>Basic</AuthPackage>
        <SSL>On</SSL>
        <MailStore>
          <InternalUrl>https://%s/mapi/emsmdb</InternalUrl>
        </MailStore>
      </Protocol>
      <Protocol>
        <Type>WEB</Type>
        <Internal>
          <OWAUrl AuthenticationMethod="Basic">https://%s/owa</OWAUrl>
        </Internal>
      </Protocol>
      <Protocol>
        <Type>MobileSync</Type>
        <Url>https://%s/Microsoft-Server-ActiveSync</Url>
        <AuthPackage>Basic</AuthPackage>
      </Protocol>
    </Account>
  </Response>
</Autodiscover>`, xmlEscape(email), c.HostName, c.HostName, c.HostName))
}

// BuildJSONResponse implements the modern Outlook JSON variant: GET
// /autodiscover/autodiscover.json/v1.0/{email}.
func (c Config) BuildJSONResponse(email string) ([]byte, error) {
	doc := "{}"
	doc, err := sjson.Set(doc, "Protocol", "ActiveSync")
	if err != nil {
		return nil, fmt.Errorf("autodiscover: build json: %w", err)
	}
	doc, err = sjson.Set(doc, "Url", fmt.Sprintf("https://%s/Microsoft-Server-ActiveSync", c.HostName))
	if err != nil {
		return nil, fmt.Errorf("autodiscover: build json: %w", err)
	}
	return []byte(doc), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
