package autodiscover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const mobileSyncRequest = `<?xml version="1.0" encoding="utf-8"?>
<Autodiscover xmlns="http://schemas.microsoft.com/exchange/autodiscover/requestschema/2006">
  <Request>
    <EMailAddress>a@example.com</EMailAddress>
    <AcceptableResponseSchema>http://schemas.microsoft.com/exchange/autodiscover/mobilesync/responseschema/2006</AcceptableResponseSchema>
  </Request>
</Autodiscover>`

func TestParseRequestExtractsEmailAndSchema(t *testing.T) {
	email, schema, err := ParseRequest([]byte(mobileSyncRequest))
	require.NoError(t, err)
	require.Equal(t, "a@example.com", email)
	require.Contains(t, schema, "mobilesync")
}

func TestBuildXMLResponseSelectsMobileSyncSchema(t *testing.T) {
	cfg := Config{HostName: "mail.example.com"}
	out := cfg.BuildXMLResponse("a@example.com", "http://schemas.microsoft.com/exchange/autodiscover/mobilesync/responseschema/2006")
	require.Contains(t, string(out), "mobilesync/responseschema")
	require.Contains(t, string(out), "https://mail.example.com/Microsoft-Server-ActiveSync")
	require.Contains(t, string(out), "a@example.com")
}

func TestBuildXMLResponseFallsBackToOutlookSchema(t *testing.T) {
	cfg := Config{HostName: "mail.example.com"}
	out := cfg.BuildXMLResponse("a@example.com", "http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a")
	require.Contains(t, string(out), "outlook/responseschema")
	require.Contains(t, string(out), "AccountType")
}

func TestBuildXMLResponseEscapesEmail(t *testing.T) {
	cfg := Config{HostName: "mail.example.com"}
	out := cfg.BuildXMLResponse(`a&b@example.com`, "mobilesync")
	require.Contains(t, string(out), "a&amp;b@example.com")
}

func TestBuildJSONResponseContainsProtocolAndURL(t *testing.T) {
	cfg := Config{HostName: "mail.example.com"}
	out, err := cfg.BuildJSONResponse("a@example.com")
	require.NoError(t, err)
	require.Contains(t, string(out), `"Protocol":"ActiveSync"`)
	require.Contains(t, string(out), "https://mail.example.com/Microsoft-Server-ActiveSync")
}
