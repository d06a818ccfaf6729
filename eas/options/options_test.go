package options

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleWritesAdvertisementHeadersAndOKStatus(t *testing.T) {
	w := httptest.NewRecorder()
	Handle(w)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, ProtocolVersions, w.Header().Get("MS-ASProtocolVersions"))
	require.Equal(t, Commands, w.Header().Get("MS-ASProtocolCommands"))
	require.Equal(t, ServerVersion, w.Header().Get("MS-Server-ActiveSync"))
}
