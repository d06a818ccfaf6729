// Package options implements the EAS Options command (spec.md §4.6): a
// headers-only response advertising the protocol version and the command
// list EAS clients probe for.
package options

import "net/http"

const (
	ProtocolVersions = "14.1"
	ServerVersion    = "14.1"
)

// Commands is the server's MS-ASProtocolCommands list. Of these, the router
// dispatches Sync, FolderSync, Provision, Options, Ping and Settings;
// ItemOperations, GetItemEstimate, SendMail, SmartForward and SmartReply are
// answered with HTTP 501.
const Commands = "Sync,FolderSync,Provision,Options,Ping,ItemOperations,GetItemEstimate,SendMail,SmartForward,SmartReply,Settings"

// WriteHeaders sets the three advertisement headers EAS clients probe for
// via OPTIONS, per spec.md §4.6 and §6.
func WriteHeaders(w http.ResponseWriter) {
	w.Header().Set("MS-ASProtocolVersions", ProtocolVersions)
	w.Header().Set("MS-ASProtocolCommands", Commands)
	w.Header().Set("MS-Server-ActiveSync", ServerVersion)
}

// Handle requires prior authentication (enforced by the router middleware
// chain) and writes a headers-only 200 response with no body.
func Handle(w http.ResponseWriter) {
	WriteHeaders(w)
	w.WriteHeader(http.StatusOK)
}
