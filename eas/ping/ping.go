// Package ping implements the EAS long-poll Ping command (spec.md §4.6):
// the handler subscribes to the change bus for the requested collections
// and suspends until either a change arrives or the heartbeat elapses,
// cancellable promptly when the transport closes (spec.md §5, §9
// "Cancellation").
package ping

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/exchangecore/excore/internal/changebus"
	"github.com/exchangecore/excore/internal/wbxml"
)

// Status codes, per spec.md §4.6.
const (
	StatusChanged          = "2"
	StatusNoChange         = "1"
	StatusInvalidFolder    = "3"
	StatusProtocolError    = "4"
	StatusServerError      = "5"
)

const (
	DefaultHeartbeat = 900 * time.Second
	MinHeartbeat     = 60 * time.Second
	MaxHeartbeat     = 3540 * time.Second
)

type folderRequest struct {
	CollectionID string
	Class        string
}

// Handler serves Ping requests against the change bus.
type Handler struct {
	Bus   *changebus.Bus
	Codec *wbxml.Codec
}

func NewHandler(bus *changebus.Bus, codec *wbxml.Codec) *Handler {
	return &Handler{Bus: bus, Codec: codec}
}

// Handle blocks until a change, the heartbeat, or ctx cancellation. A
// cancelled ctx (client disconnect) returns (nil, true, nil): callers must
// abandon the request and write nothing, per spec.md §4.6 "Client
// disconnected → abandon (no response)".
func (h *Handler) Handle(ctx context.Context, userEmail string, req *wbxml.Node) (resp []byte, abandoned bool, err error) {
	heartbeat := DefaultHeartbeat
	if hb := req.ChildText("HeartbeatInterval"); hb != "" {
		if n, perr := strconv.Atoi(hb); perr == nil {
			heartbeat = clampDuration(time.Duration(n)*time.Second, MinHeartbeat, MaxHeartbeat)
		}
	}

	var folders []folderRequest
	if foldersNode := req.Child("Folders"); foldersNode != nil {
		for _, f := range foldersNode.Children {
			if f.Name != "Folder" {
				continue
			}
			folders = append(folders, folderRequest{
				CollectionID: f.ChildText("ServerId"),
				Class:        f.ChildText("FolderType"),
			})
		}
	}
	if len(folders) == 0 {
		return h.encode(StatusProtocolError, nil), false, nil
	}

	collectionIDs := make([]string, len(folders))
	for i, f := range folders {
		collectionIDs[i] = f.CollectionID
	}

	hbCtx, cancel := context.WithTimeout(ctx, heartbeat)
	defer cancel()

	changed, suberr := h.Bus.Subscribe(hbCtx, userEmail, collectionIDs)
	if suberr != nil {
		return nil, false, fmt.Errorf("ping: subscribe: %w", suberr)
	}

	if ctx.Err() != nil {
		// The caller's request context (not just our heartbeat timeout)
		// is what ended the wait: the transport closed.
		return nil, true, nil
	}

	if len(changed) > 0 {
		return h.encode(StatusChanged, changed), false, nil
	}
	return h.encode(StatusNoChange, nil), false, nil
}

func (h *Handler) encode(status string, changed []string) []byte {
	b := wbxml.NewBuilder(wbxml.PagePing, "Ping")
	b.TextElem(wbxml.PagePing, "Status", status)
	if len(changed) > 0 {
		b.Elem(wbxml.PagePing, "Folders")
		for _, cid := range changed {
			b.Elem(wbxml.PagePing, "Folder").Text(cid).End()
		}
		b.End()
	}
	out, err := wbxml.EncodeBytes(b.Node(), h.Codec)
	if err != nil {
		// Encoding a handful of decimal strings cannot fail under the
		// codec's own contract; treat as unreachable.
		return nil
	}
	return out
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
