// Package settings implements the EAS Settings command's Oof subcommand
// (spec.md §4.6): get/set out-of-office state, plus the DeviceInformation
// subcommand which accepts device metadata without durably storing
// anything critical.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

const StatusSuccess = "1"

const wireTimeFormat = "2006-01-02T15:04:05.000Z"

type Handler struct {
	OOF   store.OOFStore
	Codec *wbxml.Codec
}

func NewHandler(oof store.OOFStore, codec *wbxml.Codec) *Handler {
	return &Handler{OOF: oof, Codec: codec}
}

// Handle dispatches on which Settings subcommand is present in the request.
func (h *Handler) Handle(ctx context.Context, userEmail string, req *wbxml.Node) ([]byte, error) {
	if oofNode := req.Child("Oof"); oofNode != nil {
		if getNode := oofNode.Child("Get"); getNode != nil {
			return h.handleGet(ctx, userEmail)
		}
		if setNode := oofNode.Child("Set"); setNode != nil {
			return h.handleSet(ctx, userEmail, setNode)
		}
	}
	if req.Child("DeviceInformation") != nil {
		return h.encodeStatus()
	}
	return h.encodeStatus()
}

func (h *Handler) handleGet(ctx context.Context, userEmail string) ([]byte, error) {
	o, err := h.OOF.GetOOF(ctx, userEmail)
	if err != nil {
		return nil, fmt.Errorf("settings: get oof: %w", err)
	}
	if o == nil {
		o = &model.OOFSettings{UserEmail: userEmail, State: model.OOFDisabled, ExternalAudience: model.AudienceNone}
	}

	b := wbxml.NewBuilder(wbxml.PageSettings, "Settings")
	b.TextElem(wbxml.PageSettings, "Status", StatusSuccess)
	b.Elem(wbxml.PageSettings, "Oof")
	b.TextElem(wbxml.PageSettings, "Status", StatusSuccess)
	b.Elem(wbxml.PageSettings, "Get")
	b.TextElem(wbxml.PageSettings, "OofState", oofStateCode(o.State))
	if o.State == model.OOFScheduled {
		b.TextElem(wbxml.PageSettings, "StartTime", o.WindowStart.UTC().Format(wireTimeFormat))
		b.TextElem(wbxml.PageSettings, "EndTime", o.WindowEnd.UTC().Format(wireTimeFormat))
	}
	writeOofMessage(b, "1", o.InternalEnabled, o.InternalMessage)
	appliesToExternal := "2"
	if o.ExternalAudience == model.AudienceAll {
		appliesToExternal = "3"
	}
	writeOofMessage(b, appliesToExternal, o.ExternalEnabled, o.ExternalMessage)
	b.End() // Get
	b.End() // Oof
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

func writeOofMessage(b *wbxml.Builder, appliesTo string, enabled bool, message string) {
	b.Elem(wbxml.PageSettings, "OofMessage")
	switch appliesTo {
	case "1":
		b.Empty(wbxml.PageSettings, "AppliesToInternal")
	case "2":
		b.Empty(wbxml.PageSettings, "AppliesToExternalKnown")
	case "3":
		b.Empty(wbxml.PageSettings, "AppliesToExternalUnknown")
	}
	if enabled {
		b.TextElem(wbxml.PageSettings, "Enabled", "1")
	} else {
		b.TextElem(wbxml.PageSettings, "Enabled", "0")
	}
	b.TextElem(wbxml.PageSettings, "ReplyMessage", message)
	b.TextElem(wbxml.PageSettings, "BodyType", "Text")
	b.End()
}

func (h *Handler) handleSet(ctx context.Context, userEmail string, setNode *wbxml.Node) ([]byte, error) {
	o := &model.OOFSettings{UserEmail: userEmail}
	o.State = parseOofState(setNode.ChildText("OofState"))

	if st := setNode.ChildText("StartTime"); st != "" {
		if t, err := time.Parse(wireTimeFormat, st); err == nil {
			o.WindowStart = t
		}
	}
	if et := setNode.ChildText("EndTime"); et != "" {
		if t, err := time.Parse(wireTimeFormat, et); err == nil {
			o.WindowEnd = t
		}
	}

	for _, m := range setNode.Children {
		if m.Name != "OofMessage" {
			continue
		}
		enabled := m.ChildText("Enabled") == "1"
		msg := m.ChildText("ReplyMessage")
		switch {
		case m.HasChild("AppliesToInternal"):
			o.InternalEnabled = enabled
			o.InternalMessage = msg
		case m.HasChild("AppliesToExternalKnown"):
			o.ExternalEnabled = enabled
			o.ExternalMessage = msg
			if o.ExternalAudience == "" {
				o.ExternalAudience = model.AudienceKnown
			}
		case m.HasChild("AppliesToExternalUnknown"):
			o.ExternalEnabled = enabled
			if o.ExternalMessage == "" {
				o.ExternalMessage = msg
			}
			o.ExternalAudience = model.AudienceAll
		}
	}
	if o.ExternalAudience == "" {
		o.ExternalAudience = model.AudienceNone
	}

	if err := h.OOF.PutOOF(ctx, o); err != nil {
		return nil, fmt.Errorf("settings: put oof: %w", err)
	}

	b := wbxml.NewBuilder(wbxml.PageSettings, "Settings")
	b.TextElem(wbxml.PageSettings, "Status", StatusSuccess)
	b.Elem(wbxml.PageSettings, "Oof")
	b.TextElem(wbxml.PageSettings, "Status", StatusSuccess)
	b.End()
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

func (h *Handler) encodeStatus() ([]byte, error) {
	b := wbxml.NewBuilder(wbxml.PageSettings, "Settings")
	b.TextElem(wbxml.PageSettings, "Status", StatusSuccess)
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

func oofStateCode(s model.OOFState) string {
	switch s {
	case model.OOFEnabled:
		return "1"
	case model.OOFScheduled:
		return "2"
	default:
		return "0"
	}
}

func parseOofState(code string) model.OOFState {
	switch code {
	case "1":
		return model.OOFEnabled
	case "2":
		return model.OOFScheduled
	default:
		return model.OOFDisabled
	}
}
