// Package foldersync implements the FolderSync command (spec.md §4.6): a
// static per-user folder hierarchy with its own sync-key counter, separate
// from the per-collection Sync state machine.
package foldersync

import (
	"context"
	"fmt"

	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

const (
	StatusSuccess = "1"
)

// folderTypes maps a collection class to the MS-ASFOLDER "Type" code; 2 is
// the well-known Inbox type, 12 a generic email folder.
var folderTypes = map[model.CollectionClass]string{
	model.ClassEmail:    "2",
	model.ClassCalendar: "8",
	model.ClassContacts: "9",
	model.ClassTasks:    "7",
	model.ClassNotes:    "10",
}

type Handler struct {
	Collections store.CollectionStore
	FolderSync  store.FolderSyncStore
	Codec       *wbxml.Codec
}

func NewHandler(collections store.CollectionStore, folderSync store.FolderSyncStore, codec *wbxml.Codec) *Handler {
	return &Handler{Collections: collections, FolderSync: folderSync, Codec: codec}
}

// Handle returns the full hierarchy whenever client_key=="0" (even if the
// server's counter is ahead — spec.md §4.6 "recovers devices whose local
// state has been lost"), otherwise an idempotent echo of the current
// counter with an empty Changes set.
func (h *Handler) Handle(ctx context.Context, userEmail, deviceID, clientKey string) ([]byte, error) {
	if err := h.Collections.EnsureDefaultHierarchy(ctx, userEmail); err != nil {
		return nil, fmt.Errorf("foldersync: ensure hierarchy: %w", err)
	}

	st, err := h.FolderSync.GetFolderSyncState(ctx, userEmail, deviceID)
	if err != nil {
		return nil, fmt.Errorf("foldersync: get state: %w", err)
	}
	if st == nil {
		st = &model.FolderSyncState{UserEmail: userEmail, DeviceID: deviceID, SyncKey: 0}
	}

	if clientKey == "0" {
		st.SyncKey = 1
		if err := h.FolderSync.PutFolderSyncState(ctx, st); err != nil {
			return nil, fmt.Errorf("foldersync: put state: %w", err)
		}
		cols, err := h.Collections.ListCollections(ctx, userEmail)
		if err != nil {
			return nil, fmt.Errorf("foldersync: list collections: %w", err)
		}
		return h.encode(st.SyncKey, cols)
	}

	// Any non-"0" key is an idempotent poll: the hierarchy is static once
	// seeded, so we simply echo the current counter with no changes.
	return h.encode(st.SyncKey, nil)
}

func (h *Handler) encode(syncKey int, cols []model.Collection) ([]byte, error) {
	b := wbxml.NewBuilder(wbxml.PageFolderHierarchy, "FolderSync")
	b.TextElem(wbxml.PageFolderHierarchy, "Status", StatusSuccess)
	b.TextElem(wbxml.PageFolderHierarchy, "SyncKey", fmt.Sprintf("%d", syncKey))
	b.Elem(wbxml.PageFolderHierarchy, "Changes")
	b.TextElem(wbxml.PageFolderHierarchy, "Count", fmt.Sprintf("%d", len(cols)))
	for _, c := range cols {
		b.Elem(wbxml.PageFolderHierarchy, "Add")
		b.TextElem(wbxml.PageFolderHierarchy, "ServerId", c.CollectionID)
		b.TextElem(wbxml.PageFolderHierarchy, "ParentId", c.ParentID)
		b.TextElem(wbxml.PageFolderHierarchy, "DisplayName", c.DisplayName)
		b.TextElem(wbxml.PageFolderHierarchy, "Type", folderType(c.Class))
		b.End()
	}
	b.End() // Changes
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

func folderType(class model.CollectionClass) string {
	if t, ok := folderTypes[class]; ok {
		return t
	}
	return "12"
}
