package sync

import (
	"context"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/exchangecore/excore/eas/strategy"
	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

// Collection-level status codes, per spec.md §4.3.
const (
	StatusSuccess        = "1"
	StatusInvalidSyncKey = "3"
	StatusProtocolError  = "4"
	StatusServerError    = "5"
)

// bodyPreference is one parsed <BodyPreference> entry from the request.
type bodyPreference struct {
	Type            strategy.BodyType
	TruncationSize  int
	HasTruncation   bool
}

// collectionRequest is the parsed per-<Collection> slice of an incoming
// <Sync> request, per spec.md §4.3 "Request parsing".
type collectionRequest struct {
	CollectionID    string
	ClientKey       string
	WindowSize      int
	BodyPreferences []bodyPreference
}

// Handler wires the state machine to the mail store and WBXML codec to
// implement the Sync command end to end.
type Handler struct {
	Mail    store.MailStore
	Manager *Manager
	Codec   *wbxml.Codec
}

func NewHandler(mail store.MailStore, mgr *Manager, codec *wbxml.Codec) *Handler {
	return &Handler{Mail: mail, Manager: mgr, Codec: codec}
}

// Handle processes a parsed <Sync> request for one device and returns the
// encoded WBXML response. Each collection's failure is isolated into its
// own <Status>; only a structurally malformed envelope returns an error
// here (spec.md §7 "Propagation policy").
func (h *Handler) Handle(ctx context.Context, userEmail, deviceID string, strat strategy.Strategy, req *wbxml.Node) ([]byte, error) {
	collectionsNode := req.Child("Collections")
	if collectionsNode == nil {
		return nil, fmt.Errorf("sync: request missing Collections")
	}

	root := wbxml.NewBuilder(wbxml.PageAirSync, "Sync")
	root.Elem(wbxml.PageAirSync, "Status").Text(StatusSuccess).End()
	root.Elem(wbxml.PageAirSync, "Collections")

	for _, colNode := range collectionsNode.Children {
		if colNode.Name != "Collection" {
			continue
		}
		cr := parseCollectionRequest(colNode, strat)
		h.handleOneCollection(ctx, userEmail, deviceID, strat, cr, root)
	}

	root.End() // Collections

	return wbxml.EncodeBytes(root.Node(), h.Codec)
}

func parseCollectionRequest(colNode *wbxml.Node, strat strategy.Strategy) collectionRequest {
	cr := collectionRequest{
		CollectionID: colNode.ChildText("CollectionId"),
		ClientKey:    colNode.ChildText("SyncKey"),
		WindowSize:   strat.DefaultWindowSize(),
	}
	if ws := colNode.ChildText("WindowSize"); ws != "" {
		if n, err := strconv.Atoi(ws); err == nil {
			cr.WindowSize = clamp(n, 1, strat.MaxWindowSize())
		}
	}
	if opts := colNode.Child("Options"); opts != nil {
		for _, bp := range opts.Children {
			if bp.Name != "BodyPreference" {
				continue
			}
			pref := bodyPreference{}
			if t := bp.ChildText("Type"); t != "" {
				if n, err := strconv.Atoi(t); err == nil {
					pref.Type = strategy.BodyType(n)
				}
			}
			if ts := bp.ChildText("TruncationSize"); ts != "" {
				if n, err := strconv.Atoi(ts); err == nil {
					pref.TruncationSize = n
					pref.HasTruncation = true
				}
			}
			cr.BodyPreferences = append(cr.BodyPreferences, pref)
		}
	}
	return cr
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (h *Handler) handleOneCollection(ctx context.Context, userEmail, deviceID string, strat strategy.Strategy, cr collectionRequest, root *wbxml.Builder) {
	k := Key{UserEmail: userEmail, DeviceID: deviceID, CollectionID: cr.CollectionID}

	outcome, st, release, err := h.Manager.Advance(ctx, k, cr.ClientKey)
	if err != nil {
		log.WithError(err).WithField("collection_id", cr.CollectionID).Error("sync: advance failed")
		h.writeCollectionStatus(root, cr.CollectionID, st, StatusServerError, false, nil)
		return
	}
	defer release()

	// Outlook (and any dialect that needs an empty initial response, per
	// spec.md §4.2 step 1 / §4.4) must see SyncKey=1 with no <Commands> on
	// the very first response; real mail only flows once the client ACKs
	// with key "1". Resync/ACK batches are never forced empty.
	forceEmpty := outcome == OutcomeBuildBatch && cr.ClientKey == "0" && strat.NeedsEmptyInitialResponse()

	switch outcome {
	case OutcomeResend:
		// st.PendingBytes encodes a <Collections> wrapper around exactly one
		// cached <Collection> node (see buildAndCommitBatch); splice that
		// node directly under the live <Collections> root rather than
		// wrapping it in a second <Collection> element.
		if decoded, derr := wbxml.DecodeBytes(st.PendingBytes, h.Codec, len(st.PendingBytes)+4096); derr == nil {
			root.Top().Children = append(root.Top().Children, decoded.Children...)
		} else {
			log.WithError(derr).WithField("collection_id", cr.CollectionID).Error("sync: decode cached batch failed")
			h.writeCollectionStatus(root, cr.CollectionID, st, StatusServerError, false, nil)
		}
		return

	case OutcomeInvalidKey:
		h.writeCollectionStatus(root, cr.CollectionID, st, StatusInvalidSyncKey, false, nil)
		return

	case OutcomeBuildBatch:
		h.buildAndCommitBatch(ctx, k, st, cr, strat, root, forceEmpty)
		return
	}
}

func (h *Handler) buildAndCommitBatch(ctx context.Context, k Key, st *model.SyncState, cr collectionRequest, strat strategy.Strategy, root *wbxml.Builder, forceEmpty bool) {
	var emails []model.Email
	var moreAvailable bool
	var err error
	if !forceEmpty {
		emails, moreAvailable, err = h.selectBatch(ctx, k.UserEmail, cr.CollectionID, st.Cursor, cr.WindowSize, strat)
		if err != nil {
			log.WithError(err).WithField("collection_id", cr.CollectionID).Error("sync: select batch failed")
			h.writeCollectionStatus(root, cr.CollectionID, st, StatusServerError, false, nil)
			return
		}
	}

	// Build the inner <Collection> tree in isolation so we can both embed
	// it in the live response and cache its encoded bytes for idempotent
	// resend.
	inner := buildCollectionNode(cr.CollectionID, st.NextKey, moreAvailable, emails, cr, strat)

	var coveredIDs []int64
	var maxID = st.Cursor
	for _, e := range emails {
		coveredIDs = append(coveredIDs, e.ID)
		if e.ID > maxID {
			maxID = e.ID
		}
	}

	collectionsWrapper := wbxml.Elem(wbxml.PageAirSync, "Collections").Add(inner)
	encoded, err := wbxml.EncodeBytes(collectionsWrapper, h.Codec)
	if err != nil {
		log.WithError(err).WithField("collection_id", cr.CollectionID).Error("sync: encode batch failed")
		h.writeCollectionStatus(root, cr.CollectionID, st, StatusServerError, false, nil)
		return
	}

	if err := h.Manager.Commit(ctx, k, st, encoded, coveredIDs, maxID); err != nil {
		log.WithError(err).WithField("collection_id", cr.CollectionID).Error("sync: commit state failed")
		h.writeCollectionStatus(root, cr.CollectionID, st, StatusServerError, false, nil)
		return
	}

	root.Top().Children = append(root.Top().Children, inner)
}

// selectBatch applies the byte-budget rule from spec.md §4.2: emails are
// added until the next one would exceed strat.BatchByteBudget(), counting
// encoded WBXML size rather than raw MIME.
func (h *Handler) selectBatch(ctx context.Context, userEmail, collectionID string, cursor int64, windowSize int, strat strategy.Strategy) ([]model.Email, bool, error) {
	candidates, err := h.Mail.ListEmails(ctx, userEmail, collectionID, cursor, windowSize+1)
	if err != nil {
		return nil, false, err
	}
	moreAvailable := len(candidates) > windowSize
	if moreAvailable {
		candidates = candidates[:windowSize]
	}

	budget := strat.BatchByteBudget()
	used := 0
	var selected []model.Email
	for i, e := range candidates {
		size := estimateEncodedSize(e, strat)
		if used > 0 && used+size > budget {
			// Remaining candidates (including this one) were not emitted.
			moreAvailable = moreAvailable || i < len(candidates)
			break
		}
		used += size
		selected = append(selected, e)
	}
	if len(selected) < len(candidates) {
		moreAvailable = true
	}
	return selected, moreAvailable, nil
}

// estimateEncodedSize is a cheap proxy for the encoded WBXML size of one
// <Add> command: header fields plus the (possibly truncated) body.
func estimateEncodedSize(e model.Email, strat strategy.Strategy) int {
	bodyType, body := selectBody(e, nil, strat)
	truncated := strat.EffectiveTruncation(bodyType, 0, false)
	if truncated > 0 && len(body) > truncated {
		body = body[:truncated]
	}
	return len(e.Subject) + len(e.From) + len(e.To) + len(body) + 128
}

func buildCollectionNode(collectionID, nextKey string, moreAvailable bool, emails []model.Email, cr collectionRequest, strat strategy.Strategy) *wbxml.Node {
	b := wbxml.NewBuilder(wbxml.PageAirSync, "Collection")
	b.TextElem(wbxml.PageAirSync, "Class", "Email")
	b.TextElem(wbxml.PageAirSync, "SyncKey", nextKey)
	b.TextElem(wbxml.PageAirSync, "CollectionId", collectionID)
	b.TextElem(wbxml.PageAirSync, "Status", StatusSuccess)

	if moreAvailable {
		b.Empty(wbxml.PageAirSync, "MoreAvailable")
	}

	if len(emails) > 0 {
		b.Elem(wbxml.PageAirSync, "Commands")
		for _, e := range emails {
			writeAddCommand(b, collectionID, e, cr, strat)
		}
		b.End() // Commands
	}

	return b.Node()
}

func writeAddCommand(b *wbxml.Builder, collectionID string, e model.Email, cr collectionRequest, strat strategy.Strategy) {
	b.Elem(wbxml.PageAirSync, "Add")
	b.TextElem(wbxml.PageAirSync, "ServerId", fmt.Sprintf("%s:%d", collectionID, e.ID))
	b.Elem(wbxml.PageAirSync, "ApplicationData")

	b.TextElem(wbxml.PageEmail, "Subject", e.Subject)
	b.TextElem(wbxml.PageEmail, "From", e.From)
	b.TextElem(wbxml.PageEmail, "To", e.To)
	b.TextElem(wbxml.PageEmail, "DateReceived", e.DateReceived.UTC().Format("2006-01-02T15:04:05.000Z"))
	if e.IsRead {
		b.TextElem(wbxml.PageEmail, "Read", "1")
	} else {
		b.TextElem(wbxml.PageEmail, "Read", "0")
	}
	b.TextElem(wbxml.PageEmail, "MessageClass", e.MessageClass)

	writeBody(b, e, cr, strat)
	b.TextElem(wbxml.PageAirSyncBase, "NativeBodyType", "1")

	b.End() // ApplicationData
	b.End() // Add
}

// writeBody emits the AirSyncBase <Body> element honoring the strict child
// order mandated by spec.md §4.1: Type, EstimatedDataSize, Truncated, Data,
// (Preview only when Data absent). Truncation honors the client's requested
// size exactly for Type 1/2/3 and caps Type 4 at 512 KB, per spec.md §4.4.
func writeBody(b *wbxml.Builder, e model.Email, cr collectionRequest, strat strategy.Strategy) {
	bodyType, fullBody := selectBody(e, cr.BodyPreferences, strat)

	var requested int
	for _, p := range cr.BodyPreferences {
		if p.Type == bodyType && p.HasTruncation {
			requested = p.TruncationSize
		}
	}
	limit := strat.EffectiveTruncation(bodyType, requested, false)

	data := fullBody
	truncated := false
	if limit > 0 && len(fullBody) > limit {
		data, truncated = wbxml.TruncateUTF8(fullBody, limit)
		if !truncated {
			// Exactly divisible; force the flag since len(fullBody) > limit.
			truncated = true
		}
	}

	b.Elem(wbxml.PageAirSyncBase, "Body")
	b.TextElem(wbxml.PageAirSyncBase, "Type", fmt.Sprintf("%d", bodyType))
	b.TextElem(wbxml.PageAirSyncBase, "EstimatedDataSize", fmt.Sprintf("%d", len(fullBody)))
	if truncated {
		b.TextElem(wbxml.PageAirSyncBase, "Truncated", "1")
	} else {
		b.TextElem(wbxml.PageAirSyncBase, "Truncated", "0")
	}
	b.Elem(wbxml.PageAirSyncBase, "Data").Opaque([]byte(data))
	b.End() // Data
	// Preview is never emitted alongside Data, per spec.md §4.4.
	b.End() // Body
}

// selectBody picks the first body type the client prefers that the server
// can serve, falling back to the strategy's own preference order when the
// client's request carries none, per spec.md §4.3 "Body selection".
func selectBody(e model.Email, prefs []bodyPreference, strat strategy.Strategy) (strategy.BodyType, string) {
	order := strat.BodyPreferenceOrder()
	if len(prefs) > 0 {
		order = nil
		for _, p := range prefs {
			order = append(order, p.Type)
		}
	}
	for _, t := range order {
		switch t {
		case strategy.BodyTypeHTML:
			if e.BodyHTML != "" {
				return strategy.BodyTypeHTML, e.BodyHTML
			}
		case strategy.BodyTypePlain:
			if e.BodyPlain != "" {
				return strategy.BodyTypePlain, e.BodyPlain
			}
		case strategy.BodyTypeMIME:
			if len(e.RawMIME) > 0 {
				return strategy.BodyTypeMIME, string(e.RawMIME)
			}
		}
	}
	if e.BodyHTML != "" {
		return strategy.BodyTypeHTML, e.BodyHTML
	}
	return strategy.BodyTypePlain, e.BodyPlain
}

func (h *Handler) writeCollectionStatus(root *wbxml.Builder, collectionID string, st *model.SyncState, status string, moreAvailable bool, _ []model.Email) {
	nextKey := "0"
	if st != nil {
		nextKey = st.NextKey
	}
	root.Elem(wbxml.PageAirSync, "Collection")
	root.TextElem(wbxml.PageAirSync, "Class", "Email")
	root.TextElem(wbxml.PageAirSync, "SyncKey", nextKey)
	root.TextElem(wbxml.PageAirSync, "CollectionId", collectionID)
	root.TextElem(wbxml.PageAirSync, "Status", status)
	if moreAvailable {
		root.Empty(wbxml.PageAirSync, "MoreAvailable")
	}
	root.End()
}
