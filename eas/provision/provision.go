// Package provision implements the two-phase MS-ASPROV handshake (spec.md
// §4.5): phase 1 issues a temporary policy key, phase 2 promotes it to the
// device's durable policy key. The pending temporary key lives in an
// in-process TTL cache (patrickmn/go-cache), matching the teacher's
// provisioning pending-policy-key entry in its go.mod dependency set, with
// the durable device row as a fallback so a restart between phases doesn't
// orphan an in-flight handshake.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/exchangecore/excore/internal/store"
	"github.com/exchangecore/excore/internal/store/model"
	"github.com/exchangecore/excore/internal/wbxml"
)

// Status codes, per spec.md §4.5.
const (
	StatusSuccess       = "1"
	StatusGenericError  = "2"
	StatusPolicyError   = "3"
	StatusMalformed     = "4"
)

// PendingTTL is the window a temporary policy key stays valid across
// phase-1 retries, per spec.md §4.5 "Key rotation caveats".
const PendingTTL = 10 * time.Minute

const policyType = "MS-EAS-Provisioning-WBXML"

type pendingKey struct {
	UserEmail string
	DeviceID  string
}

func (k pendingKey) String() string { return k.UserEmail + "/" + k.DeviceID }

// Handler processes Provision requests.
type Handler struct {
	Devices store.DeviceStore
	Codec   *wbxml.Codec
	pending *cache.Cache
}

func NewHandler(devices store.DeviceStore, codec *wbxml.Codec) *Handler {
	return &Handler{
		Devices: devices,
		Codec:   codec,
		pending: cache.New(PendingTTL, PendingTTL/2),
	}
}

// Handle dispatches to phase 1 or phase 2 depending on whether the request
// carries a <PolicyKey>.
func (h *Handler) Handle(ctx context.Context, userEmail, deviceID string, req *wbxml.Node) ([]byte, error) {
	policiesNode := req.Child("Policies")
	if policiesNode == nil {
		return h.encodeStatus(StatusMalformed, "")
	}
	policyNode := policiesNode.Child("Policy")
	if policyNode == nil {
		return h.encodeStatus(StatusMalformed, "")
	}

	if key := policyNode.ChildText("PolicyKey"); key != "" {
		return h.phaseTwo(ctx, userEmail, deviceID, key)
	}
	return h.phaseOne(ctx, userEmail, deviceID)
}

// phaseOne issues (or re-issues, if already pending) a temporary policy key
// and returns the policy document. Reusing the pending slot on retry is the
// "Key rotation caveats" rule: a fresh key on every phase-1 retry would
// orphan a delayed phase-2 ACK that cites the earlier key.
func (h *Handler) phaseOne(ctx context.Context, userEmail, deviceID string) ([]byte, error) {
	k := pendingKey{UserEmail: userEmail, DeviceID: deviceID}

	var tempKey uint32
	if v, ok := h.pending.Get(k.String()); ok {
		tempKey = v.(uint32)
	} else {
		dev, err := h.Devices.GetDevice(ctx, userEmail, deviceID)
		if err != nil {
			return nil, fmt.Errorf("provision: get device: %w", err)
		}
		if dev != nil && dev.PendingPolicyKey != 0 && time.Now().Before(dev.PendingPolicyExpiresAt) {
			tempKey = dev.PendingPolicyKey
		} else {
			var err error
			tempKey, err = randomPolicyKey()
			if err != nil {
				return nil, err
			}
			if dev == nil {
				dev = &model.Device{UserEmail: userEmail, DeviceID: deviceID}
			}
			dev.PendingPolicyKey = tempKey
			dev.PendingPolicyExpiresAt = time.Now().Add(PendingTTL)
			if err := h.Devices.UpsertDevice(ctx, dev); err != nil {
				return nil, fmt.Errorf("provision: persist pending key: %w", err)
			}
		}
		h.pending.Set(k.String(), tempKey, PendingTTL)
	}

	return h.encodePolicyDocument(tempKey)
}

// phaseTwo verifies the client's acknowledged key against the pending slot
// and, on match, promotes it to the device's durable policy key.
func (h *Handler) phaseTwo(ctx context.Context, userEmail, deviceID, clientKey string) ([]byte, error) {
	dev, err := h.Devices.GetDevice(ctx, userEmail, deviceID)
	if err != nil {
		return nil, fmt.Errorf("provision: get device: %w", err)
	}
	if dev == nil || dev.PendingPolicyKey == 0 || time.Now().After(dev.PendingPolicyExpiresAt) {
		return h.encodeStatus(StatusPolicyError, "")
	}
	if fmt.Sprintf("%d", dev.PendingPolicyKey) != clientKey {
		return h.encodeStatus(StatusPolicyError, "")
	}

	dev.PolicyKey = dev.PendingPolicyKey
	dev.IsProvisioned = true
	dev.PendingPolicyKey = 0
	if err := h.Devices.UpsertDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("provision: promote policy key: %w", err)
	}
	h.pending.Delete(pendingKey{UserEmail: userEmail, DeviceID: deviceID}.String())

	return h.encodeStatus(StatusSuccess, fmt.Sprintf("%d", dev.PolicyKey))
}

func (h *Handler) encodePolicyDocument(tempKey uint32) ([]byte, error) {
	b := wbxml.NewBuilder(wbxml.PageProvision, "Provision")
	b.TextElem(wbxml.PageProvision, "Status", StatusSuccess)
	b.Elem(wbxml.PageProvision, "Policies")
	b.Elem(wbxml.PageProvision, "Policy")
	b.TextElem(wbxml.PageProvision, "PolicyType", policyType)
	b.TextElem(wbxml.PageProvision, "Status", StatusSuccess)
	b.TextElem(wbxml.PageProvision, "PolicyKey", fmt.Sprintf("%d", tempKey))
	b.End() // Policy
	b.End() // Policies
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

// RequireProvisioning builds the WBXML body the gate in eas.handleCommand
// sends alongside HTTP 449 when a device hits a gated command without a
// satisfied policy key: a bare Provision/Status=3 document, the client's
// cue (per spec.md §4.5 Gate, §6, §7) to re-run the Provision command
// before retrying.
func (h *Handler) RequireProvisioning() ([]byte, error) {
	return h.encodeStatus(StatusPolicyError, "")
}

func (h *Handler) encodeStatus(status, policyKey string) ([]byte, error) {
	b := wbxml.NewBuilder(wbxml.PageProvision, "Provision")
	b.TextElem(wbxml.PageProvision, "Status", status)
	if policyKey != "" {
		b.Elem(wbxml.PageProvision, "Policies")
		b.Elem(wbxml.PageProvision, "Policy")
		b.TextElem(wbxml.PageProvision, "PolicyType", policyType)
		b.TextElem(wbxml.PageProvision, "Status", StatusSuccess)
		b.TextElem(wbxml.PageProvision, "PolicyKey", policyKey)
		b.End()
		b.End()
	}
	return wbxml.EncodeBytes(b.Node(), h.Codec)
}

func randomPolicyKey() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("provision: generate policy key: %w", err)
		}
		v := binary.BigEndian.Uint32(buf[:])
		if v != 0 {
			return v, nil
		}
	}
}

// Gate reports whether cmd requires a valid, matching policy key, per
// spec.md §4.5 "Gate": every command except Options, Autodiscover, Ping and
// Provision itself.
func Gate(cmd string) bool {
	switch cmd {
	case "Options", "Autodiscover", "Ping", "Provision":
		return false
	default:
		return true
	}
}

// Satisfied reports whether dev's current policy key matches headerKey, the
// X-MS-PolicyKey header value. A device with PolicyKey==0 never satisfies
// the gate, even if headerKey is literally "0" (spec.md §8 boundary case).
func Satisfied(dev *model.Device, headerKey string) bool {
	if dev == nil || dev.PolicyKey == 0 {
		return false
	}
	return fmt.Sprintf("%d", dev.PolicyKey) == headerKey
}
