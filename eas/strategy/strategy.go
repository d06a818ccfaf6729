// Package strategy encapsulates the per-client behavioral dialects the Sync
// handler must honor, detected once per request and passed by value for the
// rest of the call chain — the "Client dispatch" design note names this
// polymorphic-over-capability-set shape explicitly.
package strategy

import "strings"

// BodyType mirrors the MS-ASAIRSYNCBASE Type values the core understands.
type BodyType int

const (
	BodyTypePlain BodyType = 1
	BodyTypeHTML  BodyType = 2
	BodyTypeRTF   BodyType = 3
	BodyTypeMIME  BodyType = 4
)

// Strategy is the capability set every client dialect must supply.
type Strategy interface {
	Name() string
	NeedsEmptyInitialResponse() bool
	DefaultWindowSize() int
	MaxWindowSize() int
	// EffectiveTruncation resolves the truncation bound in bytes for a
	// selected body type, given the client's requested size (0 = none
	// requested) and whether this is the device's initial sync.
	EffectiveTruncation(bodyType BodyType, clientRequested int, isInitialSync bool) int
	// BodyPreferenceOrder is the server's own preference when the client's
	// request omits BodyPreference entirely.
	BodyPreferenceOrder() []BodyType
	UsesTwoPhaseCommit() bool
	BatchByteBudget() int
}

const mimeTruncationCap = 512 * 1024

type base struct {
	name                string
	emptyInitial        bool
	defaultWindow       int
	maxWindow           int
	bodyPreferenceOrder []BodyType
}

func (b base) Name() string                    { return b.name }
func (b base) NeedsEmptyInitialResponse() bool { return b.emptyInitial }
func (b base) DefaultWindowSize() int          { return b.defaultWindow }
func (b base) MaxWindowSize() int              { return b.maxWindow }
func (b base) BodyPreferenceOrder() []BodyType { return b.bodyPreferenceOrder }
func (b base) UsesTwoPhaseCommit() bool        { return true }
func (b base) BatchByteBudget() int            { return 50 * 1024 }

// EffectiveTruncation implements §4.4's single authoritative rule for every
// variant: honor the client's requested size exactly for Type 1/2/3, and
// cap Type 4 (MIME) at 512 KB. No variant overrides this with a minimum.
func (b base) EffectiveTruncation(bodyType BodyType, clientRequested int, _ bool) int {
	if bodyType == BodyTypeMIME {
		if clientRequested <= 0 || clientRequested > mimeTruncationCap {
			return mimeTruncationCap
		}
		return clientRequested
	}
	return clientRequested
}

// iOS never needs an empty initial response and prefers plain text.
type ios struct{ base }

// outlookDesktop requires an empty Collection on the initial sync response.
type outlookDesktop struct{ base }

// android mirrors iOS's immediate-data behavior.
type android struct{ base }

// deflt is used when no substring match applies.
type deflt struct{ base }

var (
	iOSStrategy = ios{base{
		name:                "iOS",
		emptyInitial:        false,
		defaultWindow:       50,
		maxWindow:           100,
		bodyPreferenceOrder: []BodyType{BodyTypePlain, BodyTypeHTML, BodyTypeMIME},
	}}
	outlookStrategy = outlookDesktop{base{
		name:                "Outlook",
		emptyInitial:        true,
		defaultWindow:       25,
		maxWindow:           100,
		bodyPreferenceOrder: []BodyType{BodyTypeMIME, BodyTypePlain, BodyTypeHTML},
	}}
	androidStrategy = android{base{
		name:                "Android",
		emptyInitial:        false,
		defaultWindow:       25,
		maxWindow:           100,
		bodyPreferenceOrder: []BodyType{BodyTypePlain, BodyTypeHTML, BodyTypeMIME},
	}}
	defaultStrategy = deflt{base{
		name:                "Default",
		emptyInitial:        false,
		defaultWindow:       25,
		maxWindow:           100,
		bodyPreferenceOrder: []BodyType{BodyTypePlain, BodyTypeHTML, BodyTypeMIME},
	}}
)

// Detect matches userAgent/deviceType substrings case-insensitively,
// selected once per request at the top of the Sync handler per spec.md
// §4.4 and §9's "Client dispatch" note.
func Detect(userAgent, deviceType string) Strategy {
	ua := strings.ToLower(userAgent)
	dt := strings.ToLower(deviceType)
	switch {
	case strings.Contains(ua, "outlook") || strings.Contains(dt, "outlook"):
		return outlookStrategy
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") ||
		strings.Contains(ua, "ios") || strings.Contains(dt, "iphone") || strings.Contains(dt, "ipad"):
		return iOSStrategy
	case strings.Contains(ua, "android") || strings.Contains(dt, "android"):
		return androidStrategy
	default:
		return defaultStrategy
	}
}
