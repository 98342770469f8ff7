package scoring

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"

	er "github.com/linkshield/cloaker/internal/errors"
)

// SignalBundle is the opaque client-side signal payload, delivered base64
// encoded in the `_sb` query parameter or the `csig` cookie. Every section
// is optional: collection scripts degrade on old browsers and bots strip
// them entirely, so absence is information the composite step handles, not
// an error.
type SignalBundle struct {
	Fingerprint *FingerprintSignals `json:"fp,omitempty"`
	WebRTC      *WebRTCSignals      `json:"webrtc,omitempty"`
	Mouse       *MouseSignals       `json:"mouse,omitempty"`
	Keyboard    *KeyboardSignals    `json:"keyboard,omitempty"`
	Session     *SessionSignals     `json:"session,omitempty"`
	Automation  *AutomationSignals  `json:"automation,omitempty"`
	Behavior    *BehaviorSignals    `json:"behavior,omitempty"`
	Device      *DeviceSignals      `json:"device,omitempty"`
}

type FingerprintSignals struct {
	CanvasHash   string `json:"canvasHash"`
	WebGLHash    string `json:"webglHash"`
	AudioHash    string `json:"audioHash"`
	FontsHash    string `json:"fontsHash"`
	CombinedHash string `json:"combinedHash"`
	// PreviousHash is the hash persisted in the visitor cookie on an
	// earlier visit, if any.
	PreviousHash string `json:"previousHash,omitempty"`
}

type WebRTCSignals struct {
	LocalIPs []string `json:"localIps"`
	PublicIP string   `json:"publicIp"`
	Leak     bool     `json:"leak"`
}

type MouseSignals struct {
	Moves       int     `json:"moves"`
	Clicks      int     `json:"clicks"`
	PathEntropy float64 `json:"pathEntropy"`
	AvgSpeed    float64 `json:"avgSpeed"`
	MaxSpeed    float64 `json:"maxSpeed"`
}

type KeyboardSignals struct {
	Keys        int     `json:"keys"`
	AvgDwellMs  float64 `json:"avgDwellMs"`
	AvgFlightMs float64 `json:"avgFlightMs"`
}

type SessionSignals struct {
	ReplayDetected   bool `json:"replayDetected"`
	DevtoolsOpen     bool `json:"devtoolsOpen"`
	VisibilityHidden bool `json:"visibilityHidden"`
}

type AutomationSignals struct {
	Webdriver     bool `json:"webdriver"`
	HeadlessUA    bool `json:"headlessUa"`
	CDPDetected   bool `json:"cdpDetected"`
	PluginCount   int  `json:"pluginCount"`
	LanguageCount int  `json:"languageCount"`
}

type BehaviorSignals struct {
	DwellMs int `json:"dwellMs"`
	Scrolls int `json:"scrolls"`
	Touches int `json:"touches"`
}

type DeviceSignals struct {
	Platform     string  `json:"platform"`
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	ColorDepth   int     `json:"colorDepth"`
	PixelRatio   float64 `json:"pixelRatio"`
	Cores        int     `json:"cores"`
	Memory       int     `json:"memory"`
	TouchPoints  int     `json:"touchPoints"`
	Timezone     string  `json:"timezone"`
}

// ParseSignalBundle decodes the base64 payload the collection script ships.
// An empty payload returns (nil, ErrSignalUnavailable) so callers can treat
// missing and malformed bundles alike.
func ParseSignalBundle(raw string) (*SignalBundle, error) {
	if raw == "" {
		return nil, er.ErrSignalUnavailable
	}

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		// collection script uses standard encoding in older versions
		decoded, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.Wrap(er.ErrSignalUnavailable, "invalid base64 payload")
		}
	}

	var bundle SignalBundle
	if err := json.Unmarshal(decoded, &bundle); err != nil {
		return nil, errors.Wrap(er.ErrSignalUnavailable, "invalid json payload")
	}
	return &bundle, nil
}

// FingerprintHash returns the combined hash when present.
func (b *SignalBundle) FingerprintHash() string {
	if b == nil || b.Fingerprint == nil {
		return ""
	}
	return b.Fingerprint.CombinedHash
}
