package scoring

import "strings"

// Signal category names; also the keys of the stored sub-score map.
const (
	SignalDevice      = "device"
	SignalWebRTC      = "webrtc"
	SignalMouse       = "mouse"
	SignalKeyboard    = "keyboard"
	SignalSession     = "session"
	SignalAutomation  = "automation"
	SignalBehavior    = "behavior"
	SignalFingerprint = "fingerprint"
	SignalNetwork     = "network"
)

// Scorer maps one signal category of a bundle to a 0-100 trust sub-score.
// A nil result means the signal was unavailable; the composite step excludes
// it instead of counting it against the visitor. Scorers are pure and hold
// no state, so individual heuristics can be replaced without touching the
// engine.
type Scorer func(in ScoreInput) *int

// ScoreInput carries the bundle plus the request-derived facts some scorers
// need (UA string, network metadata filled in server-side).
type ScoreInput struct {
	Bundle       *SignalBundle
	UserAgent    string
	MinDwellMs   int
	IsDatacenter bool
	IsVPN        bool
	IsProxy      bool
	IsTor        bool
}

func clamp(score int) *int {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &score
}

// DefaultScorers returns the full scorer set keyed by signal name.
func DefaultScorers() map[string]Scorer {
	return map[string]Scorer{
		SignalDevice:      ScoreDeviceConsistency,
		SignalWebRTC:      ScoreWebRTC,
		SignalMouse:       ScoreMousePattern,
		SignalKeyboard:    ScoreKeyboardDynamics,
		SignalSession:     ScoreSessionReplay,
		SignalAutomation:  ScoreAutomation,
		SignalBehavior:    ScoreBehavior,
		SignalFingerprint: ScoreFingerprintConsistency,
		SignalNetwork:     ScoreNetwork,
	}
}

// ScoreDeviceConsistency checks that the reported hardware profile holds
// together: real devices have plausible screen metrics and the platform
// matches the user agent.
func ScoreDeviceConsistency(in ScoreInput) *int {
	d := in.Bundle.deviceSignals()
	if d == nil {
		return nil
	}

	score := 100
	if d.ScreenWidth <= 0 || d.ScreenHeight <= 0 {
		score -= 40
	}
	if d.ColorDepth > 0 && d.ColorDepth < 24 {
		score -= 20
	}
	if d.Cores == 0 {
		score -= 15
	}
	if d.TouchPoints > 0 && !strings.Contains(strings.ToLower(in.UserAgent), "mobi") &&
		!strings.Contains(strings.ToLower(in.UserAgent), "tablet") &&
		!strings.Contains(strings.ToLower(in.UserAgent), "ipad") {
		score -= 15
	}
	ua := strings.ToLower(in.UserAgent)
	platform := strings.ToLower(d.Platform)
	switch {
	case strings.Contains(platform, "win") && !strings.Contains(ua, "windows"):
		score -= 30
	case strings.Contains(platform, "linux") && strings.Contains(ua, "windows"):
		score -= 30
	case strings.Contains(platform, "mac") && !strings.Contains(ua, "mac"):
		score -= 30
	}
	return clamp(score)
}

// ScoreWebRTC penalizes leaked local addressing that disagrees with the
// connection, a cheap VPN/proxy tell.
func ScoreWebRTC(in ScoreInput) *int {
	w := in.Bundle.webrtcSignals()
	if w == nil {
		return nil
	}

	score := 100
	if w.Leak {
		score -= 50
	}
	if len(w.LocalIPs) == 0 {
		// RTC disabled entirely; common for privacy tooling and headless
		score -= 20
	}
	return clamp(score)
}

// ScoreMousePattern: human pointer traces have non-trivial entropy and
// bounded speeds; scripted movement is straight and instantaneous.
func ScoreMousePattern(in ScoreInput) *int {
	m := in.Bundle.mouseSignals()
	if m == nil {
		return nil
	}

	if m.Moves == 0 && m.Clicks == 0 {
		score := 10
		return &score
	}

	score := 100
	if m.PathEntropy < 0.5 {
		score -= 45
	} else if m.PathEntropy < 1.5 {
		score -= 20
	}
	if m.MaxSpeed > 10000 {
		score -= 30
	}
	if m.Moves < 5 {
		score -= 25
	}
	return clamp(score)
}

// ScoreKeyboardDynamics: dwell/flight times near zero indicate injected
// events.
func ScoreKeyboardDynamics(in ScoreInput) *int {
	k := in.Bundle.keyboardSignals()
	if k == nil {
		return nil
	}
	if k.Keys == 0 {
		// nothing typed is normal for a landing click; neutral-positive
		score := 70
		return &score
	}

	score := 100
	if k.AvgDwellMs < 5 {
		score -= 50
	}
	if k.AvgFlightMs < 5 {
		score -= 30
	}
	return clamp(score)
}

// ScoreSessionReplay detects replayed or instrumented sessions.
func ScoreSessionReplay(in ScoreInput) *int {
	s := in.Bundle.sessionSignals()
	if s == nil {
		return nil
	}

	score := 100
	if s.ReplayDetected {
		score -= 70
	}
	if s.DevtoolsOpen {
		score -= 20
	}
	if s.VisibilityHidden {
		score -= 10
	}
	return clamp(score)
}

// ScoreAutomation checks the classic automation tells (webdriver flag,
// headless UA, CDP artifacts, empty plugin/language lists).
func ScoreAutomation(in ScoreInput) *int {
	a := in.Bundle.automationSignals()
	if a == nil {
		return nil
	}

	score := 100
	if a.Webdriver {
		score -= 60
	}
	if a.HeadlessUA {
		score -= 40
	}
	if a.CDPDetected {
		score -= 40
	}
	if a.PluginCount == 0 {
		score -= 10
	}
	if a.LanguageCount == 0 {
		score -= 15
	}
	return clamp(score)
}

// ScoreBehavior rewards evidence the visitor actually interacted. Links can
// demand a minimum dwell before the visit counts as engaged.
func ScoreBehavior(in ScoreInput) *int {
	b := in.Bundle.behaviorSignals()
	if b == nil {
		return nil
	}

	score := 50
	if b.DwellMs > 1000 {
		score += 25
	}
	if b.Scrolls > 0 {
		score += 15
	}
	if b.Touches > 0 {
		score += 10
	}
	if b.DwellMs >= 0 && b.DwellMs < 100 {
		score -= 30
	}
	if in.MinDwellMs > 0 && b.DwellMs < in.MinDwellMs {
		score -= 40
	}
	return clamp(score)
}

// ScoreFingerprintConsistency checks the sub-hashes agree with the combined
// hash and with the hash seen on a previous visit.
func ScoreFingerprintConsistency(in ScoreInput) *int {
	f := in.Bundle.fingerprintSignals()
	if f == nil {
		return nil
	}

	score := 100
	if f.CombinedHash == "" {
		score -= 40
	}
	if f.CanvasHash == "" {
		score -= 20
	}
	if f.WebGLHash == "" {
		score -= 15
	}
	if f.PreviousHash != "" && f.CombinedHash != "" && f.PreviousHash != f.CombinedHash {
		// a device whose fingerprint churns between visits is rotating
		score -= 25
	}
	return clamp(score)
}

// ScoreNetwork is fed from server-side enrichment rather than the client
// bundle, so it is always present.
func ScoreNetwork(in ScoreInput) *int {
	score := 100
	if in.IsTor {
		score -= 70
	}
	if in.IsDatacenter {
		score -= 50
	}
	if in.IsVPN {
		score -= 35
	}
	if in.IsProxy {
		score -= 35
	}
	return clamp(score)
}

// nil-safe section accessors so scorers stay single-expression on absence

func (b *SignalBundle) deviceSignals() *DeviceSignals {
	if b == nil {
		return nil
	}
	return b.Device
}

func (b *SignalBundle) webrtcSignals() *WebRTCSignals {
	if b == nil {
		return nil
	}
	return b.WebRTC
}

func (b *SignalBundle) mouseSignals() *MouseSignals {
	if b == nil {
		return nil
	}
	return b.Mouse
}

func (b *SignalBundle) keyboardSignals() *KeyboardSignals {
	if b == nil {
		return nil
	}
	return b.Keyboard
}

func (b *SignalBundle) sessionSignals() *SessionSignals {
	if b == nil {
		return nil
	}
	return b.Session
}

func (b *SignalBundle) automationSignals() *AutomationSignals {
	if b == nil {
		return nil
	}
	return b.Automation
}

func (b *SignalBundle) behaviorSignals() *BehaviorSignals {
	if b == nil {
		return nil
	}
	return b.Behavior
}

func (b *SignalBundle) fingerprintSignals() *FingerprintSignals {
	if b == nil {
		return nil
	}
	return b.Fingerprint
}
