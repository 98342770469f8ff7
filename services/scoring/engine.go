package scoring

// Weights of the composite score, per signal category. They sum to 100 but
// the composite normalizes over present signals only, so a partial bundle
// is judged on what it did supply.
var Weights = map[string]int{
	SignalDevice:      15,
	SignalWebRTC:      10,
	SignalMouse:       10,
	SignalKeyboard:    10,
	SignalSession:     10,
	SignalAutomation:  15,
	SignalBehavior:    10,
	SignalFingerprint: 10,
	SignalNetwork:     10,
}

// Engine evaluates the scorer set and combines sub-scores into the weighted
// composite.
type Engine struct {
	scorers map[string]Scorer
	weights map[string]int
}

func NewEngine() *Engine {
	return &Engine{
		scorers: DefaultScorers(),
		weights: Weights,
	}
}

// NewEngineWith builds an engine from a custom scorer set; weights of
// unknown categories are ignored. Used by tests and by deployments that
// disable individual scorers.
func NewEngineWith(scorers map[string]Scorer, weights map[string]int) *Engine {
	return &Engine{scorers: scorers, weights: weights}
}

// Evaluate runs every scorer and returns the present sub-scores.
func (e *Engine) Evaluate(in ScoreInput) map[string]*int {
	subscores := make(map[string]*int, len(e.scorers))
	for name, scorer := range e.scorers {
		subscores[name] = scorer(in)
	}
	return subscores
}

// Composite is the weighted mean over present (non-nil) sub-scores,
// rounded to nearest with ties rounding up. Zero present sub-scores yields
// 0: with no evidence at all the engine fails toward blocking.
func (e *Engine) Composite(subscores map[string]*int) int {
	weightedSum := 0
	weightTotal := 0
	for name, score := range subscores {
		if score == nil {
			continue
		}
		w := e.weights[name]
		weightedSum += *score * w
		weightTotal += w
	}
	if weightTotal == 0 {
		return 0
	}
	// round half up
	return (weightedSum*2 + weightTotal) / (weightTotal * 2)
}

// Overrides are the deterministic post-composite penalties. They are not
// blended into the weighted mean; each rule replaces the score outright.
type Overrides struct {
	IsBlacklisted    bool
	IsHeadless       bool
	IsAutomationTool bool
}

// FinalScore applies the override rules to a composite score:
//   - blacklisted IP        -> 0
//   - headless browser      -> 0
//   - automation tool (webdriver/CDP) -> 0
func FinalScore(composite int, o Overrides) int {
	if o.IsBlacklisted || o.IsHeadless || o.IsAutomationTool {
		return 0
	}
	return composite
}

// Present converts the sparse sub-score map to the dense form stored on the
// visitor record, dropping absent categories.
func Present(subscores map[string]*int) map[string]int {
	out := make(map[string]int, len(subscores))
	for name, score := range subscores {
		if score != nil {
			out[name] = *score
		}
	}
	return out
}
