package admission

import (
	"net/url"
	"time"

	"github.com/linkshield/cloaker/internal/enum"
	"github.com/linkshield/cloaker/internal/models"
	"github.com/linkshield/cloaker/internal/utils"
)

// Filter identifiers recorded on the visitor row when a check blocks.
const (
	FilterInactive    = "inactive"
	FilterIPBlacklist = "ip_blacklist"
	FilterGeo         = "geo"
	FilterDevice      = "device"
	FilterReferer     = "referer"
	FilterLanguage    = "language"
	FilterURLParams   = "url_params"
	FilterHours       = "hours"
	FilterQuotaDaily  = "quota_daily"
	FilterQuotaTotal  = "quota_total"
	FilterRateLimit   = "rate_limit"
	FilterThreat      = "threat"
	FilterScore       = "score"
	FilterNoTarget    = "no_target"
	FilterStoreError  = "store_error"
)

// Visit is everything the pipeline needs to know about one click, computed
// up front so the checks themselves stay pure.
type Visit struct {
	IP       string
	Country  string
	Device   enum.DeviceCategory
	Referer  string
	Language string
	Params   url.Values
	Now      time.Time

	IsBot            bool
	IsHeadless       bool
	IsAutomationTool bool
	IsVPN            bool
	IsProxy          bool
	IsDatacenter     bool
	IsTor            bool

	// RateLimited is resolved by the limiter before the pipeline runs; the
	// check itself stays an atomic store operation.
	RateLimited bool

	// QuotaFilter names the exhausted quota when the limiter's reset-aware
	// read found one, empty otherwise. Resolving it in the limiter keeps the
	// lazy daily reset out of the pipeline.
	QuotaFilter string
}

// Outcome of the pipeline. Bypassed marks a whitelisted IP, which skips
// every remaining check including the score threshold.
type Outcome struct {
	Decision  enum.Decision
	BlockedBy string
	Bypassed  bool
}

func blocked(filter string) Outcome {
	return Outcome{Decision: enum.DecisionBlock, BlockedBy: filter}
}

func passed() Outcome {
	return Outcome{Decision: enum.DecisionAllow}
}

// Evaluate runs the static checks (steps 1-11) in order, first failure
// wins. Cheap list and counter checks run here so most rejected traffic
// never pays for scoring.
func Evaluate(link *models.CloakedLink, v Visit) Outcome {
	// 1. link disabled
	if !link.IsActive {
		return blocked(FilterInactive)
	}

	// 2. IP lists; the whitelist is the single bypass in the pipeline
	if utils.IsStringInSlice(v.IP, link.BlacklistIPs) {
		return blocked(FilterIPBlacklist)
	}
	if utils.IsStringInSlice(v.IP, link.WhitelistIPs) {
		return Outcome{Decision: enum.DecisionAllow, Bypassed: true}
	}

	// 3. geo
	if len(link.AllowedCountries) > 0 && !utils.IsStringInSlice(v.Country, link.AllowedCountries) {
		return blocked(FilterGeo)
	}
	if utils.IsStringInSlice(v.Country, link.BlockedCountries) {
		return blocked(FilterGeo)
	}

	// 4. device category
	if len(link.AllowedDevices) > 0 && !utils.IsStringInSlice(v.Device.String(), link.AllowedDevices) {
		return blocked(FilterDevice)
	}

	// 5. referrer, substring match as configured values are rarely full URLs
	if len(link.AllowedReferers) > 0 && !utils.ContainsFold(v.Referer, link.AllowedReferers) {
		return blocked(FilterReferer)
	}
	if len(link.BlockedReferers) > 0 && utils.ContainsFold(v.Referer, link.BlockedReferers) {
		return blocked(FilterReferer)
	}

	// 6. language
	if len(link.AllowedLanguages) > 0 && !utils.IsStringInSlice(v.Language, link.AllowedLanguages) {
		return blocked(FilterLanguage)
	}
	if utils.IsStringInSlice(v.Language, link.BlockedLanguages) {
		return blocked(FilterLanguage)
	}

	// 7. URL parameters
	for name, expected := range link.RequiredParams {
		got := v.Params.Get(name)
		if got == "" {
			return blocked(FilterURLParams)
		}
		if expected != "" && got != expected {
			return blocked(FilterURLParams)
		}
	}
	for _, name := range link.BlockedParams {
		if v.Params.Has(name) {
			return blocked(FilterURLParams)
		}
	}

	// 8. allowed hours in link-local time
	if link.AllowedHoursStart != nil && link.AllowedHoursEnd != nil {
		if !hourInWindow(v.Now.In(link.Location()).Hour(), *link.AllowedHoursStart, *link.AllowedHoursEnd) {
			return blocked(FilterHours)
		}
	}

	// 9. click quotas, resolved by the limiter so a stale daily counter is
	// not counted against today. Advisory read; the atomic increment at
	// decision finalization is the enforcement point.
	if v.QuotaFilter != "" {
		return blocked(v.QuotaFilter)
	}

	// 10. per-IP rate limit
	if v.RateLimited {
		return blocked(FilterRateLimit)
	}

	// 11. threat flags the link opted into blocking
	if link.BlockBots && (v.IsBot || v.IsHeadless || v.IsAutomationTool) {
		return blocked(FilterThreat)
	}
	if link.BlockVPN && v.IsVPN {
		return blocked(FilterThreat)
	}
	if link.BlockProxy && v.IsProxy {
		return blocked(FilterThreat)
	}
	if link.BlockDatacenter && v.IsDatacenter {
		return blocked(FilterThreat)
	}
	if link.BlockTor && v.IsTor {
		return blocked(FilterThreat)
	}

	return passed()
}

// ApplyScore is step 12: sub-threshold traffic is shown the decoy rather
// than blocked outright, except bot-flagged traffic on links that block
// bots. Whitelisted visits skip the threshold entirely.
func ApplyScore(link *models.CloakedLink, v Visit, prior Outcome, score int) Outcome {
	if prior.Decision == enum.DecisionBlock || prior.Bypassed {
		return prior
	}

	if score < link.MinScore {
		if link.BlockBots && v.IsBot {
			return blocked(FilterScore)
		}
		return Outcome{Decision: enum.DecisionSafe, BlockedBy: FilterScore}
	}
	return prior
}

// hourInWindow handles windows that wrap past midnight (start > end).
func hourInWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
