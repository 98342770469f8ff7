package scoring

import (
	"strings"

	"github.com/linkshield/cloaker/internal/enum"
)

var botMarkers = []string{
	"bot", "crawl", "spider", "slurp", "curl/", "wget/", "python-requests",
	"python-urllib", "go-http-client", "java/", "okhttp", "scrapy",
	"facebookexternalhit", "headlesschrome", "phantomjs", "lighthouse",
	"pingdom", "uptimerobot", "ahrefs", "semrush", "mj12bot", "dotbot",
}

var headlessMarkers = []string{
	"headlesschrome", "phantomjs", "electron",
}

var automationMarkers = []string{
	"selenium", "webdriver", "puppeteer", "playwright", "cypress", "nightmare",
}

// DetectDevice classifies a user agent into the device categories the
// admission filters operate on.
func DetectDevice(userAgent string) enum.DeviceCategory {
	if userAgent == "" {
		return enum.DeviceUnknown
	}
	ua := strings.ToLower(userAgent)

	if containsAny(ua, botMarkers) {
		return enum.DeviceBot
	}
	if strings.Contains(ua, "ipad") || (strings.Contains(ua, "tablet") && !strings.Contains(ua, "mobile")) {
		return enum.DeviceTablet
	}
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobile") {
		return enum.DeviceTablet
	}
	if strings.Contains(ua, "mobi") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android") {
		return enum.DeviceMobile
	}
	if strings.Contains(ua, "windows") || strings.Contains(ua, "macintosh") || strings.Contains(ua, "linux") || strings.Contains(ua, "cros") {
		return enum.DeviceDesktop
	}
	return enum.DeviceUnknown
}

// ThreatFlags are the boolean classifications derived from the user agent
// and the signal bundle before scoring.
type ThreatFlags struct {
	IsBot            bool
	IsHeadless       bool
	IsAutomationTool bool
}

// DetectThreats merges user agent markers with the automation section of
// the signal bundle. The bundle outranks the user agent: a spoofed UA with
// a webdriver flag is still automation.
func DetectThreats(userAgent string, bundle *SignalBundle) ThreatFlags {
	ua := strings.ToLower(userAgent)
	flags := ThreatFlags{
		IsBot:            userAgent == "" || containsAny(ua, botMarkers),
		IsHeadless:       containsAny(ua, headlessMarkers),
		IsAutomationTool: containsAny(ua, automationMarkers),
	}

	if bundle != nil && bundle.Automation != nil {
		if bundle.Automation.Webdriver || bundle.Automation.CDPDetected {
			flags.IsAutomationTool = true
		}
		if bundle.Automation.HeadlessUA {
			flags.IsHeadless = true
		}
	}
	if flags.IsHeadless || flags.IsAutomationTool {
		flags.IsBot = true
	}
	return flags
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
