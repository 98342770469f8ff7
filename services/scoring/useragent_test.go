package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linkshield/cloaker/internal/enum"
)

func TestDetectDevice(t *testing.T) {
	cases := []struct {
		name string
		ua   string
		want enum.DeviceCategory
	}{
		{"empty", "", enum.DeviceUnknown},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", enum.DeviceBot},
		{"curl", "curl/8.4.0", enum.DeviceBot},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15", enum.DeviceMobile},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 Mobile Safari/537.36", enum.DeviceMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15", enum.DeviceTablet},
		{"android tablet", "Mozilla/5.0 (Linux; Android 14; SM-X910) AppleWebKit/537.36 Safari/537.36", enum.DeviceTablet},
		{"windows desktop", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", enum.DeviceDesktop},
		{"mac desktop", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36", enum.DeviceDesktop},
		{"chromeos", "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36", enum.DeviceDesktop},
		{"unknown", "SomeExoticAgent/1.0", enum.DeviceUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectDevice(tc.ua))
		})
	}
}

func TestDetectThreats_UserAgentMarkers(t *testing.T) {
	flags := DetectThreats("Mozilla/5.0 HeadlessChrome/120.0", nil)
	assert.True(t, flags.IsBot)
	assert.True(t, flags.IsHeadless)

	flags = DetectThreats("selenium/4.0", nil)
	assert.True(t, flags.IsBot)
	assert.True(t, flags.IsAutomationTool)

	flags = DetectThreats("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", nil)
	assert.False(t, flags.IsBot)
	assert.False(t, flags.IsHeadless)
	assert.False(t, flags.IsAutomationTool)
}

func TestDetectThreats_EmptyUserAgentIsBot(t *testing.T) {
	flags := DetectThreats("", nil)
	assert.True(t, flags.IsBot)
}

func TestDetectThreats_BundleOutranksUserAgent(t *testing.T) {
	cleanUA := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	flags := DetectThreats(cleanUA, &SignalBundle{Automation: &AutomationSignals{Webdriver: true}})
	assert.True(t, flags.IsAutomationTool)
	assert.True(t, flags.IsBot, "automation implies bot")

	flags = DetectThreats(cleanUA, &SignalBundle{Automation: &AutomationSignals{CDPDetected: true}})
	assert.True(t, flags.IsAutomationTool)

	flags = DetectThreats(cleanUA, &SignalBundle{Automation: &AutomationSignals{HeadlessUA: true}})
	assert.True(t, flags.IsHeadless)
	assert.True(t, flags.IsBot)
}
