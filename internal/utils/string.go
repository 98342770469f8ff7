package utils

import (
	"strings"
)

// NormalizeDomain lowercases a domain and strips scheme, path and trailing
// dot so that "HTTPS://Promo.Example.com/" and "promo.example.com" compare
// equal.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(strings.ToLower(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if idx := strings.IndexAny(domain, "/?#"); idx >= 0 {
		domain = domain[:idx]
	}
	if idx := strings.Index(domain, ":"); idx >= 0 {
		domain = domain[:idx]
	}
	return strings.TrimSuffix(domain, ".")
}

// NormalizeLanguage reduces an Accept-Language entry to its primary subtag,
// e.g. "en-US;q=0.9" -> "en".
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if idx := strings.IndexAny(lang, ";,"); idx >= 0 {
		lang = lang[:idx]
	}
	if idx := strings.Index(lang, "-"); idx >= 0 {
		lang = lang[:idx]
	}
	return strings.TrimSpace(lang)
}
