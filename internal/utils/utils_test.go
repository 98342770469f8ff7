package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"go.example.com":                  "go.example.com",
		"  GO.Example.COM  ":              "go.example.com",
		"https://go.example.com/":         "go.example.com",
		"http://go.example.com/path?q=1":  "go.example.com",
		"go.example.com:8080":             "go.example.com",
		"go.example.com.":                 "go.example.com",
		"https://Go.Example.com:443/a#b":  "go.example.com",
		"":                                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDomain(in), "input %q", in)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"en":              "en",
		"en-US":           "en",
		"EN-us;q=0.9":     "en",
		"de-DE,de;q=0.8":  "de",
		" pt-BR ":         "pt",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLanguage(in), "input %q", in)
	}
}

func TestSameCalendarDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)

	a := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	b := time.Date(2026, 3, 16, 0, 30, 0, 0, time.UTC)

	assert.False(t, SameCalendarDay(a, b, time.UTC))
	// both instants are the afternoon/evening of March 15 in New York
	assert.True(t, SameCalendarDay(a, b, ny))
}

func TestIsStringInSlice(t *testing.T) {
	assert.True(t, IsStringInSlice("b", []string{"a", "b"}))
	assert.False(t, IsStringInSlice("B", []string{"a", "b"}))
	assert.False(t, IsStringInSlice("a", nil))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold("https://m.FACEBOOK.com/x", []string{"facebook.com"}))
	assert.False(t, ContainsFold("https://example.com", []string{"facebook.com"}))
	assert.False(t, ContainsFold("", []string{"facebook.com"}))
}

func TestGenerateNanoIDWithPrefix(t *testing.T) {
	id := GenerateNanoIDWithPrefix("link", 16)
	assert.True(t, strings.HasPrefix(id, "link_"))
	assert.Len(t, id, len("link_")+16)

	assert.NotEqual(t, GenerateNanoIDWithPrefix("link", 16), GenerateNanoIDWithPrefix("link", 16))
}

func TestGenerateSlug(t *testing.T) {
	slug := GenerateSlug()
	assert.NotEmpty(t, slug)
	assert.NotContains(t, slug, "_")
}
