package utils

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func GenerateNanoID() string {
	id, _ := gonanoid.Generate(idAlphabet, 21)
	return id
}

func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, _ := gonanoid.Generate(idAlphabet, length)
	return fmt.Sprintf("%s_%s", prefix, id)
}

// GenerateSlug returns a short random slug for links created without one.
func GenerateSlug() string {
	slug, _ := gonanoid.Generate(idAlphabet, 10)
	return slug
}

// GenerateVerificationToken returns an opaque token suitable for a DNS TXT
// challenge record.
func GenerateVerificationToken() string {
	token, _ := gonanoid.Generate(idAlphabet, 32)
	return "cloaker-verify-" + token
}
