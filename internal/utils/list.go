package utils

import "strings"

func IsStringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

// ContainsFold reports whether any entry of slice is contained in s,
// case-insensitively. Used for referrer substring matching.
func ContainsFold(s string, slice []string) bool {
	s = strings.ToLower(s)
	for _, item := range slice {
		if item == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(item)) {
			return true
		}
	}
	return false
}
