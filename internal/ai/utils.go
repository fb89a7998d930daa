package ai

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// safeTruncateString truncates s to maxLen bytes without splitting a UTF-8 sequence
func safeTruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncated := s[:maxLen]
	for i := 0; i < 4 && len(truncated) > 0; i++ {
		if utf8.ValidString(truncated) {
			return truncated
		}
		truncated = truncated[:len(truncated)-1]
	}
	return ""
}

// parsePackage cleans a model answer into a package id. The model is told to
// answer with the id only, but quotes, backticks and trailing prose show up.
func parsePackage(text string) (string, bool) {
	fields := strings.Fields(strings.ToLower(text))
	for _, f := range fields {
		f = strings.Trim(f, "`'\".,:;()[]")
		if isPackageID(f) {
			return f, true
		}
	}
	return "", false
}

func isPackageID(s string) bool {
	if !strings.Contains(s, ".") || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
		for i, r := range seg {
			if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
				continue
			}
			return false
		}
	}
	return true
}

// parseSeverity extracts the first integer from a model answer.
func parseSeverity(text string) (int, bool) {
	start := -1
	for i, r := range text {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.Atoi(text[start:i])
			return n, err == nil
		}
	}
	if start < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(text[start:])
	return n, err == nil
}
