package tasks

import (
	"strings"

	"telxfwd/internal/models"
)

const (
	SkipFiltered = "filtered"
	SkipExcluded = "excluded"
)

// FilterMessage applies the pair's keyword rules to text. Matching is a
// case-insensitive substring test. It returns the skip reason, or "" when the
// message passes.
func FilterMessage(pair *models.ForwardingPair, text string) string {
	text = strings.ToLower(text)

	if len(pair.FilterKeywords) > 0 && !containsAny(text, pair.FilterKeywords) {
		return SkipFiltered
	}
	if containsAny(text, pair.ExcludeKeywords) {
		return SkipExcluded
	}
	return ""
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// FormatMessage applies header and footer edits first, then the prefix and
// suffix decoration.
func FormatMessage(pair *models.ForwardingPair, text string) string {
	out := text
	if pair.RemoveHeader {
		out = dropFirstLine(out)
	}
	if pair.RemoveFooter {
		out = dropLastLine(out)
	}
	if pair.CustomHeader != "" {
		out = pair.CustomHeader + "\n" + out
	}
	if pair.CustomFooter != "" {
		out = out + "\n" + pair.CustomFooter
	}
	if pair.CustomPrefix != "" {
		out = pair.CustomPrefix + " " + out
	}
	if pair.CustomSuffix != "" {
		out = out + " " + pair.CustomSuffix
	}
	return out
}

// single-line messages are left alone
func dropFirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func dropLastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
