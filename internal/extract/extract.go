// Package extract holds the stateless text matchers applied to
// notification payloads: amount extraction, time extraction and
// keyword relevance. All functions are pure; a miss is an empty
// result, never an error.
package extract

import (
	"regexp"
	"strings"
)

// UnknownAmount is the sentinel stored and sent when a captured event
// carries no recognizable amount.
const UnknownAmount = "S/ ?"

// DefaultKeywords is the built-in relevance list. The pipeline accepts
// a configured override; this is only the fallback.
var DefaultKeywords = []string{
	"te yapearon",
	"te han yapeado",
	"recibiste un yape",
	"recibiste dinero",
	"yape",
}

var (
	// Currency prefix variants "S/", "S." and "S/." followed by a value
	// with up to two decimals, "." or "," separated.
	amountRe = regexp.MustCompile(`(?i)(s/\s*|s\.\s*|s/\.\s*)([0-9]+([.,][0-9]{1,2})?)`)

	// HH:MM, hour 0-23 with optional zero padding, minute 0-59.
	timeRe = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):[0-5]\d\b`)
)

// Amount returns the first currency match normalized to "S/ <value>"
// with "." as the decimal separator, or "" when the text has none.
func Amount(text string) string {
	m := amountRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return "S/ " + strings.ReplaceAll(m[2], ",", ".")
}

// Time returns the first HH:MM match verbatim, or "".
func Time(text string) string {
	return timeRe.FindString(text)
}

// Relevant reports whether text looks like a payment event: it carries
// an amount, or its lowercased form contains any keyword.
func Relevant(text string, keywords []string) bool {
	if Amount(text) != "" {
		return true
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
