package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonSlugChars     = regexp.MustCompile(`[^a-z0-9]+`)
	nonMatchChars    = regexp.MustCompile(`[^a-z0-9]`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
	trailingDigits   = regexp.MustCompile(`(\d+)\D*$`)
	firstNumberMatch = regexp.MustCompile(`\d+`)
)

// StripAccents removes combining marks (á -> a, ñ -> n)
func StripAccents(value string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return result
}

// NormalizeIdentifier turns free text into a document-id slug: "Ruta Ñandú 3" -> "ruta-nandu-3"
func NormalizeIdentifier(value string) string {
	text := strings.TrimSpace(value)
	if text == "" {
		return ""
	}
	text = strings.ToLower(StripAccents(text))
	text = nonSlugChars.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// NormalizeRoute lowercases a route name and collapses whitespace
func NormalizeRoute(route string) string {
	return whitespaceRuns.ReplaceAllString(strings.ToLower(strings.TrimSpace(route)), " ")
}

// RouteID derives the document id used for a route name.
// Accents are not folded here, matching ids already stored in production.
func RouteID(route string) string {
	text := strings.ToLower(strings.TrimSpace(route))
	if text == "" {
		return ""
	}
	text = nonSlugChars.ReplaceAllString(text, "-")
	return strings.Trim(text, "-")
}

// NormalizeKeyPart normalizes one component of a stop identity
func NormalizeKeyPart(value string) string {
	text := strings.ToLower(StripAccents(strings.TrimSpace(value)))
	text = strings.ReplaceAll(text, "/", "-")
	return whitespaceRuns.ReplaceAllString(text, " ")
}

// StopKey returns the stop identity: id, else address, else title
func StopKey(id, address, title string) string {
	if key := NormalizeKeyPart(id); key != "" {
		return key
	}
	if key := NormalizeKeyPart(address); key != "" {
		return key
	}
	return NormalizeKeyPart(title)
}

// MatchText reduces text to lowercase ascii letters and digits for fuzzy equality
func MatchText(value string) string {
	text := strings.ToLower(StripAccents(strings.TrimSpace(value)))
	return nonMatchChars.ReplaceAllString(text, "")
}

// FirstAddressSegment returns the part of an address before the first comma
func FirstAddressSegment(address string) string {
	segment, _, _ := strings.Cut(address, ",")
	return strings.TrimSpace(segment)
}

// ParseOrderHint extracts the last run of digits: "paradero-12" -> 12
func ParseOrderHint(value string) (int, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return 0, false
	}
	match := trailingDigits.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	parsed, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// FirstNumber returns the first run of digits in value, if any
func FirstNumber(value string) string {
	return firstNumberMatch.FindString(value)
}

// Unique returns the non-empty values in first-seen order
func Unique(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
