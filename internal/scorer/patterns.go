package scorer

import (
	"regexp"
	"strings"
)

// Category names the five pattern families in the v1 taxonomy. Any change
// to this set is a ruleset version bump (SPEC_FULL.md §3.2).
type Category string

const (
	CategoryPhone       Category = "phone"
	CategoryEmail       Category = "email"
	CategoryURL         Category = "url"
	CategorySocial      Category = "social"
	CategoryObfuscation Category = "obfuscation"
)

// RulesetVersion identifies the pattern taxonomy, weights, and scoring
// formula implemented below. It rides along on every StreamEvent.
const RulesetVersion = "v1"

// weights maps each category to its contribution in the scoring formula.
var weights = map[Category]float64{
	CategoryPhone:       0.85,
	CategoryEmail:       0.80,
	CategoryURL:         0.50,
	CategorySocial:      0.40,
	CategoryObfuscation: 0.15,
}

// labelForCategory maps a matched category to its output label, in the
// canonical pipeline order phone, email, url, social, obfuscation.
var labelForCategory = map[Category]string{
	CategoryPhone:       "contact_info_phone",
	CategoryEmail:       "contact_info_email",
	CategoryURL:         "external_link",
	CategorySocial:      "social_platform_mention",
	CategoryObfuscation: "obfuscation_detected",
}

// categoryOrder is the canonical scan/label order.
var categoryOrder = []Category{
	CategoryPhone,
	CategoryEmail,
	CategoryURL,
	CategorySocial,
	CategoryObfuscation,
}

// shortenerHosts are known URL-shortener hosts that count as an `url` match
// even without an explicit scheme, as long as a path segment follows.
var shortenerHosts = []string{"bit.ly", "tinyurl.com", "goo.gl", "t.co", "short.link"}

// socialKeywords are word-bounded, case-insensitive platform mentions.
var socialKeywords = []string{
	"whatsapp", "telegram", "snapchat", "snap", "insta", "instagram",
	"discord", "kik", "signal",
}

// patternSets holds, per category, the full set of regexes that must all be
// scanned; every regex's matches are trimmed and unioned within the
// category (spec.md §4.1: "a content string is scanned by every regex in
// the category... unioned into a set").
var patternSets = map[Category][]*regexp.Regexp{
	CategoryPhone: {
		// International: + or 00 prefix, 1-3 digit country code, optional
		// separators, 1-4 then 1-4 then 1-9 digit groups.
		regexp.MustCompile(`(?:\+|00)\d{1,3}[\s.-]?\d{1,4}[\s.-]?\d{1,4}[\s.-]?\d{1,9}`),
		// US grouped: (DDD) DDD-DDDD or DDD-DDD-DDDD variants.
		regexp.MustCompile(`\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`),
		// Condensed: 10-15 consecutive digits as a whole word.
		regexp.MustCompile(`\b\d{10,15}\b`),
	},
	CategoryEmail: {
		// Standard RFC-shape local@domain.tld.
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		// Spoken "at/dot" obfuscation, case-insensitive, parens optional.
		regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+\s*\(?\s*at\s*\)?\s*[A-Za-z0-9.-]+\s*\(?\s*dot\s*\)?\s*[A-Za-z]{2,}\b`),
		// Spaced letters around @: "j o h n @ example . com".
		regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+\s+@\s+[A-Za-z0-9.-]+\s*\.\s*[A-Za-z]{2,}\b`),
	},
	CategoryURL: {
		regexp.MustCompile(`(?i)\bhttps?://\S+`),
		regexp.MustCompile(`(?i)\bwww\.\S+`),
		regexp.MustCompile(`(?i)\b(?:` + strings.Join(escapeAll(shortenerHosts), "|") + `)/\S+`),
	},
	CategorySocial: {
		regexp.MustCompile(`(?i)\b(?:` + strings.Join(socialKeywords, "|") + `)\b`),
		regexp.MustCompile(`(?i)\bdm me\b`),
		regexp.MustCompile(`(?i)\btext me\b`),
		regexp.MustCompile(`(?i)\bcontact (?:me|us) (?:at|on)\b`),
	},
	CategoryObfuscation: {
		// Two alphanumerics separated by two or more whitespace characters.
		regexp.MustCompile(`\b[A-Za-z0-9]\s{2,}[A-Za-z0-9]\b`),
		regexp.MustCompile(`(?i)\(at\).*\(dot\)`),
		regexp.MustCompile(`(?i)\b(?:zero|one|two|three|four|five|six|seven|eight|nine)\b`),
	},
}

// escapeAll quotes regexp metacharacters (here, the literal dots in
// shortener hostnames) so the joined alternation matches them literally.
func escapeAll(hosts []string) []string {
	escaped := make([]string, len(hosts))
	for i, h := range hosts {
		escaped[i] = regexp.QuoteMeta(h)
	}
	return escaped
}
