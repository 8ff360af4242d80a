// Package normalizers canonicalizes identifier values before they are compared
package normalizers

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/nyaruka/phonenumbers"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

// kindChains maps an identifier kind to the normalizers applied to it, in order
var kindChains = map[models.IdentifierKind][]string{
	models.IdentifierKindEmail:    {"nemail"},
	models.IdentifierKindPhone:    {"nphone"},
	models.IdentifierKindHash:     {"nhash"},
	models.IdentifierKindCrypto:   {"ncrypto"},
	models.IdentifierKindUsername: {"nhandle"},
	models.IdentifierKindURL:      {"nurl"},
	models.IdentifierKindName:     {"nname"},
	models.IdentifierKindAddress:  {"naddress"},
	models.IdentifierKindText:     {"trim", "lowercase", "collapse_whitespace"},
}

var (
	spaceRe   = regexp.MustCompile(`\s+`)
	hexRe     = regexp.MustCompile(`^[0-9a-f]+$`)
	schemeRe  = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	hashAlgRe = regexp.MustCompile(`^(md5|sha1|sha256|sha512|sha-1|sha-256|sha-512):`)
)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("naddress", NormalizeAddress)
	Register("nhash", NormalizeHash)
	Register("ncrypto", NormalizeCrypto)
	Register("nhandle", NormalizeHandle)
	Register("nurl", NormalizeURL)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// ForKind normalizes a value according to its identifier kind. Unknown kinds fall back
// to the text chain.
func ForKind(kind models.IdentifierKind, value string) string {
	chain, ok := kindChains[kind]
	if !ok {
		chain = kindChains[models.IdentifierKindText]
	}
	return ApplyChain(value, chain...)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// CollapseWhitespace turns any whitespace run into a single space
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// DefaultPhoneRegion is the region assumed for phone numbers written without a country code
const DefaultPhoneRegion = "US"

var phoneRegion atomic.Value

// SetPhoneRegion changes the region assumed for national phone numbers. An empty
// region restores DefaultPhoneRegion.
func SetPhoneRegion(region string) {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultPhoneRegion
	}
	phoneRegion.Store(region)
}

// PhoneRegion returns the region assumed for national phone numbers
func PhoneRegion() string {
	if region, ok := phoneRegion.Load().(string); ok {
		return region
	}
	return DefaultPhoneRegion
}

// NormalizePhone converts a phone number to E.164 using PhoneRegion for national numbers
func NormalizePhone(s string) string {
	return NormalizePhoneIn(s, PhoneRegion())
}

// NormalizePhoneIn converts a phone number to E.164, reading national numbers as
// belonging to region. Trunk prefixes such as "(0)" are dropped. Numbers that do not
// parse as valid keep their digits, with a "+" only when one was written.
func NormalizePhoneIn(s, region string) string {
	s = strings.TrimSpace(s)
	digits := DigitsOnly(s)
	if digits == "" {
		return ""
	}
	international := strings.HasPrefix(s, "+")
	if !international && strings.HasPrefix(digits, "00") {
		s = "+" + digits[2:]
		international = true
	}

	if num, err := phonenumbers.Parse(s, region); err == nil {
		if phonenumbers.IsValidNumber(num) || (international && phonenumbers.IsPossibleNumber(num)) {
			return phonenumbers.Format(num, phonenumbers.E164)
		}
	}

	if !international {
		return digits
	}
	return "+" + DigitsOnly(s)
}

// NormalizeEmail normalizes an email address (lowercase, trim, strip mailto:)
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "mailto:")
}

// NormalizeHash lowercases a hex digest and drops an optional "sha256:" style prefix.
// Non-hex digests (base64) keep their case.
func NormalizeHash(s string) string {
	s = strings.TrimSpace(s)
	stripped := hashAlgRe.ReplaceAllString(strings.ToLower(s), "")
	if hexRe.MatchString(stripped) {
		return stripped
	}
	if i := strings.Index(s, ":"); i >= 0 && hashAlgRe.MatchString(strings.ToLower(s[:i+1])) {
		return s[i+1:]
	}
	return s
}

// NormalizeCrypto canonicalizes a wallet address. Hex (0x) and bech32 addresses are
// case-insensitive and get lowercased. Base58 addresses are case-sensitive.
func NormalizeCrypto(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "0x"):
		return lower
	case strings.HasPrefix(lower, "bc1"), strings.HasPrefix(lower, "tb1"), strings.HasPrefix(lower, "ltc1"):
		return lower
	default:
		return s
	}
}

// NormalizeHandle strips a leading "@" and lowercases a social handle
func NormalizeHandle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "@")
}

// NormalizeURL lowercases a URL and drops the scheme, a leading "www." and trailing slashes
func NormalizeURL(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = schemeRe.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimRight(s, "/")
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeName normalizes a person's name for matching
// - Lowercase
// - Remove extra whitespace
// - Remove common suffixes (Jr., Sr., III, etc.)
// - Remove punctuation
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " phd", " md", " dds"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) || r == '-' || r == '_' {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var addressReplacements = []struct{ full, abbr string }{
	{" street", " st"},
	{" avenue", " ave"},
	{" boulevard", " blvd"},
	{" drive", " dr"},
	{" road", " rd"},
	{" lane", " ln"},
	{" court", " ct"},
	{" circle", " cir"},
	{" place", " pl"},
	{" apartment", " apt"},
	{" suite", " ste"},
	{" north", " n"},
	{" south", " s"},
	{" east", " e"},
	{" west", " w"},
}

// NormalizeAddress normalizes an address string
func NormalizeAddress(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(",", " ", ".", "", "#", " ").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")

	for _, r := range addressReplacements {
		s = replaceWord(s, r.full, r.abbr)
	}

	return strings.TrimSpace(s)
}

// replaceWord replaces full with abbr only where full ends at a word boundary
func replaceWord(s, full, abbr string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, full)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := i + len(full)
		if end < len(s) && s[end] != ' ' {
			b.WriteString(s[:end])
			s = s[end:]
			continue
		}
		b.WriteString(s[:i])
		b.WriteString(abbr)
		s = s[end:]
	}
}
