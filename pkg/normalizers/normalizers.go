// Package normalizers canonicalizes client identifiers so they can be compared.
// Every normalizer is total: it never fails, maps empty input to empty output and
// is idempotent.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes one identifier kind
type Normalizer func(string) string

// registry holds the named normalizers. Register is meant for init time.
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", strings.ToLower)
	Register("trim", strings.TrimSpace)
	Register("fold", Fold)
	Register("digits_only", DigitsOnly)
	Register("strip_diacritics", StripDiacritics)
	Register("nname", NormalizeName)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("ntax_id", NormalizeTaxID)
}

// Register adds or replaces a named normalizer
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply runs the named normalizer. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies normalizers in order
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Fold trims and lower-cases free text.
func Fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DigitsOnly keeps only ASCII digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// StripDiacritics removes combining marks: "João" -> "Joao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(s string) string {
	return Fold(s)
}

// NormalizeTaxID keeps only the digits of a national tax identifier.
// Checksums are not validated here.
func NormalizeTaxID(s string) string {
	return DigitsOnly(s)
}
