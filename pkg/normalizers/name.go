package normalizers

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Gobusters/ectolinq"
)

// particles are linking words dropped from names
var particles = []string{
	"of", "the", "and",
	"da", "de", "do", "das", "dos",
	"di", "du", "del", "della", "der",
	"van", "von", "la", "le", "e", "y",
}

// gluedPrefixes are particles commonly written fused to the surname ("DaSilva").
// Plural forms are only taken when the remainder starts with s ("dossantos").
var gluedPrefixes = []string{"dos", "das", "da", "de", "do"}

const minSurnameRunes = 4

func isParticle(token string) bool {
	return ectolinq.Contains(particles, token)
}

// NormalizeName lower-cases, strips diacritics, splits on anything that is not a
// letter or digit, drops linking particles and unglues a particle fused onto the
// final surname. Tokens are rejoined with single spaces.
func NormalizeName(s string) string {
	s = StripDiacritics(strings.ToLower(s))

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}

	kept := ectolinq.Filter(tokens, func(token string) bool {
		return !isParticle(token)
	})
	if len(kept) == 0 {
		// a name made only of particles is kept as written
		return strings.Join(tokens, " ")
	}

	if len(kept) > 1 {
		kept[len(kept)-1] = unglue(kept[len(kept)-1])
	}
	return strings.Join(kept, " ")
}

// unglue strips fused particles until none applies, so the result is a fixed point.
func unglue(token string) string {
	for {
		stripped, ok := stripGluedPrefix(token)
		if !ok {
			return token
		}
		token = stripped
	}
}

func stripGluedPrefix(token string) (string, bool) {
	for _, prefix := range gluedPrefixes {
		if !strings.HasPrefix(token, prefix) {
			continue
		}
		rest := token[len(prefix):]
		if len(prefix) == 3 && !strings.HasPrefix(rest, "s") {
			continue
		}
		if utf8.RuneCountInString(rest) < minSurnameRunes || isParticle(rest) {
			continue
		}
		return rest, true
	}
	return token, false
}
