package normalize

import (
	"strings"
	"unicode"

	"github.com/agenthands/geargraph/internal/core/model"
)

// IsSentinel reports whether s is a placeholder meaning "no value".
func IsSentinel(s string) bool {
	return model.IsPlaceholder(s)
}

// Display trims and collapses whitespace, keeping case.
func Display(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// KeyText lower-cases s, folds punctuation to spaces and collapses
// whitespace. Digits keep their decimal point, degree sign and trailing plus.
func KeyText(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == '°':
			b.WriteRune(r)
		case r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// "women's" -> "womens"
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func Tokens(s string) []string {
	return strings.Fields(KeyText(s))
}

// StripBrand removes a leading brand from a normalized name. The name is
// returned unchanged if stripping would leave nothing.
func StripBrand(name, brand string) string {
	name, brand = KeyText(name), KeyText(brand)
	if brand == "" || name == brand {
		return name
	}
	if strings.HasPrefix(name, brand+" ") {
		return strings.TrimSpace(name[len(brand)+1:])
	}
	return name
}
