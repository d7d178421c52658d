package util

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases name, folds accents to ASCII where possible and joins
// alphanumeric runs with single dashes. It returns "" when nothing usable is left.
func Slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range norm.NFKD.String(name) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-' || unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			pendingDash = true
		}
	}
	return b.String()
}

// UniqueSlug returns base, or base-1, base-2, ... for the first candidate
// taken reports as free.
func UniqueSlug(base string, taken func(string) (bool, error)) (string, error) {
	candidate := base
	for i := 1; ; i++ {
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}

// FallbackSlug is used when a name slugifies to nothing.
func FallbackSlug(prefix, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return prefix + "-" + short
}
