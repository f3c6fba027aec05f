// Package slug derives unique URL-safe post identifiers from titles.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is used when a title normalises to nothing.
const Fallback = "untitled"

// MaxLen bounds the length of an allocated slug, suffix included.
const MaxLen = 200

// maxSuffixLen is the longest "-N" suffix SnapshotPrefix accounts for.
const maxSuffixLen = len("-999999")

// Base normalises title to lowercase ASCII alphanumerics separated by single
// hyphens. Accented letters are folded to their base letter first.
func Base(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	folded = cases.Lower(language.Und).String(folded)

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	out := b.String()
	if len(out) > MaxLen {
		out = strings.TrimRight(out[:MaxLen], "-")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// Taken reports whether a candidate slug is already in use.
type Taken func(candidate string) (bool, error)

// Allocate returns Base(title) if free, otherwise the first free
// "{base}-N" for N = 1, 2, ...
//
// The check is advisory: another writer may claim the same slug between
// Allocate and the insert, so callers must still handle a uniqueness
// violation from the store.
func Allocate(title string, taken Taken) (string, error) {
	base := Base(title)
	for n := 0; ; n++ {
		candidate := withSuffix(base, n)
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
	}
}

// SnapshotPrefix returns a prefix shared by every candidate Allocate tries
// for base, up to six-digit suffixes. Long bases are shortened before a
// suffix is appended, so their candidates only share a truncated prefix.
func SnapshotPrefix(base string) string {
	if len(base)+maxSuffixLen <= MaxLen {
		return base
	}
	return strings.TrimRight(base[:MaxLen-maxSuffixLen], "-")
}

// FromSet adapts a snapshot of used slugs to Taken.
func FromSet(used map[string]struct{}) Taken {
	return func(candidate string) (bool, error) {
		_, ok := used[candidate]
		return ok, nil
	}
}

func withSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	suffix := "-" + strconv.Itoa(n)
	if len(base)+len(suffix) > MaxLen {
		base = strings.TrimRight(base[:MaxLen-len(suffix)], "-")
	}
	return base + suffix
}
