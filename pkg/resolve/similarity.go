package resolve

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// normalizeName lowercases, strips punctuation and collapses runs of
// whitespace. This is the form entity identity is derived from.
func normalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var corporateSuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "corp": {}, "corporation": {},
	"ltd": {}, "limited": {}, "llc": {}, "plc": {}, "co": {},
	"company": {}, "holdings": {}, "group": {}, "sa": {}, "ag": {},
}

// matchName additionally drops trailing corporate suffixes, so
// "Apple Inc." and "Apple" compare as the same string. At least one
// token always survives.
func matchName(name string) string {
	tokens := strings.Fields(normalizeName(name))
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := corporateSuffixes[last]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// blockKey buckets mentions for pairwise comparison. Keying on the
// first token alone keeps "Apple" and "Apple Inc." in one block while
// bounding comparison cost.
func blockKey(name string) string {
	m := matchName(name)
	if i := strings.IndexByte(m, ' '); i > 0 {
		return m[:i]
	}
	return m
}

// typeWeight scores type agreement. The generic type is allowed to
// compare against specific types at a discount; two different specific
// types never merge.
func typeWeight(a, b string) float64 {
	switch {
	case a == b:
		return 1.0
	case a == common.TypeEntity || b == common.TypeEntity:
		return 0.75
	default:
		return 0.0
	}
}

// score is the pairwise mention similarity: normalized levenshtein
// similarity of the suffix-stripped names, weighted by type agreement.
func score(nameA, typeA, nameB, typeB string, params *levenshtein.Params) float64 {
	w := typeWeight(typeA, typeB)
	if w == 0 {
		return 0
	}
	a, b := matchName(nameA), matchName(nameB)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return w
	}
	return levenshtein.Similarity(a, b, params) * w
}
