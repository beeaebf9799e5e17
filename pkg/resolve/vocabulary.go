package resolve

import "strings"

// Relationship vocabulary. Predicates outside this set canonicalize to
// RelatedTo.
const (
	RelAcquired      = "ACQUIRED"
	RelOwns          = "OWNS"
	RelInvestedIn    = "INVESTED_IN"
	RelPartneredWith = "PARTNERED_WITH"
	RelHasCEO        = "HAS_CEO"
	RelHasExecutive  = "HAS_EXECUTIVE"
	RelLaunched      = "LAUNCHED"
	RelProduces      = "PRODUCES"
	RelCompetesWith  = "COMPETES_WITH"
	RelSued          = "SUED"
	RelSupplies      = "SUPPLIES"
	RelAnnounced     = "ANNOUNCED"
	RelReported      = "REPORTED"
	RelRelatedTo     = "RELATED_TO"
)

var vocabulary = map[string]struct{}{
	RelAcquired: {}, RelOwns: {}, RelInvestedIn: {}, RelPartneredWith: {},
	RelHasCEO: {}, RelHasExecutive: {}, RelLaunched: {}, RelProduces: {},
	RelCompetesWith: {}, RelSued: {}, RelSupplies: {}, RelAnnounced: {},
	RelReported: {}, RelRelatedTo: {},
}

// Extractors phrase the same relation many ways; fold the common verb
// forms onto the vocabulary before giving up.
var predicateSynonyms = map[string]string{
	"ACQUIRE":       RelAcquired,
	"ACQUIRES":      RelAcquired,
	"ACQUISITION":   RelAcquired,
	"BOUGHT":        RelAcquired,
	"BUYS":          RelAcquired,
	"PURCHASED":     RelAcquired,
	"OWN":           RelOwns,
	"INVESTS_IN":    RelInvestedIn,
	"INVESTED":      RelInvestedIn,
	"PARTNERS_WITH": RelPartneredWith,
	"PARTNERED":     RelPartneredWith,
	"PARTNERSHIP":   RelPartneredWith,
	"LED_BY":        RelHasExecutive,
	"LAUNCHES":      RelLaunched,
	"RELEASED":      RelLaunched,
	"UNVEILED":      RelLaunched,
	"MAKES":         RelProduces,
	"MANUFACTURES":  RelProduces,
	"COMPETES":      RelCompetesWith,
	"SUES":          RelSued,
	"SUPPLIES_TO":   RelSupplies,
	"SUPPLIER_OF":   RelSupplies,
	"ANNOUNCES":     RelAnnounced,
	"REPORTS":       RelReported,
}

// Passive and role-of phrasings state the relation from the object's
// side: "(Beats, owned by, Apple)" means Apple owns Beats, and
// "(Cook, ceo of, Apple)" means Apple has CEO Cook. They map onto the
// active vocabulary with subject and object swapped.
var invertedPredicates = map[string]string{
	"OWNED_BY":     RelOwns,
	"ACQUIRED_BY":  RelAcquired,
	"SUED_BY":      RelSued,
	"CEO_OF":       RelHasCEO,
	"CEO":          RelHasCEO,
	"EXECUTIVE_OF": RelHasExecutive,
}

// NormalizePredicate maps a raw extractor predicate onto the fixed
// relationship vocabulary. Unrecognized predicates become RELATED_TO.
func NormalizePredicate(predicate string) string {
	relType, _ := normalizePredicate(predicate)
	return relType
}

// normalizePredicate additionally reports whether the phrasing is
// inverted, in which case the caller must swap subject and object.
func normalizePredicate(predicate string) (string, bool) {
	p := strings.TrimSpace(strings.ToUpper(predicate))
	p = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, p)
	p = strings.Trim(p, "_")
	for strings.Contains(p, "__") {
		p = strings.ReplaceAll(p, "__", "_")
	}

	if _, ok := vocabulary[p]; ok {
		return p, false
	}
	if mapped, ok := predicateSynonyms[p]; ok {
		return mapped, false
	}
	if mapped, ok := invertedPredicates[p]; ok {
		return mapped, true
	}
	return RelRelatedTo, false
}
