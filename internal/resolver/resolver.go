// Package resolver links free-text product references from edge devices to
// canonical catalog entries: exact alias lookup first, trigram similarity on
// miss. An Index is an immutable snapshot of the catalog, safe for
// concurrent use by any number of transform workers.
package resolver

import (
	"strings"
	"unicode"

	"github.com/retailops/posflow/internal/domain"
)

// Match is a successful resolution.
type Match struct {
	ProductID  string
	Confidence float64
}

type aliasEntry struct {
	norm       string
	grams      map[string]struct{}
	productID  string
	matchCount int64
}

// Index is a catalog snapshot prepared for resolution.
type Index struct {
	threshold float64
	exact     map[string]*aliasEntry
	entries   []*aliasEntry
}

// NewIndex builds an index over the catalog snapshot. threshold is the
// minimum trigram similarity for a fuzzy hit.
func NewIndex(catalog []domain.ProductCatalogEntry, threshold float64) *Index {
	ix := &Index{
		threshold: threshold,
		exact:     make(map[string]*aliasEntry),
	}
	for _, entry := range catalog {
		names := append([]string{entry.CanonicalName}, entry.Aliases...)
		for _, name := range names {
			norm := Normalize(name)
			if norm == "" {
				continue
			}
			ae := &aliasEntry{
				norm:       norm,
				grams:      trigrams(norm),
				productID:  entry.ProductID,
				matchCount: entry.MatchCount,
			}
			ix.entries = append(ix.entries, ae)
			if existing, ok := ix.exact[norm]; !ok || ae.preferOver(existing) {
				ix.exact[norm] = ae
			}
		}
	}
	return ix
}

// Resolve maps raw product text to a catalog product. An exact normalized
// alias hit carries confidence 1.0; a fuzzy hit carries the similarity
// score. The second return is false when nothing clears the threshold.
func (ix *Index) Resolve(rawText string) (Match, bool) {
	norm := Normalize(rawText)
	if norm == "" {
		return Match{}, false
	}

	if ae, ok := ix.exact[norm]; ok {
		return Match{ProductID: ae.productID, Confidence: 1.0}, true
	}

	grams := trigrams(norm)
	var best *aliasEntry
	var bestSim float64
	for _, ae := range ix.entries {
		sim := jaccard(grams, ae.grams)
		if sim < ix.threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && ae.preferOver(best)) {
			best = ae
			bestSim = sim
		}
	}
	if best == nil {
		return Match{}, false
	}
	return Match{ProductID: best.productID, Confidence: bestSim}, true
}

// preferOver breaks ties deterministically: higher historical match
// frequency wins, then the lexicographically smaller product id.
func (ae *aliasEntry) preferOver(other *aliasEntry) bool {
	if ae.matchCount != other.matchCount {
		return ae.matchCount > other.matchCount
	}
	return ae.productID < other.productID
}

// Normalize case-folds, strips punctuation, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// trigrams returns the padded character trigram set of s, the same shape
// Postgres pg_trgm uses.
func trigrams(s string) map[string]struct{} {
	padded := "  " + s + " "
	grams := make(map[string]struct{})
	for i := 0; i+3 <= len(padded); i++ {
		grams[padded[i:i+3]] = struct{}{}
	}
	return grams
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var inter int
	for g := range small {
		if _, ok := large[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
