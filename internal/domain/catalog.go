package domain

// ProductCatalogEntry is canonical product/brand reference data, owned by an
// external master-data system. This pipeline reads it to build the resolver
// index; the only write it performs is bumping MatchCount, which feeds the
// fuzzy-match tie-break.
type ProductCatalogEntry struct {
	ProductID     string   `json:"product_id"`
	CanonicalName string   `json:"canonical_name"`
	Brand         string   `json:"brand,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
	MatchCount    int64    `json:"match_count"`
}
