package domain

import "time"

// Transaction statuses. A transaction is immutable after cleaning except for
// quality-flag annotations appended by the quality gate.
const (
	TxnStatusCleaned = "cleaned"
)

// Transaction is one validated point-of-sale transaction in the silver store.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	StoreID       string    `json:"store_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	TotalAmount   float64   `json:"total_amount"`
	Status        string    `json:"status"`
	QualityFlags  []string  `json:"quality_flags,omitempty"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// Flagged reports whether the quality gate has annotated this transaction
// with the given rule name.
func (t *Transaction) Flagged(rule string) bool {
	for _, f := range t.QualityFlags {
		if f == rule {
			return true
		}
	}
	return false
}

// LineItem is one line of a cleaned transaction. ResolvedProductID and
// ResolutionConfidence are nil when the entity resolver found no catalog
// match above its similarity threshold.
type LineItem struct {
	TransactionID        string   `json:"transaction_id"`
	LineSeq              int      `json:"line_seq"`
	RawProductText       string   `json:"raw_product_text"`
	ResolvedProductID    *string  `json:"resolved_product_id,omitempty"`
	ResolutionConfidence *float64 `json:"resolution_confidence,omitempty"`
	Quantity             float64  `json:"quantity"`
	UnitPrice            float64  `json:"unit_price"`
	LineAmount           float64  `json:"line_amount"`
}

// Resolved reports whether this line item was linked to a catalog product.
func (li *LineItem) Resolved() bool {
	return li.ResolvedProductID != nil
}
