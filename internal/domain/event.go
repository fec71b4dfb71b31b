package domain

import (
	"encoding/json"
	"time"
)

// RawEvent is one row in the bronze (append-only) staging store. It is keyed
// by the idempotency hash computed at the gateway, so duplicate submissions
// of the same logical transaction collapse into a single row.
type RawEvent struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"received_at"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	ProcessError   string          `json:"process_error,omitempty"`
}

// Processed reports whether this event has already been picked up and
// finalized by a transform worker (successfully or with an error annotation).
func (e *RawEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// TransactionPayload is the wire format accepted by POST /ingest and staged
// verbatim in the raw store. OccurredAt stays a string here: the gateway only
// guarantees durability and dedup, timestamp parseability is checked by the
// transform worker.
type TransactionPayload struct {
	TransactionID string             `json:"transaction_id"`
	StoreID       string             `json:"store_id"`
	OccurredAt    string             `json:"occurred_at"`
	TotalAmount   float64            `json:"total_amount"`
	LineItems     []LineItemPayload  `json:"line_items"`
}

// LineItemPayload is one line of a submitted transaction.
type LineItemPayload struct {
	ProductText string  `json:"product_text"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineAmount  float64 `json:"line_amount"`
}
