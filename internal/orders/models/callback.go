package models

import "time"

// Outcome is what reconciliation did with a callback.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeOrderNotFound Outcome = "order_not_found"
	OutcomeConflict      Outcome = "conflict"
	OutcomeRecovered     Outcome = "recovered"
)

// CallbackRecord is the idempotency record for one provider delivery, keyed by
// (CorrelationToken, ReceiptID). A pair is applied at most once.
type CallbackRecord struct {
	CorrelationToken string
	ReceiptID        string
	PayloadDigest    string
	ResultCode       int
	Outcome          Outcome
	ProcessedAt      time.Time
}

// Key is the idempotency key of the record.
func (r CallbackRecord) Key() CallbackKey {
	return CallbackKey{CorrelationToken: r.CorrelationToken, ReceiptID: r.ReceiptID}
}

type CallbackKey struct {
	CorrelationToken string
	ReceiptID        string
}
