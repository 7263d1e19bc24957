package callback

// RawCallback is an inbound webhook exactly as received.
type RawCallback struct {
	RemoteIP   string
	PathSecret string
	Body       []byte
}

// NormalizedCallback is a validated provider callback. ResultCode 0 means the
// buyer paid; anything else is a failed or cancelled payment.
type NormalizedCallback struct {
	CorrelationToken string
	ReceiptID        string
	ResultCode       int
	ResultDesc       string
	// Amount is the decimal string reported by the provider; empty on failures.
	Amount      string
	PhoneNumber string
	// RawDigest is the hex BLAKE3-256 of the body, kept for replay forensics.
	RawDigest string
}

// Succeeded reports whether the provider confirmed payment.
func (c NormalizedCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// RejectionReason classifies why a callback was not accepted.
type RejectionReason string

const (
	ReasonSourceNotAllowed RejectionReason = "source_not_allowed"
	ReasonInvalidSecret    RejectionReason = "invalid_secret"
	ReasonMalformedPayload RejectionReason = "malformed_payload"
	ReasonMissingField     RejectionReason = "missing_field"
)

// Rejection explains a refused callback. Detail is for logs only.
type Rejection struct {
	Reason RejectionReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}
