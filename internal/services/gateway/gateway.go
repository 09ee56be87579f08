package gateway

import "encoding/json"

// PaymentRequest is the provider-neutral shape for a collection
// (pull from customer) or disbursement (push to customer) call.
type PaymentRequest struct {
	Amount      int64
	Currency    string
	PhoneNumber string
	ExternalID  string
	Message     string
}

// Result normalizes the provider's synchronous answer. Success here only
// means the provider accepted the request; the terminal outcome arrives
// later via webhook or status poll.
type Result struct {
	Success     bool
	ReferenceID string
	Status      string
	Error       string
}

// StatusResult carries a status-poll answer plus the raw provider body
// for the transaction metadata audit trail.
type StatusResult struct {
	Success bool
	Status  string
	RawData json.RawMessage
	Error   string
}

// Gateway hides provider-specific auth and wire shapes. Implementations
// never return Go errors across this boundary: network failures, token
// failures and provider rejections all come back as Success=false results,
// because a declined payment is a normal outcome, not an exceptional one.
type Gateway interface {
	RequestCollection(req PaymentRequest) Result
	RequestDisbursement(req PaymentRequest) Result
	GetStatus(referenceID string) StatusResult
}

func Failure(msg string) Result {
	if msg == "" {
		msg = "payment provider request failed"
	}
	return Result{Success: false, Error: msg}
}
