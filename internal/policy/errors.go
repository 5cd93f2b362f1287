package policy

import "fmt"

// The three failure kinds a vet call can produce. The pipeline treats all
// of them the same way (fallback), but they are kept distinct for
// diagnostics and tests.

// TimeoutError means the policy service did not answer within the
// per-request budget.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("policy timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError means the policy service could not be reached at all
// (connection refused, reset, DNS failure).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("policy transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means a response was received but violates the
// contract: non-2xx status, non-JSON body, or missing/invalid fields.
type MalformedResponseError struct {
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return "policy malformed response: " + e.Detail
}
