package maxdata

import "fmt"

// AuthenticationError means no bearer token is configured for the
// tenant. Terminal for that tenant's sync attempt; never retried.
type AuthenticationError struct {
	EmpId int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("token not found for tenant %d", e.EmpId)
}

// TimeoutError is a single request exceeding its deadline. Subject to
// the page retry budget.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError is a network-level failure other than a timeout.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a non-2xx response from the remote catalog.
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote catalog error %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError means the response body did not have the
// expected shape (missing docs array, wrong type). Treated like a
// remote failure for retry purposes.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed remote catalog response: %s", e.Reason)
}
