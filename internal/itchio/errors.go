package itchio

import (
	"errors"
	"fmt"
)

// Sentinel errors for API calls.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRateLimited indicates the API kept answering 429 until the
	// retry budget was exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// APIError is a non-2xx, non-429 response. It carries the status code
// and the response body text verbatim. These are never retried.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed with status %d: %s", e.Status, e.Body)
}
