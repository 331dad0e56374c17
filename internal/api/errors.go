package api

import "fmt"

// RateLimitError is returned when a provider kept answering 429 after the
// retry budget was spent.
type RateLimitError struct {
	Provider string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limit persisted after %d attempts", e.Provider, e.Attempts)
}

// StatusError is a non-retryable HTTP status from a provider. A 404 on a
// profile or discovery endpoint means the user does not exist and the sync
// aborts before the chunk loop starts.
type StatusError struct {
	Provider   string
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d for %s", e.Provider, e.StatusCode, e.URL)
}

func (e *StatusError) NotFound() bool {
	return e.StatusCode == 404
}
