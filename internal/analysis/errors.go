package analysis

import (
	"errors"
	"fmt"
)

// Failure classes callers must handle separately. Each message is meant to be
// shown to the user as is.
var (
	ErrQuotaExceeded     = errors.New("the analysis service is over its quota, please try again later")
	ErrMalformedResponse = errors.New("the analysis result could not be parsed")
	ErrConfiguration     = errors.New("the analysis service rejected the request, check the API key configuration")
)

// APIError is a non-2xx answer from the model endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analysis api: %d %s: %s", e.StatusCode, e.Status, e.Message)
}
