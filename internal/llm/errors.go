package llm

import (
	"fmt"
)

// APIError is a non-2xx response from a provider
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Timings    Timings
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
