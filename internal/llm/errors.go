package llm

import "fmt"

// APIError is a non-200 answer from a provider.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}
