package httpresponse

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// APIError is the JSON payload the mock server returns for requests it will
// not serve. ErrorMessage carries the match-result key and a short request
// summary, e.g. "Unexpected-Request : GET /api/orders/404".
type APIError struct {
	ErrorMessage string   `json:"error"`
	Details      []string `json:"details,omitempty"`
}

func Error(error string) *APIError {
	log.Error(error)
	e := &APIError{
		ErrorMessage: error,
	}
	return e
}

func Errorf(error string, a ...interface{}) *APIError {
	return Error(fmt.Sprintf(error, a...))
}

func (e *APIError) WithDetails(details []string) *APIError {
	e.Details = details
	return e
}
