package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response body is not a usable envelope.
var ErrMalformedResponse = errors.New("malformed response")

// Envelope is the JSON wrapper every endpoint answers with. Account endpoints
// report "status", game endpoints report "code"; zero means success for both.
type Envelope struct {
	Status *int            `json:"status"`
	Code   *int            `json:"code"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// BusinessCode returns the status or code field, whichever is present.
func (e *Envelope) BusinessCode() (int, bool) {
	switch {
	case e.Status != nil:
		return *e.Status, true
	case e.Code != nil:
		return *e.Code, true
	default:
		return 0, false
	}
}

// Decode unmarshals the data field into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d: %s", e.URL, e.StatusCode, e.Body)
}

// BusinessError reports a 2xx response whose envelope carries a non-zero code.
type BusinessError struct {
	URL  string
	Code int
	Msg  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: remote error code %d: %s", e.URL, e.Code, e.Msg)
}
