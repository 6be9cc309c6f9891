// Package apierror holds the error values shared by the HTTP gateway and the token authority.
//
// Callers match them with errors.Is and errors.As:
//
//	var failed *apierror.FailedResponseError
//	switch {
//	case errors.Is(err, apierror.ErrNetwork):
//	    // the server could not be reached
//	case errors.As(err, &failed):
//	    log.Printf("status %d: %s", failed.StatusCode, failed.Data)
//	}
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNetwork reports that a request never received a response.
var ErrNetwork = errors.New("could not connect to remote server")

// FailedResponseError is returned for a non-2xx API response that did not qualify for a
// token refresh, or whose retry failed again.
type FailedResponseError struct {
	StatusCode int
	Data       json.RawMessage
}

func (e *FailedResponseError) Error() string {
	data := "none"
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	return fmt.Sprintf("received %d response from API, response data: %s", e.StatusCode, data)
}

// Decode unmarshals the response body into v.
func (e *FailedResponseError) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.New("apierror: empty response body")
	}
	return json.Unmarshal(e.Data, v)
}

// NewFailedResponseError builds a FailedResponseError from a raw body.
// An empty body is kept as nil Data.
func NewFailedResponseError(status int, body []byte) *FailedResponseError {
	var data json.RawMessage
	if len(body) > 0 {
		data = json.RawMessage(body)
	}
	return &FailedResponseError{StatusCode: status, Data: data}
}

// FromTransportError classifies an error returned by http.Client.Do, which by contract
// carries no response. Cancellation and deadline errors are returned unchanged so callers
// can tell them apart from an unreachable server. Everything else wraps ErrNetwork.
func FromTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
