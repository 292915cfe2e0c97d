package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Reason codes carried by Error. Transport failures are assigned a synthetic
// 500 status so that callers can branch on status class alone.
const (
	ReasonTransport = "transport"
	ReasonRemote    = "remote_error"
)

// Error is the classified failure surfaced by Client.Do. StatusCode is the
// remote HTTP status, or 500 with Reason "transport" when no response was
// received at all (network failure, timeout).
type Error struct {
	StatusCode int
	Reason     string
	Message    string
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote call failed (status %d, %s): %s", e.StatusCode, e.Reason, e.Message)
}

// Retryable reports whether the failure may self-heal on replay. Only
// transport failures and 5xx responses qualify; a 4xx indicates a
// request-shape or auth problem that will not.
func (e *Error) Retryable() bool {
	return e.Reason == ReasonTransport || e.StatusCode >= 500
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// newTransportError wraps a failure where no response arrived.
func newTransportError(err error) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Reason:     ReasonTransport,
		Message:    err.Error(),
	}
}

// newRemoteError builds an Error from a non-2xx response, pulling a
// human-readable message out of the body when the remote sent one.
func newRemoteError(statusCode int, body []byte) *Error {
	e := &Error{
		StatusCode: statusCode,
		Reason:     ReasonRemote,
		Message:    http.StatusText(statusCode),
		Body:       body,
	}

	var remoteMsg struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(body, &remoteMsg); err == nil {
		if remoteMsg.Reason != "" {
			e.Reason = remoteMsg.Reason
		}
		switch {
		case remoteMsg.Message != "":
			e.Message = remoteMsg.Message
		case remoteMsg.Error != "":
			e.Message = remoteMsg.Error
		}
	}

	return e
}
