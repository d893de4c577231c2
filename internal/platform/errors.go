package platform

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	// KindTransient covers network failures, rate limits and 5xx responses.
	// The publisher retries these up to its attempt ceiling.
	KindTransient ErrorKind = iota
	// KindAuth covers expired or revoked credentials. Never retried; triggers
	// the connection cascade-disable.
	KindAuth
	// KindRejected covers content the platform refused. Terminal immediately.
	KindRejected
)

type PublishError struct {
	Kind     ErrorKind
	Platform string
	Message  string
	Err      error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Platform, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func IsAuth(err error) bool {
	return kindOf(err) == KindAuth
}

func IsTransient(err error) bool {
	return kindOf(err) == KindTransient
}

func IsRejected(err error) bool {
	return kindOf(err) == KindRejected
}

func kindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	// Anything untyped (DNS failures, timeouts, decode errors) is worth a retry.
	return KindTransient
}

// classifyStatus maps an HTTP response to the error taxonomy.
func classifyStatus(platformName string, statusCode int, body string) *PublishError {
	kind := KindTransient
	switch {
	case statusCode == 401 || statusCode == 403:
		kind = KindAuth
	case statusCode == 429 || statusCode >= 500:
		kind = KindTransient
	case statusCode >= 400:
		// The Graph API reports expired or revoked tokens as a 400
		// OAuthException (error code 190), not a 401.
		if isGraphAuthBody(body) {
			kind = KindAuth
		} else {
			kind = KindRejected
		}
	}
	return &PublishError{
		Kind:     kind,
		Platform: platformName,
		Message:  fmt.Sprintf("unexpected status %d: %s", statusCode, body),
	}
}

func isGraphAuthBody(body string) bool {
	return strings.Contains(body, "OAuthException") ||
		strings.Contains(body, `"code":190`) ||
		strings.Contains(body, `"code": 190`)
}

func transientErr(platformName string, err error) *PublishError {
	return &PublishError{
		Kind:     KindTransient,
		Platform: platformName,
		Message:  "request failed",
		Err:      err,
	}
}
