package service

import (
	"errors"
	"fmt"
)

// CredentialError marks a connection whose tokens are gone for good. It is
// never retried; by the time a caller sees it the connection has already been
// disconnected and the posting cascade checked.
type CredentialError struct {
	TenantID int64
	Platform string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials invalid for tenant %d on %s: %v", e.TenantID, e.Platform, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}
