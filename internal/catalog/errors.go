package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrCredentialsNotFound means no credential source yielded both an identifier and a secret.
	ErrCredentialsNotFound = errors.New("credentials not found")
	// ErrAuthenticationFailed matches any *AuthenticationFailedError.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrFetchFailed matches any *FetchFailedError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrVariantSwitchFailed matches any *VariantSwitchFailedError.
	ErrVariantSwitchFailed = errors.New("variant switch failed")
	// ErrSessionExpired means the anti-forgery token or session cookie was invalidated mid-run.
	ErrSessionExpired = errors.New("session expired")
)

// AuthenticationFailedError reports a rejected login.
type AuthenticationFailedError struct {
	Status int
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed: status %d", e.Status)
}

// Is lets errors.Is match the sentinel.
func (e *AuthenticationFailedError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// FetchFailedError reports one failed network operation.
type FetchFailedError struct {
	Address string
	Status  int
	Err     error
}

func (e *FetchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s failed: status %d: %v", e.Address, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s failed: status %d", e.Address, e.Status)
}

// Unwrap exposes the transport error, if any.
func (e *FetchFailedError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel.
func (e *FetchFailedError) Is(target error) bool {
	return target == ErrFetchFailed
}

// VariantSwitchFailedError reports a rejected rendering-variant switch.
type VariantSwitchFailedError struct {
	Variant Variant
	Status  int
}

func (e *VariantSwitchFailedError) Error() string {
	return fmt.Sprintf("variant switch to %s failed: status %d", e.Variant.Key(), e.Status)
}

// Is lets errors.Is match the sentinel.
func (e *VariantSwitchFailedError) Is(target error) bool {
	return target == ErrVariantSwitchFailed
}

// IsFatal reports whether err must abort the whole run. Per-fetch, per-variant
// and per-kit failures are recoverable; anything that invalidates the session,
// cancels the process or breaks local storage is not.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrVariantSwitchFailed), errors.Is(err, ErrFetchFailed):
		return false
	case errors.Is(err, ErrCredentialsNotFound),
		errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}
