package ceremony

import (
	apperrors "github.com/warden-auth/warden/internal/platform/errors"
)

// ErrAuthenticationFailed is the single failure type every loader, validator,
// and checker error collapses into. Callers match it with errors.Is; the
// wrapped cause keeps the original message for logs.
var ErrAuthenticationFailed = apperrors.New(apperrors.CodeAuthenticationFailed, "authentication failed")

// failAuth re-wraps a ceremony failure, preserving the original message.
func failAuth(cause error) error {
	return apperrors.Wrap(apperrors.CodeAuthenticationFailed, cause.Error(), cause)
}
