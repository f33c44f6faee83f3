package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/warden-auth/warden/internal/ceremony"
	apperrors "github.com/warden-auth/warden/internal/platform/errors"
)

// CeremonyHeader carries the single-use ceremony ID between the options and
// result requests of a WebAuthn ceremony.
const CeremonyHeader = "X-Ceremony-Id"

const (
	attestationResultPath = "/webauthn/attestation/result"
	assertionResultPath   = "/webauthn/assertion/result"
)

// maxResultBody caps authenticator response bodies. Attestation objects for
// large certificate chains stay well under this.
const maxResultBody = 1 << 20

// Authenticator turns WebAuthn result requests into verified identities. It
// branches on the request path: attestation results finish a registration
// ceremony, assertion results finish a login ceremony. Both paths produce the
// same Result, so callers issue tokens the same way regardless of which
// ceremony authenticated the user.
type Authenticator struct {
	ceremonies *ceremony.Service
}

// NewAuthenticator builds an authenticator over a ceremony service.
func NewAuthenticator(ceremonies *ceremony.Service) *Authenticator {
	return &Authenticator{ceremonies: ceremonies}
}

// Supports reports whether the request is a WebAuthn result submission this
// authenticator can process.
func (a *Authenticator) Supports(r *http.Request) bool {
	if r == nil || r.Method != http.MethodPost {
		return false
	}
	return r.URL.Path == attestationResultPath || r.URL.Path == assertionResultPath
}

// Authenticate verifies the signed authenticator response carried by the
// request. The ceremony ID comes from the X-Ceremony-Id header; the body is
// the raw credential response JSON produced by the browser.
func (a *Authenticator) Authenticate(r *http.Request) (ceremony.Result, error) {
	if a.ceremonies == nil {
		return ceremony.Result{}, apperrors.New(apperrors.CodeInternal, "ceremony service is not configured")
	}
	if !a.Supports(r) {
		return ceremony.Result{}, apperrors.New(apperrors.CodeInvalidArgument, "request is not a webauthn result submission")
	}

	ceremonyID := strings.TrimSpace(r.Header.Get(CeremonyHeader))
	if ceremonyID == "" {
		return ceremony.Result{}, apperrors.New(apperrors.CodeInvalidArgument, "ceremony id header is required")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResultBody))
	if err != nil {
		return ceremony.Result{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "read credential response", err)
	}

	if r.URL.Path == attestationResultPath {
		return a.ceremonies.FinishRegistration(r.Context(), ceremonyID, body)
	}
	return a.ceremonies.FinishLogin(r.Context(), ceremonyID, body)
}
