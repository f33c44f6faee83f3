package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warden-auth/warden/internal/ceremony"
	apperrors "github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/storage"
	"github.com/warden-auth/warden/internal/token"
	"github.com/warden-auth/warden/internal/user"
)

type optionsRequest struct {
	UserID string `json:"user_id"`
}

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type userPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type credentialPayload struct {
	CredentialID string     `json:"credential_id"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

type authSuccessResponse struct {
	Token        string      `json:"token"`
	SessionID    string      `json:"session_id"`
	ExpiresAt    time.Time   `json:"expires_at"`
	User         userPayload `json:"user"`
	CredentialID string      `json:"credential_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func toUserPayload(u user.User) userPayload {
	return userPayload{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}

func toCredentialPayload(c storage.Credential) credentialPayload {
	return credentialPayload{
		CredentialID: c.CredentialID,
		CreatedAt:    c.CreatedAt,
		LastUsedAt:   c.LastUsedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeUnknown {
		code = apperrors.CodeInternal
	}
	writeJSON(w, apperrors.HTTPStatus(err), errorResponse{
		Error:   string(code),
		Message: err.Error(),
	})
}

func writeAuthFailure(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, err)
}

func (s *Server) writeAuthSuccess(w http.ResponseWriter, _ *http.Request, auth AuthSuccess) {
	writeJSON(w, http.StatusOK, authSuccessResponse{
		Token:        auth.Token,
		SessionID:    auth.SessionID,
		ExpiresAt:    auth.ExpiresAt,
		User:         toUserPayload(auth.Result.User),
		CredentialID: auth.Result.CredentialID,
	})
}

func decodeJSONBody(r *http.Request, target any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResultBody))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "read request body", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "decode request body", err)
	}
	return nil
}

func (s *Server) handleAttestationOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	creation, ceremonyID, err := s.ceremonies.BeginRegistration(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(CeremonyHeader, ceremonyID)
	writeJSON(w, http.StatusOK, creation)
}

func (s *Server) handleAssertionOptions(w http.ResponseWriter, r *http.Request) {
	var req optionsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	assertion, ceremonyID, err := s.ceremonies.BeginLogin(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set(CeremonyHeader, ceremonyID)
	writeJSON(w, http.StatusOK, assertion)
}

// handleResult serves both result endpoints. The authenticator branches on
// the path; a successful attestation or assertion yields the same token and
// session treatment, so registration doubles as a first login.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.authenticator.Authenticate(r)
	if err != nil {
		s.onFailure(w, r, err)
		return
	}

	auth, err := s.establishSession(r, result)
	if err != nil {
		s.onFailure(w, r, err)
		return
	}
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("warden.user_id", result.User.ID),
		attribute.String("warden.credential_id", result.CredentialID),
	)
	s.onSuccess(w, r, auth)
}

func (s *Server) establishSession(r *http.Request, result ceremony.Result) (AuthSuccess, error) {
	if s.tokens == nil || s.sessions == nil {
		return AuthSuccess{}, apperrors.New(apperrors.CodeInternal, "token issuer is not configured")
	}
	sessionID, err := s.idGenerator()
	if err != nil {
		return AuthSuccess{}, apperrors.Wrap(apperrors.CodeInternal, "generate session id", err)
	}
	now := s.clock().UTC()
	session := storage.WebSession{
		ID:        sessionID,
		UserID:    result.User.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.tokens.SessionTTL()),
	}
	if err := s.sessions.PutWebSession(r.Context(), session); err != nil {
		return AuthSuccess{}, apperrors.Wrap(apperrors.CodeInternal, "store web session", err)
	}
	signed, err := s.tokens.Issue(result.User, sessionID)
	if err != nil {
		return AuthSuccess{}, apperrors.Wrap(apperrors.CodeInternal, "issue token", err)
	}
	return AuthSuccess{
		Result:    result,
		Token:     signed,
		SessionID: sessionID,
		ExpiresAt: now.Add(s.tokens.TTL()),
	}, nil
}

// handleAddCredential finishes a registration ceremony outside the
// token-issuing pipeline. Clients already holding a session use it to attach
// additional credentials to their account.
func (s *Server) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	ceremonyID := strings.TrimSpace(r.Header.Get(CeremonyHeader))
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResultBody))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "read credential response", err))
		return
	}

	result, err := s.ceremonies.FinishRegistration(r.Context(), ceremonyID, body)
	if err != nil {
		s.onFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		User         userPayload `json:"user"`
		CredentialID string      `json:"credential_id"`
	}{
		User:         toUserPayload(result.User),
		CredentialID: result.CredentialID,
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	input, err := user.NormalizeCreateUserInput(user.CreateUserInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.users.GetUserByUsername(r.Context(), input.Username); err == nil {
		writeError(w, apperrors.New(apperrors.CodeUserAlreadyExists, "username is already taken"))
		return
	} else if !apperrors.IsNotFound(err) {
		writeError(w, err)
		return
	}

	created, err := user.CreateUser(input, s.clock, s.idGenerator)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.users.PutUser(r.Context(), created); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserPayload(created))
}

// handleListUsers pages through registered users using keyset pagination.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "page_size must be an integer"))
			return
		}
		pageSize = parsed
	}

	page, err := s.users.ListUsers(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInternal, "list users", err))
		return
	}
	users := make([]userPayload, 0, len(page.Users))
	for _, u := range page.Users {
		users = append(users, toUserPayload(u))
	}
	writeJSON(w, http.StatusOK, struct {
		Users         []userPayload `json:"users"`
		NextPageToken string        `json:"next_page_token,omitempty"`
	}{Users: users, NextPageToken: page.NextPageToken})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	claims, err := s.bearerClaims(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID := r.PathValue("id")
	if claims.UserID != userID {
		writeError(w, apperrors.New(apperrors.CodeAuthenticationFailed, "token does not grant access to this user"))
		return
	}

	credentials, err := s.ceremonies.ListUserCredentials(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]credentialPayload, 0, len(credentials))
	for _, credential := range credentials {
		payload = append(payload, toCredentialPayload(credential))
	}
	writeJSON(w, http.StatusOK, struct {
		Credentials []credentialPayload `json:"credentials"`
	}{Credentials: payload})
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	claims, err := s.bearerClaims(r)
	if err != nil {
		writeError(w, err)
		return
	}
	credentialID := r.PathValue("id")
	if err := s.ceremonies.RevokeCredential(r.Context(), claims.UserID, credentialID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLogout revokes the web session backing the bearer token. Outstanding
// tokens bound to the session stop verifying once it is revoked.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.bearerClaims(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.sessions == nil || claims.SessionID == "" {
		writeError(w, apperrors.New(apperrors.CodeAuthenticationFailed, "token is not bound to a session"))
		return
	}
	if err := s.sessions.RevokeWebSession(r.Context(), claims.SessionID, s.clock().UTC()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, apperrors.New(apperrors.CodeInternal, "statistics store is not configured"))
		return
	}
	stats, err := s.stats.GetStatistics(r.Context())
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInternal, "load statistics", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Users       int64 `json:"users"`
		Credentials int64 `json:"credentials"`
		WebSessions int64 `json:"web_sessions"`
	}{
		Users:       stats.Users,
		Credentials: stats.Credentials,
		WebSessions: stats.WebSessions,
	})
}

// bearerClaims verifies the Authorization header and checks the backing web
// session is still live.
func (s *Server) bearerClaims(r *http.Request) (token.Claims, error) {
	if s.tokens == nil {
		return token.Claims{}, apperrors.New(apperrors.CodeInternal, "token issuer is not configured")
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
		return token.Claims{}, apperrors.New(apperrors.CodeAuthenticationFailed, "bearer token is required")
	}
	claims, err := s.tokens.Verify(strings.TrimSpace(value))
	if err != nil {
		return token.Claims{}, err
	}
	if s.sessions != nil && claims.SessionID != "" {
		session, err := s.sessions.GetWebSession(r.Context(), claims.SessionID)
		if err != nil {
			return token.Claims{}, apperrors.Wrap(apperrors.CodeAuthenticationFailed, "session not found", err)
		}
		if session.RevokedAt != nil {
			return token.Claims{}, apperrors.New(apperrors.CodeAuthenticationFailed, "session revoked")
		}
		if session.ExpiresAt.Before(s.clock().UTC()) {
			return token.Claims{}, apperrors.New(apperrors.CodeAuthenticationFailed, "session expired")
		}
	}
	return claims, nil
}
