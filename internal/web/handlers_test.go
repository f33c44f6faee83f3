package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/warden-auth/warden/internal/ceremony"
	"github.com/warden-auth/warden/internal/storage"
	"github.com/warden-auth/warden/internal/token"
	"github.com/warden-auth/warden/internal/user"
)

type fakeUserStore struct {
	users map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]user.User)}
}

func (s *fakeUserStore) PutUser(_ context.Context, u user.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *fakeUserStore) ListUsers(_ context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if pageSize <= 0 {
		pageSize = 50
	}

	page := storage.UserPage{}
	for _, id := range ids {
		if id <= pageToken {
			continue
		}
		if len(page.Users) == pageSize {
			page.NextPageToken = page.Users[pageSize-1].ID
			break
		}
		page.Users = append(page.Users, s.users[id])
	}
	return page, nil
}

type fakeCeremonyStore struct {
	ceremonies  map[string]storage.Ceremony
	credentials map[string]storage.Credential
}

func newFakeCeremonyStore() *fakeCeremonyStore {
	return &fakeCeremonyStore{
		ceremonies:  make(map[string]storage.Ceremony),
		credentials: make(map[string]storage.Credential),
	}
}

func (s *fakeCeremonyStore) PutCredential(_ context.Context, credential storage.Credential) error {
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakeCeremonyStore) GetCredential(_ context.Context, credentialID string) (storage.Credential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakeCeremonyStore) ListCredentialsByUser(_ context.Context, userID string) ([]storage.Credential, error) {
	credentials := make([]storage.Credential, 0)
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (s *fakeCeremonyStore) DeleteCredential(_ context.Context, credentialID string) error {
	delete(s.credentials, credentialID)
	return nil
}

func (s *fakeCeremonyStore) PutCeremony(_ context.Context, ceremonyRecord storage.Ceremony) error {
	s.ceremonies[ceremonyRecord.ID] = ceremonyRecord
	return nil
}

func (s *fakeCeremonyStore) GetCeremony(_ context.Context, id string) (storage.Ceremony, error) {
	record, ok := s.ceremonies[id]
	if !ok {
		return storage.Ceremony{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *fakeCeremonyStore) DeleteCeremony(_ context.Context, id string) error {
	delete(s.ceremonies, id)
	return nil
}

func (s *fakeCeremonyStore) DeleteExpiredCeremonies(_ context.Context, now time.Time) error {
	for id, record := range s.ceremonies {
		if record.ExpiresAt.Before(now) {
			delete(s.ceremonies, id)
		}
	}
	return nil
}

type fakeSessionStore struct {
	sessions map[string]storage.WebSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]storage.WebSession)}
}

func (s *fakeSessionStore) PutWebSession(_ context.Context, session storage.WebSession) error {
	s.sessions[session.ID] = session
	return nil
}

func (s *fakeSessionStore) GetWebSession(_ context.Context, id string) (storage.WebSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return storage.WebSession{}, storage.ErrNotFound
	}
	return session, nil
}

func (s *fakeSessionStore) RevokeWebSession(_ context.Context, id string, revokedAt time.Time) error {
	session, ok := s.sessions[id]
	if !ok {
		return storage.ErrNotFound
	}
	session.RevokedAt = &revokedAt
	s.sessions[id] = session
	return nil
}

func (s *fakeSessionStore) DeleteExpiredWebSessions(_ context.Context, now time.Time) error {
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(now) {
			delete(s.sessions, id)
		}
	}
	return nil
}

type fakeStatsStore struct {
	stats storage.Statistics
}

func (s *fakeStatsStore) GetStatistics(_ context.Context) (storage.Statistics, error) {
	return s.stats, nil
}

type testEnv struct {
	server   *Server
	mux      *http.ServeMux
	users    *fakeUserStore
	store    *fakeCeremonyStore
	sessions *fakeSessionStore
	issuer   *token.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserStore()
	store := newFakeCeremonyStore()
	sessions := newFakeSessionStore()

	svc := ceremony.NewServiceWithConfig(users, store, store, ceremony.Config{
		RPDisplayName: "Warden Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
		CeremonyTTL:   5 * time.Minute,
	})

	issuer, err := token.NewIssuer(token.Config{
		Issuer:     "warden-test",
		Audience:   "warden-test",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		TTL:        time.Hour,
		SessionTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	server := NewServer(svc, issuer, users, sessions, &fakeStatsStore{stats: storage.Statistics{Users: 2, Credentials: 3, WebSessions: 1}})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	return &testEnv{server: server, mux: mux, users: users, store: store, sessions: sessions, issuer: issuer}
}

func (e *testEnv) do(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for key, value := range header {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) bearerFor(t *testing.T, u user.User) string {
	t.Helper()
	now := time.Now().UTC()
	session := storage.WebSession{ID: "session-1", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := e.sessions.PutWebSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}
	signed, err := e.issuer.Issue(u, session.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + signed
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/users", []byte(`{"username":"Alpha","display_name":"Alpha One"}`), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var payload userPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Username != "alpha" {
		t.Fatalf("username = %q, want normalized %q", payload.Username, "alpha")
	}
	if payload.ID == "" {
		t.Fatalf("expected generated user id")
	}
	if _, ok := env.users.users[payload.ID]; !ok {
		t.Fatalf("expected user persisted")
	}
}

func TestCreateUser_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["user-1"] = user.User{ID: "user-1", Username: "alpha"}

	rec := env.do(http.MethodPost, "/users", []byte(`{"username":"alpha"}`), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestCreateUser_InvalidUsername(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/users", []byte(`{"username":"x"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAttestationOptions(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["user-1"] = user.User{ID: "user-1", Username: "alpha", DisplayName: "Alpha"}

	rec := env.do(http.MethodPost, "/webauthn/attestation/options", []byte(`{"user_id":"user-1"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	ceremonyID := rec.Header().Get(CeremonyHeader)
	if ceremonyID == "" {
		t.Fatalf("expected ceremony id header")
	}
	if !strings.Contains(rec.Body.String(), "publicKey") {
		t.Fatalf("expected creation options body, got %s", rec.Body.String())
	}
	record, ok := env.store.ceremonies[ceremonyID]
	if !ok {
		t.Fatalf("expected stored ceremony")
	}
	if record.Kind != string(ceremony.KindRegistration) {
		t.Fatalf("stored kind = %q", record.Kind)
	}
}

func TestAttestationOptions_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/webauthn/attestation/options", []byte(`{"user_id":"missing"}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAssertionOptions_Discoverable(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/webauthn/assertion/options", []byte(`{}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	ceremonyID := rec.Header().Get(CeremonyHeader)
	if ceremonyID == "" {
		t.Fatalf("expected ceremony id header")
	}
	record := env.store.ceremonies[ceremonyID]
	if record.Kind != string(ceremony.KindLogin) {
		t.Fatalf("stored kind = %q", record.Kind)
	}
	if record.UserID != "" {
		t.Fatalf("expected empty user id for discoverable login")
	}
}

func TestResult_MissingCeremonyHeader(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/webauthn/assertion/result", []byte(`{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestResult_UnknownCeremony(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/webauthn/assertion/result", []byte(`{}`), map[string]string{CeremonyHeader: "unknown"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusUnauthorized, rec.Body.String())
	}
	var payload errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error != "AUTHENTICATION_FAILED" {
		t.Fatalf("error = %q, want AUTHENTICATION_FAILED", payload.Error)
	}
}

func TestResult_InvalidResponseIsSingleFailure(t *testing.T) {
	env := newTestEnv(t)
	env.users.users["user-1"] = user.User{ID: "user-1", Username: "alpha"}

	rec := env.do(http.MethodPost, "/webauthn/attestation/options", []byte(`{"user_id":"user-1"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("options status = %d (%s)", rec.Code, rec.Body.String())
	}
	ceremonyID := rec.Header().Get(CeremonyHeader)

	rec = env.do(http.MethodPost, "/webauthn/attestation/result", []byte(`not-json`), map[string]string{CeremonyHeader: ceremonyID})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, http.StatusUnauthorized, rec.Body.String())
	}
}

func TestCustomFailureHandler(t *testing.T) {
	env := newTestEnv(t)
	called := false
	env.server.SetFailureHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := env.do(http.MethodPost, "/webauthn/assertion/result", []byte(`{}`), map[string]string{CeremonyHeader: "unknown"})
	if !called {
		t.Fatalf("expected failure handler called")
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestEstablishSession(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	env.server.clock = func() time.Time { return fixed }

	result := ceremony.Result{
		User:         user.User{ID: "user-1", Username: "alpha"},
		CredentialID: "cred-1",
	}
	req := httptest.NewRequest(http.MethodPost, assertionResultPath, nil)
	auth, err := env.server.establishSession(req, result)
	if err != nil {
		t.Fatalf("establish session: %v", err)
	}
	if auth.Token == "" || auth.SessionID == "" {
		t.Fatalf("expected token and session id")
	}
	session, ok := env.sessions.sessions[auth.SessionID]
	if !ok {
		t.Fatalf("expected stored session")
	}
	if session.UserID != "user-1" {
		t.Fatalf("session user = %q", session.UserID)
	}
	if !auth.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("expires at = %v", auth.ExpiresAt)
	}

	claims, err := env.issuer.Verify(auth.Token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.UserID != "user-1" || claims.SessionID != auth.SessionID {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestListCredentials(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-1", Username: "alpha"}
	env.users.users["user-1"] = u
	env.store.credentials["cred-1"] = storage.Credential{CredentialID: "cred-1", UserID: "user-1", CreatedAt: time.Now().UTC()}

	rec := env.do(http.MethodGet, "/users/user-1/credentials", nil, map[string]string{"Authorization": env.bearerFor(t, u)})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Credentials []credentialPayload `json:"credentials"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Credentials) != 1 || payload.Credentials[0].CredentialID != "cred-1" {
		t.Fatalf("unexpected credentials %+v", payload.Credentials)
	}
}

func TestListCredentials_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/users/user-1/credentials", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestListCredentials_WrongUser(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-2", Username: "beta"}
	env.users.users["user-2"] = u

	rec := env.do(http.MethodGet, "/users/user-1/credentials", nil, map[string]string{"Authorization": env.bearerFor(t, u)})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRevokeCredential(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-1", Username: "alpha"}
	env.users.users["user-1"] = u
	env.store.credentials["cred-1"] = storage.Credential{CredentialID: "cred-1", UserID: "user-1"}

	rec := env.do(http.MethodDelete, "/webauthn/credentials/cred-1", nil, map[string]string{"Authorization": env.bearerFor(t, u)})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if _, ok := env.store.credentials["cred-1"]; ok {
		t.Fatalf("expected credential deleted")
	}
}

func TestRevokeCredential_OtherUsersCredential(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-2", Username: "beta"}
	env.users.users["user-2"] = u
	env.store.credentials["cred-1"] = storage.Credential{CredentialID: "cred-1", UserID: "user-1"}

	rec := env.do(http.MethodDelete, "/webauthn/credentials/cred-1", nil, map[string]string{"Authorization": env.bearerFor(t, u)})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if _, ok := env.store.credentials["cred-1"]; !ok {
		t.Fatalf("expected credential retained")
	}
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"user-1", "user-2", "user-3"} {
		env.users.users[id] = user.User{ID: id, Username: strings.ReplaceAll(id, "-", "")}
	}

	rec := env.do(http.MethodGet, "/users?page_size=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Users         []userPayload `json:"users"`
		NextPageToken string        `json:"next_page_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(payload.Users))
	}
	if payload.NextPageToken != "user-2" {
		t.Fatalf("next page token = %q, want %q", payload.NextPageToken, "user-2")
	}

	rec = env.do(http.MethodGet, "/users?page_size=2&page_token="+payload.NextPageToken, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	payload.Users = nil
	payload.NextPageToken = ""
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Users) != 1 || payload.Users[0].ID != "user-3" {
		t.Fatalf("unexpected second page %+v", payload.Users)
	}
	if payload.NextPageToken != "" {
		t.Fatalf("expected empty token, got %q", payload.NextPageToken)
	}
}

func TestListUsers_InvalidPageSize(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/users?page_size=abc", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-1", Username: "alpha"}
	env.users.users["user-1"] = u
	bearer := env.bearerFor(t, u)

	rec := env.do(http.MethodPost, "/logout", nil, map[string]string{"Authorization": bearer})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	session := env.sessions.sessions["session-1"]
	if session.RevokedAt == nil {
		t.Fatalf("expected session revoked")
	}

	rec = env.do(http.MethodGet, "/users/user-1/credentials", nil, map[string]string{"Authorization": bearer})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status after logout = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogout_RequiresToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/logout", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBearerClaims_RevokedSession(t *testing.T) {
	env := newTestEnv(t)
	u := user.User{ID: "user-1", Username: "alpha"}
	env.users.users["user-1"] = u
	bearer := env.bearerFor(t, u)

	now := time.Now().UTC()
	if err := env.sessions.RevokeWebSession(context.Background(), "session-1", now); err != nil {
		t.Fatalf("revoke session: %v", err)
	}

	rec := env.do(http.MethodGet, "/users/user-1/credentials", nil, map[string]string{"Authorization": bearer})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Users       int64 `json:"users"`
		Credentials int64 `json:"credentials"`
		WebSessions int64 `json:"web_sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Users != 2 || payload.Credentials != 3 || payload.WebSessions != 1 {
		t.Fatalf("unexpected stats %+v", payload)
	}
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/up"} {
		rec := env.do(http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status for %s = %d", path, rec.Code)
		}
		if rec.Body.String() != "OK" {
			t.Fatalf("body for %s = %q", path, rec.Body.String())
		}
	}
}
