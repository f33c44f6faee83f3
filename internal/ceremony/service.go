package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/platform/id"
	"github.com/warden-auth/warden/internal/storage"
	"github.com/warden-auth/warden/internal/user"
)

// Service runs WebAuthn registration and login ceremonies against the
// configured stores.
type Service struct {
	users       storage.UserStore
	credentials storage.CredentialStore
	ceremonies  storage.CeremonyStore

	config   Config
	webAuthn provider
	initErr  error
	parser   parser

	clock       func() time.Time
	idGenerator func() (string, error)

	creationCheckers []ExtensionChecker
	requestCheckers  []ExtensionChecker
}

// provider abstracts the WebAuthn library entry points so tests can inject
// deterministic behavior.
type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// NewService builds a ceremony service for the given stores using relying
// party settings from the environment. A broken relying party configuration
// is deferred: construction succeeds and every ceremony reports the error.
func NewService(users storage.UserStore, credentials storage.CredentialStore, ceremonies storage.CeremonyStore) *Service {
	cfg := LoadConfigFromEnv()
	return NewServiceWithConfig(users, credentials, ceremonies, cfg)
}

// NewServiceWithConfig builds a ceremony service with explicit relying party
// settings.
func NewServiceWithConfig(users storage.UserStore, credentials storage.CredentialStore, ceremonies storage.CeremonyStore, cfg Config) *Service {
	svc := &Service{
		users:       users,
		credentials: credentials,
		ceremonies:  ceremonies,
		config:      cfg,
		parser:      defaultParser{},
		clock:       time.Now,
		idGenerator: id.NewID,
	}
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		svc.initErr = fmt.Errorf("configure webauthn: %w", err)
		return svc
	}
	svc.webAuthn = web
	return svc
}

func (s *Service) ready() error {
	if s.users == nil {
		return apperrors.New(apperrors.CodeInternal, "user store is not configured")
	}
	if s.credentials == nil {
		return apperrors.New(apperrors.CodeInternal, "credential store is not configured")
	}
	if s.ceremonies == nil {
		return apperrors.New(apperrors.CodeInternal, "ceremony store is not configured")
	}
	if s.initErr != nil || s.webAuthn == nil {
		return apperrors.New(apperrors.CodeInternal, "webauthn configuration is not available")
	}
	if s.parser == nil {
		return apperrors.New(apperrors.CodeInternal, "webauthn parser is not configured")
	}
	return nil
}

// Result reports the outcome of a finished ceremony.
type Result struct {
	User         user.User
	CredentialID string
	Outputs      protocol.AuthenticationExtensionsClientOutputs
}

// BeginRegistration starts an attestation ceremony for an existing user and
// returns the creation options together with the single-use ceremony ID the
// client must echo back when finishing.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, string, error) {
	if err := s.ready(); err != nil {
		return nil, "", err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}

	baseUser, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	webUser, err := s.loadWebauthnUser(ctx, baseUser)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, "load webauthn user", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(webUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(webUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.webAuthn.BeginRegistration(webUser, options...)
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, "begin registration", err)
	}

	ceremonyID, err := s.storeCeremony(ctx, KindRegistration, baseUser.ID, session)
	if err != nil {
		return nil, "", err
	}
	return creation, ceremonyID, nil
}

// FinishRegistration verifies the attestation response against the stored
// ceremony state and persists the new credential. Any verification failure
// is reported as a single authentication error.
func (s *Service) FinishRegistration(ctx context.Context, ceremonyID string, responseJSON []byte) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	ceremonyID = strings.TrimSpace(ceremonyID)
	if ceremonyID == "" {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "ceremony id is required")
	}
	if len(responseJSON) == 0 {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response json is required")
	}

	loaded, err := s.loadCeremony(ctx, ceremonyID, KindRegistration)
	if err != nil {
		return Result{}, err
	}
	if loaded.UserID == "" {
		return Result{}, failAuth(fmt.Errorf("registration ceremony missing user id"))
	}

	baseUser, err := s.users.GetUser(ctx, loaded.UserID)
	if err != nil {
		return Result{}, failAuth(fmt.Errorf("load ceremony user: %w", err))
	}
	webUser, err := s.loadWebauthnUser(ctx, baseUser)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "load webauthn user", err)
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return Result{}, failAuth(fmt.Errorf("parse credential response: %w", err))
	}
	credential, err := s.webAuthn.CreateCredential(webUser, loaded.Data, parsed)
	if err != nil {
		return Result{}, failAuth(fmt.Errorf("validate credential response: %w", err))
	}
	outputs := parsed.ClientExtensionResults
	if err := runCheckers(s.creationCheckers, outputs); err != nil {
		return Result{}, err
	}

	if err := s.storeCredential(ctx, baseUser.ID, *credential, false); err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "store credential", err)
	}

	return Result{
		User:         baseUser,
		CredentialID: encodeCredentialID(credential.ID),
		Outputs:      outputs,
	}, nil
}

// BeginLogin starts an assertion ceremony. An empty user ID begins a
// discoverable login where the authenticator chooses the account.
func (s *Service) BeginLogin(ctx context.Context, userID string) (*protocol.CredentialAssertion, string, error) {
	if err := s.ready(); err != nil {
		return nil, "", err
	}
	userID = strings.TrimSpace(userID)

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)
	if userID == "" {
		assertion, session, err = s.webAuthn.BeginDiscoverableLogin()
	} else {
		baseUser, getErr := s.users.GetUser(ctx, userID)
		if getErr != nil {
			return nil, "", getErr
		}
		webUser, loadErr := s.loadWebauthnUser(ctx, baseUser)
		if loadErr != nil {
			return nil, "", apperrors.Wrap(apperrors.CodeInternal, "load webauthn user", loadErr)
		}
		assertion, session, err = s.webAuthn.BeginLogin(webUser)
	}
	if err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeInternal, "begin login", err)
	}

	ceremonyID, err := s.storeCeremony(ctx, KindLogin, userID, session)
	if err != nil {
		return nil, "", err
	}
	return assertion, ceremonyID, nil
}

// FinishLogin verifies the assertion response, updates the stored credential
// sign counter, and returns the authenticated user. A ceremony begun for a
// known user validates against that user's credentials; a discoverable
// ceremony resolves the user from the validated user handle. Any verification
// failure is reported as a single authentication error.
func (s *Service) FinishLogin(ctx context.Context, ceremonyID string, responseJSON []byte) (Result, error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	ceremonyID = strings.TrimSpace(ceremonyID)
	if ceremonyID == "" {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "ceremony id is required")
	}
	if len(responseJSON) == 0 {
		return Result{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response json is required")
	}

	loaded, err := s.loadCeremony(ctx, ceremonyID, KindLogin)
	if err != nil {
		return Result{}, err
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return Result{}, failAuth(fmt.Errorf("parse credential response: %w", err))
	}

	var (
		authedUser user.User
		credential *webauthn.Credential
	)
	if loaded.UserID != "" {
		baseUser, err := s.users.GetUser(ctx, loaded.UserID)
		if err != nil {
			return Result{}, failAuth(fmt.Errorf("load ceremony user: %w", err))
		}
		webUser, err := s.loadWebauthnUser(ctx, baseUser)
		if err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "load webauthn user", err)
		}
		credential, err = s.webAuthn.ValidateLogin(webUser, loaded.Data, parsed)
		if err != nil {
			return Result{}, failAuth(fmt.Errorf("validate login: %w", err))
		}
		authedUser = baseUser
	} else {
		validatedUser, validatedCredential, err := s.webAuthn.ValidatePasskeyLogin(s.userHandler(ctx), loaded.Data, parsed)
		if err != nil {
			return Result{}, failAuth(fmt.Errorf("validate login: %w", err))
		}
		record, ok := validatedUser.(*webauthnUser)
		if !ok {
			return Result{}, failAuth(fmt.Errorf("webauthn user type mismatch"))
		}
		authedUser = record.user
		credential = validatedCredential
	}

	outputs := parsed.ClientExtensionResults
	if err := runCheckers(s.requestCheckers, outputs); err != nil {
		return Result{}, err
	}

	if err := s.storeCredential(ctx, authedUser.ID, *credential, true); err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "store credential", err)
	}

	return Result{
		User:         authedUser,
		CredentialID: encodeCredentialID(credential.ID),
		Outputs:      outputs,
	}, nil
}

// ListUserCredentials returns the stored credentials for a user.
func (s *Service) ListUserCredentials(ctx context.Context, userID string) ([]storage.Credential, error) {
	if s.credentials == nil || s.users == nil {
		return nil, apperrors.New(apperrors.CodeInternal, "credential store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.credentials.ListCredentialsByUser(ctx, userID)
}

// RevokeCredential removes a stored credential. The owning user ID must
// match; a caller cannot revoke another user's credential.
func (s *Service) RevokeCredential(ctx context.Context, userID, credentialID string) error {
	if s.credentials == nil {
		return apperrors.New(apperrors.CodeInternal, "credential store is not configured")
	}
	userID = strings.TrimSpace(userID)
	credentialID = strings.TrimSpace(credentialID)
	if userID == "" || credentialID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and credential id are required")
	}
	stored, err := s.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if stored.UserID != userID {
		return storage.ErrNotFound
	}
	return s.credentials.DeleteCredential(ctx, credentialID)
}

// CleanupExpired removes expired ceremony records.
func (s *Service) CleanupExpired(ctx context.Context) error {
	if s.ceremonies == nil {
		return apperrors.New(apperrors.CodeInternal, "ceremony store is not configured")
	}
	return s.ceremonies.DeleteExpiredCeremonies(ctx, s.clock().UTC())
}

type webauthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Username
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.user.DisplayName
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadWebauthnUser(ctx context.Context, base user.User) (*webauthnUser, error) {
	records, err := s.credentials.ListCredentialsByUser(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func (s *Service) storeCredential(ctx context.Context, userID string, credential webauthn.Credential, used bool) error {
	credentialID := encodeCredentialID(credential.ID)
	now := s.clock().UTC()
	stored, err := s.credentials.GetCredential(ctx, credentialID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	if apperrors.IsNotFound(err) && used {
		return fmt.Errorf("credential not found")
	}

	createdAt := now
	if err == nil {
		createdAt = stored.CreatedAt
	}
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return err
	}
	var lastUsed *time.Time
	if used {
		value := now
		lastUsed = &value
	}
	return s.credentials.PutCredential(ctx, storage.Credential{
		CredentialID:   credentialID,
		UserID:         userID,
		CredentialJSON: string(credentialJSON),
		CreatedAt:      createdAt,
		UpdatedAt:      now,
		LastUsedAt:     lastUsed,
	})
}

func (s *Service) storeCeremony(ctx context.Context, kind Kind, userID string, session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", apperrors.New(apperrors.CodeInternal, "session data is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "encode session data", err)
	}
	ceremonyID, err := s.idGenerator()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "generate ceremony id", err)
	}
	record := storage.Ceremony{
		ID:          ceremonyID,
		Kind:        string(kind),
		UserID:      userID,
		SessionJSON: string(payload),
		ExpiresAt:   s.clock().UTC().Add(s.config.CeremonyTTL),
	}
	if err := s.ceremonies.PutCeremony(ctx, record); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "store ceremony", err)
	}
	return ceremonyID, nil
}

type loadedCeremony struct {
	Data   webauthn.SessionData
	Kind   Kind
	UserID string
}

// loadCeremony consumes a pending ceremony: a successful load deletes the
// record so the ceremony ID cannot be replayed.
func (s *Service) loadCeremony(ctx context.Context, ceremonyID string, expectedKind Kind) (loadedCeremony, error) {
	stored, err := s.ceremonies.GetCeremony(ctx, ceremonyID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return loadedCeremony{}, failAuth(fmt.Errorf("ceremony not found"))
		}
		return loadedCeremony{}, apperrors.Wrap(apperrors.CodeInternal, "load ceremony", err)
	}
	if stored.Kind != string(expectedKind) {
		return loadedCeremony{}, failAuth(fmt.Errorf("ceremony kind mismatch"))
	}
	if stored.ExpiresAt.Before(s.clock().UTC()) {
		_ = s.ceremonies.DeleteCeremony(ctx, ceremonyID)
		return loadedCeremony{}, failAuth(fmt.Errorf("ceremony expired"))
	}

	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(stored.SessionJSON), &session); err != nil {
		return loadedCeremony{}, apperrors.Wrap(apperrors.CodeInternal, "decode ceremony session", err)
	}
	_ = s.ceremonies.DeleteCeremony(ctx, ceremonyID)
	return loadedCeremony{Data: session, Kind: expectedKind, UserID: stored.UserID}, nil
}

func (s *Service) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := string(userHandle)
		if strings.TrimSpace(userID) == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		baseUser, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadWebauthnUser(ctx, baseUser)
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
