// Package web exposes warden's WebAuthn ceremonies over HTTP.
package web

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/warden-auth/warden/internal/ceremony"
	"github.com/warden-auth/warden/internal/platform/id"
	"github.com/warden-auth/warden/internal/storage"
	"github.com/warden-auth/warden/internal/token"
)

// AuthSuccess carries everything a success handler needs to respond to an
// authenticated request.
type AuthSuccess struct {
	Result    ceremony.Result
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// SuccessHandler writes the response for a successfully finished ceremony.
type SuccessHandler func(w http.ResponseWriter, r *http.Request, auth AuthSuccess)

// FailureHandler writes the response for a failed ceremony.
type FailureHandler func(w http.ResponseWriter, r *http.Request, err error)

// Server hosts the WebAuthn HTTP endpoints.
type Server struct {
	users      storage.UserStore
	sessions   storage.WebSessionStore
	stats      storage.StatisticsStore
	ceremonies *ceremony.Service
	tokens     *token.Issuer

	authenticator *Authenticator
	onSuccess     SuccessHandler
	onFailure     FailureHandler

	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewServer builds a web server bound to the ceremony service and stores.
func NewServer(ceremonies *ceremony.Service, tokens *token.Issuer, users storage.UserStore, sessions storage.WebSessionStore, stats storage.StatisticsStore) *Server {
	s := &Server{
		users:         users,
		sessions:      sessions,
		stats:         stats,
		ceremonies:    ceremonies,
		tokens:        tokens,
		authenticator: NewAuthenticator(ceremonies),
		clock:         time.Now,
		idGenerator:   id.NewID,
	}
	s.onSuccess = s.writeAuthSuccess
	s.onFailure = writeAuthFailure
	return s
}

// SetSuccessHandler replaces the response written after a successful
// ceremony. Passing nil restores the default JSON body.
func (s *Server) SetSuccessHandler(handler SuccessHandler) {
	if handler == nil {
		s.onSuccess = s.writeAuthSuccess
		return
	}
	s.onSuccess = handler
}

// SetFailureHandler replaces the response written after a failed ceremony.
// Passing nil restores the default JSON body.
func (s *Server) SetFailureHandler(handler FailureHandler) {
	if handler == nil {
		s.onFailure = writeAuthFailure
		return
	}
	s.onFailure = handler
}

// RegisterRoutes registers the WebAuthn HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("POST /webauthn/attestation/options", s.handleAttestationOptions)
	mux.HandleFunc("POST /webauthn/attestation/result", s.handleResult)
	mux.HandleFunc("POST /webauthn/assertion/options", s.handleAssertionOptions)
	mux.HandleFunc("POST /webauthn/assertion/result", s.handleResult)
	mux.HandleFunc("POST /webauthn/credentials", s.handleAddCredential)
	mux.HandleFunc("DELETE /webauthn/credentials/{id}", s.handleRevokeCredential)

	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("GET /users/{id}/credentials", s.handleListCredentials)

	mux.HandleFunc("GET /stats", s.handleStatistics)
	mux.HandleFunc("GET /healthz", handleLiveness)
	mux.HandleFunc("GET /up", handleLiveness)
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// StartCleanup starts periodic expiry cleanup for pending ceremonies and web
// sessions. Short-lived records would otherwise accumulate without a
// separate maintenance process.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.ceremonies != nil {
					if err := s.ceremonies.CleanupExpired(ctx); err != nil {
						log.Printf("cleanup expired ceremonies: %v", err)
					}
				}
				if s.sessions != nil {
					if err := s.sessions.DeleteExpiredWebSessions(ctx, s.clock().UTC()); err != nil {
						log.Printf("cleanup expired web sessions: %v", err)
					}
				}
			}
		}
	}()
}
