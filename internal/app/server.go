// Package app assembles and runs the warden HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/warden-auth/warden/internal/ceremony"
	"github.com/warden-auth/warden/internal/storage/sqlite"
	"github.com/warden-auth/warden/internal/token"
	"github.com/warden-auth/warden/internal/web"
)

const cleanupInterval = 5 * time.Minute

// Server hosts the warden service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	webServer  *web.Server
}

// New creates a configured warden server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	if strings.TrimSpace(httpAddr) == "" {
		return nil, errors.New("http address is required")
	}
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}

	store, err := openStore(dbPathFromEnv())
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	issuer, err := token.NewIssuerFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("configure token issuer: %w", err)
	}

	ceremonies := ceremony.NewService(store, store, store)
	ceremonies.RegisterCreationChecker(ceremony.CheckCredProps)
	ceremonies.RegisterCreationChecker(ceremony.CheckPRF)
	ceremonies.RegisterRequestChecker(ceremony.CheckPRF)

	webServer := web.NewServer(ceremonies, issuer, store, store, store)
	mux := http.NewServeMux()
	webServer.RegisterRoutes(mux)

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(mux, "warden.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
		webServer:  webServer,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a warden server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	server, err := New(httpAddr)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.webServer.StartCleanup(serverCtx, cleanupInterval)

	log.Printf("warden listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancelShutdown()
		<-serveErr
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func dbPathFromEnv() string {
	path := strings.TrimSpace(os.Getenv("WARDEN_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "warden.db")
	}
	return path
}

func openStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
