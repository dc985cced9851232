// Package dashboard serves the local HTTP and WebSocket API: stream proxies for
// conversations and agent edits, the embedded signup flow and storage settings.
package dashboard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/caam1406/clawdesk/pkg/agent"
	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/signup"
	"github.com/caam1406/clawdesk/pkg/storage"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
)

// StorageFactory is a function that creates a storage instance for testing connections
type StorageFactory func(cfg storage.Config) (storage.Storage, error)

type Server struct {
	cfg            *config.Config
	msgBus         *bus.MessageBus
	loop           *agent.Loop
	store          storage.Storage
	hub            *Hub
	relay          *signup.Relay
	bridge         *Bridge
	signups        *signup.Manager
	httpServer     *http.Server
	startTime      time.Time
	storageFactory StorageFactory
}

// NewServer wires the signup flow to the browsers connected over /ws. store and
// recorder may be nil.
func NewServer(
	cfg *config.Config,
	msgBus *bus.MessageBus,
	loop *agent.Loop,
	store storage.Storage,
	recorder signup.Recorder,
) *Server {
	s := &Server{
		cfg:            cfg,
		msgBus:         msgBus,
		loop:           loop,
		store:          store,
		relay:          signup.NewRelay(),
		storageFactory: storage.NewStorage,
		startTime:      time.Now(),
	}
	s.hub = NewHub(msgBus, s.handleFrame)
	s.bridge = NewBridge(cfg, s.hub, msgBus)

	sc := cfg.Clone().Signup
	s.signups = signup.NewManager(signup.Handshake{
		SDK:                 s.bridge,
		Source:              s.relay,
		Timeout:             cfg.SignupTimeout(),
		TrustedOriginSuffix: sc.TrustedOriginSuffix,
		ConfigID:            sc.ConfigID,
		Extras:              sc.Extras,
	}, recorder, s.accountSaver())
	s.signups.SetTTL(cfg.SessionTTL())
	s.signups.SetNotifier(s.publishSignupState)
	return s
}

// Signups exposes the session manager.
func (s *Server) Signups() *signup.Manager { return s.signups }

// Handler returns the API routes behind the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes (require auth)
	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/accounts", s.authMiddleware(s.handleAccounts))
	mux.HandleFunc("/api/v1/accounts/", s.authMiddleware(s.handleAccountDetail))
	mux.HandleFunc("/api/v1/conversations/", s.authMiddleware(s.handleConversation))
	mux.HandleFunc("/api/v1/agents/", s.authMiddleware(s.handleAgentEdit))

	// Embedded signup
	mux.HandleFunc("/api/v1/signup", s.authMiddleware(s.handleSignupStart))
	mux.HandleFunc("/api/v1/signup/messages", s.authMiddleware(s.handleSignupMessage))
	mux.HandleFunc("/api/v1/signup/", s.authMiddleware(s.handleSignupDetail))

	// Configuration endpoints
	mux.HandleFunc("/api/v1/config/storage", s.authMiddleware(s.handleGetStorageConfig))
	mux.HandleFunc("/api/v1/config/storage/update", s.authMiddleware(s.handleUpdateStorageConfig))
	mux.HandleFunc("/api/v1/config/storage/test", s.authMiddleware(s.handleTestStorageConnection))
	mux.HandleFunc("/api/v1/config/secrets", s.authMiddleware(s.handleSecrets))

	// WebSocket (auth via query param)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return s.corsMiddleware(mux)
}

// Start runs the hub and the signup sweeper and begins serving. Request contexts
// are derived from ctx so open streams end when it is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	go s.hub.Run(ctx)
	go s.signups.Run(ctx)

	dc := s.cfg.Clone().Dashboard
	addr := fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("dashboard", "Dashboard server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("dashboard", "Dashboard server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

// Run starts the server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		logger.InfoC("dashboard", "Dashboard server stopped")
	}
}

// authMiddleware wraps a handler with bearer token authentication.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	expected := s.cfg.DashboardToken()
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.extractToken(r)), []byte(expected)) == 1
}

// extractToken gets the bearer token from Authorization header.
func (s *Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Fallback: query parameter (for WebSocket)
	return r.URL.Query().Get("token")
}

// corsMiddleware adds CORS headers for same-origin requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) accountSaver() signup.AccountSaver {
	if s.store == nil {
		return nil
	}
	return signup.AccountSaverFunc(func(ctx context.Context, sessionID string, r signup.Result) error {
		return s.store.Accounts().Save(ctx, repository.Account{
			WABAID:        r.WABAID,
			PhoneNumberID: r.PhoneNumberID,
			BusinessID:    r.BusinessID,
			Code:          r.Code,
			SessionID:     sessionID,
		})
	})
}

func (s *Server) publishSignupState(snap signup.Snapshot) {
	if snap.Phase.Terminal() {
		s.bridge.Forget(snap.ID)
	}
	s.msgBus.PublishSignupState(bus.SignupState{
		SessionID:     snap.ID,
		Phase:         string(snap.Phase),
		HasLogin:      snap.HasLogin,
		HasBusiness:   snap.HasData,
		WABAID:        snap.Result.WABAID,
		PhoneNumberID: snap.Result.PhoneNumberID,
		BusinessID:    snap.Result.BusinessID,
		Error:         snap.Error,
	})
}
