// Package server exposes the HTTP surface: account endpoints, history
// queries, and the WebSocket upgrade.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/christopherjohns/chatto/internal/message"
	"github.com/christopherjohns/chatto/internal/ratelimit"
	"github.com/christopherjohns/chatto/internal/session"
	"github.com/christopherjohns/chatto/internal/user"
	"github.com/christopherjohns/chatto/internal/ws"
)

const (
	// loginRateLimit caps credential attempts per IP per minute.
	loginRateLimit = 20

	// limiterPruneInterval is how often stale limiter entries are dropped.
	limiterPruneInterval = 10 * time.Minute
)

// Server is the main HTTP server.
type Server struct {
	addr       string
	mux        *http.ServeMux
	httpSrv    *http.Server
	users      user.Store
	sessions   session.Manager
	messages   message.Store
	hub        *ws.Hub
	limiter    *ratelimit.IPLimiter
	sessionTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once

	// ownedSessions is set when the server created its own in-memory
	// session manager and is responsible for stopping its reaper.
	ownedSessions *session.MemoryManager
}

// Option configures a Server.
type Option func(*Server)

// WithUserStore sets the credential store backend.
func WithUserStore(s user.Store) Option {
	return func(srv *Server) { srv.users = s }
}

// WithSessionManager sets the session backend.
func WithSessionManager(m session.Manager) Option {
	return func(srv *Server) { srv.sessions = m }
}

// WithMessageStore sets the message persistence backend.
func WithMessageStore(s message.Store) Option {
	return func(srv *Server) { srv.messages = s }
}

// WithSessionTTL sets the session lifetime used for cookies and the
// default in-memory session manager.
func WithSessionTTL(ttl time.Duration) Option {
	return func(srv *Server) { srv.sessionTTL = ttl }
}

// New creates a new Server listening on addr. Backends not provided
// through options fall back to in-memory implementations.
func New(addr string, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		mux:        http.NewServeMux(),
		sessionTTL: session.DefaultTTL,
		limiter:    ratelimit.NewIPLimiter(loginRateLimit, time.Minute),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.users == nil {
		s.users = user.NewMemoryStore()
	}
	if s.sessions == nil {
		owned := session.NewMemoryManager(s.sessionTTL)
		s.sessions = owned
		s.ownedSessions = owned
	}
	if s.messages == nil {
		s.messages = message.NewMemoryStore()
	}

	s.hub = ws.NewHub()
	s.routes()
	go s.limiterPruneLoop()
	return s
}

// limiterPruneLoop drops stale rate-limiter entries until Shutdown.
func (s *Server) limiterPruneLoop() {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

// Hub returns the websocket hub, mainly so shutdown can drain it.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.mux}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains live websocket connections, stops background loops,
// and shuts down the HTTP server. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.ownedSessions != nil {
			s.ownedSessions.Close()
		}
	})
	s.hub.Shutdown()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /check-auth", s.handleCheckAuth)
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("GET /search-user", s.handleSearchUser)
	s.mux.HandleFunc("GET /get-conversations", s.handleConversations)
	s.mux.HandleFunc("GET /get-private-messages", s.handlePrivateMessages)
	s.mux.HandleFunc("GET /get-public-messages", s.handlePublicMessages)
	s.mux.HandleFunc("POST /clear-messages", s.handleClearMessages)
	s.mux.HandleFunc("POST /delete-conversation", s.handleDeleteConversation)
	s.mux.Handle("GET /ws", ws.NewHandler(s.hub, s.sessions, s.users, s.messages))
}
