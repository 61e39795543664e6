package server

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/christopherjohns/chatto/internal/auth"
	"github.com/christopherjohns/chatto/internal/message"
	"github.com/christopherjohns/chatto/internal/user"
	"github.com/christopherjohns/chatto/internal/ws"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many attempts, slow down", http.StatusTooManyRequests)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	digest, err := auth.Hash(req.Password)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := s.users.Create(r.Context(), req.Username, digest, req.Email); err != nil {
		if errors.Is(err, user.ErrDuplicate) {
			http.Error(w, "username or email already taken", http.StatusBadRequest)
			return
		}
		log.Printf("server: register failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	respondText(w, http.StatusOK, "registration complete")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientIP(r)) {
		http.Error(w, "too many attempts, slow down", http.StatusTooManyRequests)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	// A missing user and a wrong password produce the same response, so
	// login failures don't leak which usernames exist.
	u, err := s.users.ByName(r.Context(), req.Username)
	if err != nil || !auth.Verify(req.Password, u.PasswordHash) {
		http.Error(w, "invalid username or password", http.StatusBadRequest)
		return
	}

	token, err := s.sessions.Create(r.Context(), u.ID)
	if err != nil {
		log.Printf("server: session create failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ws.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(s.sessionTTL),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	respondText(w, http.StatusOK, "login successful")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(ws.CookieName)
	if err == nil {
		if err := s.sessions.Destroy(r.Context(), cookie.Value); err != nil {
			log.Printf("server: session destroy failed: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ws.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	respondText(w, http.StatusOK, "logged out")
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      u.Username,
	})
}

func (s *Server) handleSearchUser(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}

	u, err := s.users.ByName(r.Context(), username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.Printf("server: user search failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user": u.Username})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	names, err := s.messages.Conversations(r.Context(), u.ID)
	if err != nil {
		log.Printf("server: conversations query failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": names})
}

func (s *Server) handlePrivateMessages(w http.ResponseWriter, r *http.Request) {
	senderName := r.URL.Query().Get("sender")
	recipientName := r.URL.Query().Get("recipient")
	if senderName == "" || recipientName == "" {
		http.Error(w, "sender and recipient are required", http.StatusBadRequest)
		return
	}

	sender := s.lookupUser(w, r, senderName)
	if sender == nil {
		return
	}
	recipient := s.lookupUser(w, r, recipientName)
	if recipient == nil {
		return
	}

	msgs, err := s.messages.ListPrivate(r.Context(), sender.ID, recipient.ID)
	if err != nil {
		log.Printf("server: private history query failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*message.Private{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// lookupUser resolves a username, writing the 404/500 response itself
// and returning nil on failure.
func (s *Server) lookupUser(w http.ResponseWriter, r *http.Request, username string) *user.User {
	u, err := s.users.ByName(r.Context(), username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
		} else {
			log.Printf("server: user lookup failed: %v", err)
			http.Error(w, "server error", http.StatusInternalServerError)
		}
		return nil
	}
	return u
}

func (s *Server) handlePublicMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.ListPublic(r.Context())
	if err != nil {
		log.Printf("server: public history query failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*message.Public{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if _, err := s.currentUser(r); err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := s.messages.ClearPublic(r.Context()); err != nil {
		log.Printf("server: clear public history failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondText(w, http.StatusOK, "public history cleared")
}

type deleteConversationRequest struct {
	Recipient string `json:"recipient"`
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	u, err := s.currentUser(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req deleteConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Recipient == "" {
		http.Error(w, "recipient is required", http.StatusBadRequest)
		return
	}

	other, err := s.users.ByName(r.Context(), req.Recipient)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.Printf("server: recipient lookup failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if err := s.messages.DeleteConversation(r.Context(), u.ID, other.ID); err != nil {
		log.Printf("server: delete conversation failed: %v", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	respondText(w, http.StatusOK, "conversation deleted")
}

// currentUser resolves the session cookie to a registered user. Any
// failure means the request is unauthenticated.
func (s *Server) currentUser(r *http.Request) (*user.User, error) {
	cookie, err := r.Cookie(ws.CookieName)
	if err != nil {
		return nil, err
	}
	userID, err := s.sessions.Resolve(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	return s.users.ByID(r.Context(), userID)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

func respondText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(msg))
}

// clientIP strips the port from the remote address for rate limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
