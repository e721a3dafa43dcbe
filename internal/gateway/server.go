// Package gateway is the remote orchestration service. It holds the AI
// provider credentials, issues short-lived bearer tokens to mixing services
// and runs the strict resolution chain on their behalf.
package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/services"
)

// DefaultTokenTTL bounds the lifetime of issued tokens.
const DefaultTokenTTL = 15 * time.Minute

// Config configures the server. An empty Clients map disables authentication.
type Config struct {
	Clients  map[string]string
	TokenTTL time.Duration
}

// Server serves token issuance and prompt resolution.
type Server struct {
	resolver *services.Resolver
	clients  map[string]string
	ttl      time.Duration
	now      func() time.Time
	router   *http.ServeMux

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewServer wires the routes around resolver.
func NewServer(resolver *services.Resolver, cfg Config) *Server {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &Server{
		resolver: resolver,
		clients:  cfg.Clients,
		ttl:      ttl,
		now:      time.Now,
		router:   http.NewServeMux(),
		tokens:   map[string]time.Time{},
	}
	if len(s.clients) == 0 {
		log.Printf("WARN gateway: no clients configured, authentication disabled")
	}

	s.router.HandleFunc("GET /health", s.health)
	s.router.HandleFunc("GET /ready", s.ready)
	s.router.HandleFunc("POST /oauth/token", s.issueToken)
	s.router.HandleFunc("POST /v1/resolve", s.requireToken(s.resolve))
	s.router.HandleFunc("GET /{$}", s.info)
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "gateway"})
}

// ready reports whether at least one provider can serve requests.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	providers := s.resolver.Providers()
	if len(providers) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "providers": providers})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "providers": providers})
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     "mixify-gateway",
		"description": "Prompt resolution gateway",
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// issueToken implements the client-credentials grant. Credentials are
// accepted from basic auth or the form body.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if grant := r.PostForm.Get("grant_type"); grant != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if !s.validClient(id, secret) {
		log.Printf("WARN gateway: rejected token request for client %q", id)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	token := uuid.NewString()
	now := s.now()
	s.mu.Lock()
	for t, exp := range s.tokens {
		if !now.Before(exp) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = now.Add(s.ttl)
	s.mu.Unlock()

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.ttl.Seconds()),
	})
}

func (s *Server) validClient(id, secret string) bool {
	want, ok := s.clients[id]
	if !ok || id == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.clients) == 0 {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			token, found = strings.CutPrefix(auth, "bearer ")
		}
		if !found || !s.validToken(token) {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or expired token", Code: "UNAUTHORIZED"})
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// resolve runs the strict chain. Exhausted providers answer 424 so callers
// fall through to their next provider instead of retrying this one.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	var req domain.PromptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body", Code: "BAD_REQUEST"})
		return
	}
	switch {
	case req.Features1.BPM <= 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "analysis of track 1 is required", Code: "PRECONDITION_FAILED"})
		return
	case req.Features2.BPM <= 0:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "analysis of track 2 is required", Code: "PRECONDITION_FAILED"})
		return
	}

	res, err := s.resolver.Attempt(r.Context(), "", req)
	if err != nil {
		if errors.Is(err, domain.ErrPrecondition) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "PRECONDITION_FAILED"})
			return
		}
		log.Printf("ERROR gateway: resolve: %v", err)
		writeJSON(w, http.StatusFailedDependency, errorResponse{Error: err.Error(), Code: "PROVIDER_FAILED"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
