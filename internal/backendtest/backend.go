// Package backendtest runs an in-process fake of the lab-flow backend for
// tests. It speaks the same envelope protocol as the real service.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmcleod/labflow/protocol"
)

// Profile mirrors the backend's user profile payload.
type Profile struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles"`
}

// Failure is an envelope error the backend answers with instead of the
// normal response.
type Failure struct {
	Status  int
	Code    int
	Message string
}

type account struct {
	password string
	profile  Profile
}

// Backend is a fake backend served over httptest.
type Backend struct {
	*httptest.Server

	mu              sync.Mutex
	accounts        map[string]account
	tokens          map[string]string
	identityFailure *Failure
	identityDelay   time.Duration
	identityBlank   bool
	files           map[string]file

	loginCalls    atomic.Int32
	identityCalls atomic.Int32
	logoutCalls   atomic.Int32
}

type file struct {
	disposition string
	contentType string
	body        []byte
}

// New starts a Backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		accounts: make(map[string]account),
		tokens:   make(map[string]string),
		files:    make(map[string]file),
	}
	b.Server = httptest.NewServer(b.router())
	t.Cleanup(b.Close)
	return b
}

func (b *Backend) router() chi.Router {
	r := chi.NewRouter()
	r.Post("/api/auth/login", b.login)
	r.Get("/api/auth/me", b.me)
	r.Post("/api/auth/logout", b.logout)
	r.Get("/api/files/{name}", b.download)
	return r
}

// AddUser registers an account.
func (b *Backend) AddUser(password string, p Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[p.Username] = account{password: password, profile: p}
}

// IssueToken creates a valid token for username without a login call.
func (b *Backend) IssueToken(username string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	token := uuid.NewString()
	b.tokens[token] = username
	return token
}

// RevokeToken invalidates token.
func (b *Backend) RevokeToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tokens, token)
}

// FailIdentity makes the identity endpoint answer with f. Nil restores
// normal behavior.
func (b *Backend) FailIdentity(f *Failure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identityFailure = f
}

// BlankIdentity makes the identity endpoint answer success with null data.
func (b *Backend) BlankIdentity(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identityBlank = on
}

// DelayIdentity makes the identity endpoint wait d before answering.
func (b *Backend) DelayIdentity(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.identityDelay = d
}

// AddFile serves body at /api/files/{name}. An empty disposition omits the
// Content-Disposition header.
func (b *Backend) AddFile(name, disposition, contentType string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = file{disposition: disposition, contentType: contentType, body: body}
}

func (b *Backend) LoginCalls() int    { return int(b.loginCalls.Load()) }
func (b *Backend) IdentityCalls() int { return int(b.identityCalls.Load()) }
func (b *Backend) LogoutCalls() int   { return int(b.logoutCalls.Load()) }

func writeEnvelope(w http.ResponseWriter, r *http.Request, status, code int, msg string, data any) {
	traceID := r.Header.Get(protocol.TraceHeader)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(protocol.TraceHeader, traceID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(protocol.Envelope[any]{
		Code:      code,
		Message:   msg,
		Data:      data,
		TraceID:   traceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, r, http.StatusUnauthorized, 40100, "login required or session expired", nil)
}

func (b *Backend) principal(r *http.Request) (Profile, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return Profile{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	username, ok := b.tokens[token]
	if !ok {
		return Profile{}, false
	}
	acct, ok := b.accounts[username]
	return acct.profile, ok
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	b.loginCalls.Add(1)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, r, http.StatusBadRequest, 40000, "malformed request body", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeEnvelope(w, r, http.StatusBadRequest, 40001, "username and password are required", nil)
		return
	}

	b.mu.Lock()
	acct, ok := b.accounts[req.Username]
	if !ok || acct.password != req.Password {
		b.mu.Unlock()
		writeEnvelope(w, r, http.StatusUnauthorized, 40100, "invalid username or password", nil)
		return
	}
	token := uuid.NewString()
	b.tokens[token] = req.Username
	b.mu.Unlock()

	writeEnvelope(w, r, http.StatusOK, 0, "login succeeded", map[string]any{
		"token":     token,
		"tokenType": "Bearer",
		"expiresAt": time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339),
		"user":      acct.profile,
	})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	b.identityCalls.Add(1)
	b.mu.Lock()
	failure, delay, blank := b.identityFailure, b.identityDelay, b.identityBlank
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failure != nil {
		writeEnvelope(w, r, failure.Status, failure.Code, failure.Message, nil)
		return
	}
	if blank {
		writeEnvelope(w, r, http.StatusOK, 0, "OK", nil)
		return
	}
	p, ok := b.principal(r)
	if !ok {
		writeUnauthorized(w, r)
		return
	}
	writeEnvelope(w, r, http.StatusOK, 0, "OK", map[string]any{"user": p})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.logoutCalls.Add(1)
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		b.RevokeToken(token)
	}
	writeEnvelope(w, r, http.StatusOK, 0, "logout succeeded", nil)
}

func (b *Backend) download(w http.ResponseWriter, r *http.Request) {
	if _, ok := b.principal(r); !ok {
		writeUnauthorized(w, r)
		return
	}
	b.mu.Lock()
	f, ok := b.files[chi.URLParam(r, "name")]
	b.mu.Unlock()
	if !ok {
		writeEnvelope(w, r, http.StatusNotFound, 40000, "file not found", nil)
		return
	}
	if f.disposition != "" {
		w.Header().Set("Content-Disposition", f.disposition)
	}
	w.Header().Set("Content-Type", f.contentType)
	w.Write(f.body)
}
