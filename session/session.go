// Package session owns the client's authentication token and user profile,
// mirrors both to durable storage, and resolves the identity lazily from the
// backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/labflow/storage"
)

// Storage keys for the persisted session.
const (
	TokenKey = "labflow_token"
	UserKey  = "labflow_user"
)

// Backend endpoints.
const (
	LoginPath    = "/api/auth/login"
	IdentityPath = "/api/auth/me"
	LogoutPath   = "/api/auth/logout"
)

// Backend performs envelope-aware JSON calls. *protocol.Client satisfies it.
type Backend interface {
	Call(ctx context.Context, path, method string, body any, token string, out any) error
}

// Manager is the process-wide session. Only its methods mutate the session,
// and every mutation is persisted before the method returns.
type Manager struct {
	backend         Backend
	store           storage.KV
	logger          zerolog.Logger
	identityTimeout time.Duration
	identity        singleflight.Group

	mu    sync.RWMutex
	token string
	user  *UserProfile
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for session events.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithIdentityTimeout bounds each identity fetch. Zero leaves it unbounded.
func WithIdentityTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.identityTimeout = d
	}
}

// New creates a Manager and restores any session previously persisted in
// store. Unreadable or malformed stored values are treated as absent.
func New(backend Backend, store storage.KV, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	return m
}

func (m *Manager) restore() {
	token, err := m.store.Get(TokenKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Debug().Err(err).Msg("session: token unreadable, starting unauthenticated")
		}
		return
	}
	m.token = token

	raw, err := m.store.Get(UserKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Debug().Err(err).Msg("session: user unreadable, identity will be refetched")
		}
		return
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.Debug().Err(err).Msg("session: stored user malformed, identity will be refetched")
		return
	}
	if token == "" {
		return
	}
	m.user = &user
	m.logger.Debug().Str("state", m.stateLocked().String()).Msg("session restored")
}

// Token returns the bearer token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// User returns a copy of the cached profile, or nil when unresolved.
func (m *Manager) User() *UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.clone()
}

// State reports the current authentication state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	return stateOf(m.token, m.user)
}

// IsAuthenticated reports whether a token is held.
func (m *Manager) IsAuthenticated() bool {
	return m.Token() != ""
}

// Roles returns the roles of the cached profile.
func (m *Manager) Roles() []string {
	if u := m.User(); u != nil {
		return u.Roles
	}
	return nil
}

// DisplayName returns the display name, or the username when it is empty.
func (m *Manager) DisplayName() string {
	u := m.User()
	switch {
	case u == nil:
		return ""
	case u.DisplayName != "":
		return u.DisplayName
	default:
		return u.Username
	}
}

// HasRole reports whether the cached profile carries role.
func (m *Manager) HasRole(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.HasRole(role)
}

// SuggestLandingPath returns the landing path for the most privileged role held.
func (m *Manager) SuggestLandingPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return LandingPathFor(m.user)
}

// Login exchanges credentials for a token, persists it, and resolves the
// identity. If the identity fetch fails the token is kept and the session
// stays TokenOnly; the error is returned for the caller to display.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	req := loginRequest{
		Username: norm.NFC.String(strings.TrimSpace(username)),
		Password: password,
	}
	var resp LoginResponse
	if err := m.backend.Call(ctx, LoginPath, http.MethodPost, req, "", &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("login response carried no token")
	}

	if err := m.setToken(resp.Token); err != nil {
		return err
	}
	m.logger.Info().Str("username", req.Username).Msg("login succeeded")

	if err := m.FetchIdentity(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("identity fetch after login failed")
		return err
	}
	return nil
}

// setToken installs a new token. Any previously cached identity belonged to
// the old token and is dropped.
func (m *Manager) setToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.store.Batch(func(tx storage.Tx) error {
		if err := tx.Put(TokenKey, token); err != nil {
			return err
		}
		return tx.Delete(UserKey)
	})
	if err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	m.token = token
	m.user = nil
	return nil
}

// EnsureIdentity resolves the identity when a token is held without one.
// It is a no-op when unauthenticated or already authenticated. Concurrent
// callers share a single in-flight fetch; a caller whose ctx ends stops
// waiting with ctx.Err() while the fetch continues for the others.
func (m *Manager) EnsureIdentity(ctx context.Context) error {
	if m.State() != TokenOnly {
		return nil
	}
	// The shared fetch outlives any single caller, so one caller giving up
	// does not fail the others. It is still bounded by the identity timeout.
	shared := context.WithoutCancel(ctx)
	ch := m.identity.DoChan("identity", func() (any, error) {
		if m.State() != TokenOnly {
			return nil, nil
		}
		return nil, m.FetchIdentity(shared)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchIdentity loads the profile for the current token from the backend and
// persists it. It fails with ErrNoToken, without a network call, when no
// token is held, and with ErrNoIdentity when the reply has no user.
func (m *Manager) FetchIdentity(ctx context.Context) error {
	token := m.Token()
	if token == "" {
		return ErrNoToken
	}

	if m.identityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.identityTimeout)
		defer cancel()
	}

	var resp CurrentUserResponse
	if err := m.backend.Call(ctx, IdentityPath, http.MethodGet, nil, token, &resp); err != nil {
		return err
	}
	if resp.User == nil {
		return ErrNoIdentity
	}

	data, err := json.Marshal(resp.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != token {
		return ErrSessionChanged
	}
	if err := m.store.Put(UserKey, string(data)); err != nil {
		return fmt.Errorf("persisting user: %w", err)
	}
	user := *resp.User
	m.user = &user
	m.logger.Debug().Int64("user_id", user.ID).Strs("roles", user.Roles).Msg("identity resolved")
	return nil
}

// Logout clears the session in memory and in storage. It is safe to call in
// any state. The in-memory session is cleared even if storage fails.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.user = nil
	err := m.store.Batch(func(tx storage.Tx) error {
		if err := tx.Delete(TokenKey); err != nil {
			return err
		}
		return tx.Delete(UserKey)
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("clearing persisted session failed")
		return fmt.Errorf("clearing persisted session: %w", err)
	}
	return nil
}

// LogoutRemote notifies the backend, then clears the local session. A
// backend failure is logged and does not prevent the local logout.
func (m *Manager) LogoutRemote(ctx context.Context) error {
	if token := m.Token(); token != "" {
		if err := m.backend.Call(ctx, LogoutPath, http.MethodPost, nil, token, nil); err != nil {
			m.logger.Warn().Err(err).Msg("remote logout failed")
		}
	}
	return m.Logout()
}
