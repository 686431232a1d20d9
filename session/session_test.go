package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/labflow/internal/backendtest"
	"github.com/jmcleod/labflow/protocol"
	"github.com/jmcleod/labflow/session"
	"github.com/jmcleod/labflow/storage"
	"github.com/jmcleod/labflow/storage/memory"
)

var teacher = backendtest.Profile{
	ID:          7,
	Username:    "tli",
	DisplayName: "Teacher Li",
	Roles:       []string{session.RoleTeacher},
}

func setup(t *testing.T) (*backendtest.Backend, *protocol.Client, *memory.Store) {
	t.Helper()
	b := backendtest.New(t)
	b.AddUser("secret", teacher)
	return b, protocol.New(b.URL), memory.NewStore()
}

func TestNewEmptyStoreIsUnauthenticated(t *testing.T) {
	_, client, store := setup(t)
	m := session.New(client, store)
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.User())
	assert.Empty(t, m.DisplayName())
}

func TestLoginAuthenticatesAndPersists(t *testing.T) {
	b, client, store := setup(t)
	m := session.New(client, store)

	require.NoError(t, m.Login(t.Context(), "tli", "secret"))
	assert.Equal(t, session.Authenticated, m.State())
	assert.NotEmpty(t, m.Token())
	assert.Equal(t, "Teacher Li", m.DisplayName())
	assert.True(t, m.HasRole(session.RoleTeacher))
	assert.Equal(t, 1, b.LoginCalls())
	assert.Equal(t, 1, b.IdentityCalls())

	token, err := store.Get(session.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, m.Token(), token)

	raw, err := store.Get(session.UserKey)
	require.NoError(t, err)
	var stored session.UserProfile
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, int64(7), stored.ID)
	assert.Equal(t, []string{session.RoleTeacher}, stored.Roles)
}

func TestLoginNormalizesUsername(t *testing.T) {
	_, client, store := setup(t)
	m := session.New(client, store)
	require.NoError(t, m.Login(t.Context(), "  tli\t", "secret"))
	assert.Equal(t, session.Authenticated, m.State())
}

func TestLoginRejected(t *testing.T) {
	b, client, store := setup(t)
	m := session.New(client, store)

	err := m.Login(t.Context(), "tli", "wrong")
	require.Error(t, err)
	assert.True(t, protocol.IsApplication(err))
	assert.Equal(t, http.StatusUnauthorized, protocol.StatusOf(err))
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.Equal(t, 0, b.IdentityCalls())
	assert.Equal(t, 0, store.Len())
}

func TestLoginWithFailedIdentityLeavesTokenOnly(t *testing.T) {
	b, client, store := setup(t)
	b.FailIdentity(&backendtest.Failure{Status: http.StatusInternalServerError, Code: 50000, Message: "db down"})
	m := session.New(client, store)

	err := m.Login(t.Context(), "tli", "secret")
	require.Error(t, err)
	assert.True(t, protocol.IsApplication(err))
	assert.Equal(t, session.TokenOnly, m.State())
	assert.Nil(t, m.User())

	token, err := store.Get(session.TokenKey)
	require.NoError(t, err)
	assert.Equal(t, m.Token(), token)
	_, err = store.Get(session.UserKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The next guarded navigation can still complete the session.
	b.FailIdentity(nil)
	require.NoError(t, m.EnsureIdentity(t.Context()))
	assert.Equal(t, session.Authenticated, m.State())
}

func TestRestartRestoresSessionWithoutNetwork(t *testing.T) {
	b, client, store := setup(t)
	first := session.New(client, store)
	require.NoError(t, first.Login(t.Context(), "tli", "secret"))
	calls := b.IdentityCalls()

	second := session.New(client, store)
	assert.Equal(t, session.Authenticated, second.State())
	assert.Equal(t, first.Token(), second.Token())
	assert.Equal(t, first.User(), second.User())

	require.NoError(t, second.EnsureIdentity(t.Context()))
	assert.Equal(t, calls, b.IdentityCalls())
}

func TestRestoreTreatsMalformedUserAsAbsent(t *testing.T) {
	_, client, store := setup(t)
	store.Put(session.TokenKey, "tok")
	store.Put(session.UserKey, "{not json")

	m := session.New(client, store)
	assert.Equal(t, session.TokenOnly, m.State())
	assert.Equal(t, "tok", m.Token())
	assert.Nil(t, m.User())
}

func TestRestoreDropsUserWithoutToken(t *testing.T) {
	_, client, store := setup(t)
	store.Put(session.UserKey, `{"id":1,"username":"x","roles":["ROLE_ADMIN"]}`)

	m := session.New(client, store)
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.Nil(t, m.User())
	assert.False(t, m.HasRole(session.RoleAdmin))
}

type brokenStore struct{ storage.KV }

func (brokenStore) Get(string) (string, error) { return "", errors.New("disk unreadable") }

func TestRestoreReadFailureIsNotFatal(t *testing.T) {
	_, client, _ := setup(t)
	m := session.New(client, brokenStore{memory.NewStore()})
	assert.Equal(t, session.Unauthenticated, m.State())
}

func TestEnsureIdentityIsIdempotent(t *testing.T) {
	b, client, store := setup(t)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store)
	require.Equal(t, session.TokenOnly, m.State())

	require.NoError(t, m.EnsureIdentity(t.Context()))
	require.NoError(t, m.EnsureIdentity(t.Context()))
	assert.Equal(t, 1, b.IdentityCalls())
	assert.Equal(t, session.Authenticated, m.State())
}

func TestEnsureIdentityUnauthenticatedIsNoop(t *testing.T) {
	b, client, store := setup(t)
	m := session.New(client, store)
	require.NoError(t, m.EnsureIdentity(t.Context()))
	assert.Equal(t, 0, b.IdentityCalls())
}

func TestEnsureIdentityExpiredToken(t *testing.T) {
	b, client, store := setup(t)
	b.FailIdentity(&backendtest.Failure{Status: http.StatusOK, Code: 40001, Message: "token expired"})
	store.Put(session.TokenKey, "stale")
	m := session.New(client, store)

	err := m.EnsureIdentity(t.Context())
	require.Error(t, err)
	assert.True(t, protocol.IsApplication(err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestEnsureIdentityConcurrentCallsShareOneFetch(t *testing.T) {
	b, client, store := setup(t)
	b.DelayIdentity(100 * time.Millisecond)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.EnsureIdentity(t.Context())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, b.IdentityCalls())
}

func TestEnsureIdentityCancelledCallerDoesNotFailOthers(t *testing.T) {
	b, client, store := setup(t)
	b.DelayIdentity(200 * time.Millisecond)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store)

	ctx, cancel := context.WithCancel(t.Context())
	first := make(chan error, 1)
	go func() { first <- m.EnsureIdentity(ctx) }()
	time.Sleep(20 * time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- m.EnsureIdentity(t.Context()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)
	assert.Equal(t, session.Authenticated, m.State())
	assert.Equal(t, 1, b.IdentityCalls())
}

func TestFetchIdentityRejectsMissingUser(t *testing.T) {
	b, client, store := setup(t)
	b.BlankIdentity(true)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store)

	err := m.FetchIdentity(t.Context())
	assert.ErrorIs(t, err, session.ErrNoIdentity)
	assert.Equal(t, session.TokenOnly, m.State())
	assert.Nil(t, m.User())
	_, err = store.Get(session.UserKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFetchIdentityWithoutToken(t *testing.T) {
	b, client, store := setup(t)
	m := session.New(client, store)
	err := m.FetchIdentity(t.Context())
	assert.ErrorIs(t, err, session.ErrNoToken)
	assert.Equal(t, 0, b.IdentityCalls())
}

func TestFetchIdentityTimeout(t *testing.T) {
	b, client, store := setup(t)
	b.DelayIdentity(time.Second)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store, session.WithIdentityTimeout(50*time.Millisecond))

	err := m.FetchIdentity(t.Context())
	require.Error(t, err)
	assert.True(t, protocol.IsTransport(err))
	assert.Equal(t, session.TokenOnly, m.State())
}

func TestLogoutDuringFetchDiscardsIdentity(t *testing.T) {
	b, client, store := setup(t)
	b.DelayIdentity(200 * time.Millisecond)
	store.Put(session.TokenKey, b.IssueToken("tli"))
	m := session.New(client, store)

	done := make(chan error, 1)
	go func() { done <- m.FetchIdentity(t.Context()) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Logout())

	assert.ErrorIs(t, <-done, session.ErrSessionChanged)
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.Equal(t, 0, store.Len())
}

func TestLogoutIsIdempotent(t *testing.T) {
	_, client, store := setup(t)
	m := session.New(client, store)
	require.NoError(t, m.Login(t.Context(), "tli", "secret"))

	require.NoError(t, m.Logout())
	require.NoError(t, m.Logout())
	assert.Equal(t, session.Unauthenticated, m.State())
	assert.Empty(t, m.Token())
	assert.Equal(t, 0, store.Len())
}

func TestLogoutRemote(t *testing.T) {
	b, client, store := setup(t)
	m := session.New(client, store)
	require.NoError(t, m.Login(t.Context(), "tli", "secret"))
	token := m.Token()

	require.NoError(t, m.LogoutRemote(t.Context()))
	assert.Equal(t, 1, b.LogoutCalls())
	assert.Equal(t, session.Unauthenticated, m.State())

	// The revoked token no longer resolves.
	store.Put(session.TokenKey, token)
	err := session.New(client, store).FetchIdentity(t.Context())
	assert.Equal(t, http.StatusUnauthorized, protocol.StatusOf(err))
}

func TestSuggestLandingPathPriority(t *testing.T) {
	tests := []struct {
		roles []string
		want  string
	}{
		{[]string{session.RoleTeacher, session.RoleAdmin}, session.AdminLandingPath},
		{[]string{session.RoleStudent, session.RoleTeacher}, session.TeacherLandingPath},
		{[]string{session.RoleStudent}, session.StudentLandingPath},
		{nil, session.StudentLandingPath},
	}
	for _, tt := range tests {
		b := backendtest.New(t)
		b.AddUser("pw", backendtest.Profile{ID: 1, Username: "u", Roles: tt.roles})
		m := session.New(protocol.New(b.URL), memory.NewStore())
		require.NoError(t, m.Login(t.Context(), "u", "pw"))
		assert.Equal(t, tt.want, m.SuggestLandingPath(), "roles %v", tt.roles)
	}
}

func TestDisplayNameFallsBackToUsername(t *testing.T) {
	b := backendtest.New(t)
	b.AddUser("pw", backendtest.Profile{ID: 2, Username: "zhao", Roles: []string{session.RoleStudent}})
	m := session.New(protocol.New(b.URL), memory.NewStore())
	require.NoError(t, m.Login(t.Context(), "zhao", "pw"))
	assert.Equal(t, "zhao", m.DisplayName())
}

func TestLandingPathForNil(t *testing.T) {
	assert.Equal(t, session.StudentLandingPath, session.LandingPathFor(nil))
}
