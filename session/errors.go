package session

import "errors"

var (
	// ErrNoToken is returned when an operation needs a token and none is held.
	// It is raised locally, before any network call.
	ErrNoToken = errors.New("no token")
	// ErrSessionChanged is returned when the session was replaced or cleared
	// while an identity fetch was in flight; the fetched identity is discarded.
	ErrSessionChanged = errors.New("session changed during identity fetch")
	// ErrNoIdentity is returned when the identity endpoint succeeded but
	// carried no user profile.
	ErrNoIdentity = errors.New("identity response carried no user")
)
