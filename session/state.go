package session

// State is the authentication state of a Manager.
type State int

const (
	// Unauthenticated means no token is held.
	Unauthenticated State = iota
	// TokenOnly means a token is held but the identity is not resolved yet.
	// This is a valid resting state, e.g. after a restart that restored only
	// the token, or after a login whose identity fetch failed.
	TokenOnly
	// Authenticated means both token and identity are held.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case TokenOnly:
		return "token-only"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func stateOf(token string, user *UserProfile) State {
	switch {
	case token == "":
		return Unauthenticated
	case user == nil:
		return TokenOnly
	default:
		return Authenticated
	}
}
