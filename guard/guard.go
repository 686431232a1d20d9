// Package guard gates navigation by authentication state and role. Every
// attempted route change is turned into an allow, redirect or deny decision.
package guard

import (
	"context"
	"net/url"
	"slices"

	"github.com/rs/zerolog"

	"github.com/jmcleod/labflow/session"
)

// RedirectParam is the query parameter carrying the path to resume after login.
const RedirectParam = "redirect"

// Outcome is the kind of a Decision.
type Outcome int

const (
	// Allow lets the navigation proceed to Decision.Path.
	Allow Outcome = iota
	// Redirect sends the user to sign in.
	Redirect
	// Deny sends an authenticated but unauthorized user to their landing page.
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the result of a guarded navigation.
type Decision struct {
	Outcome Outcome
	// Path is the allowed target, or the redirect destination.
	Path string
	// Resume is the originally intended full path, set on login redirects.
	Resume string
}

// Location renders the decision as a URL reference, with Resume attached as
// the redirect query parameter.
func (d Decision) Location() string {
	if d.Resume == "" {
		return d.Path
	}
	return d.Path + "?" + url.Values{RedirectParam: {d.Resume}}.Encode()
}

// Sessions is the view of the session the guard needs. *session.Manager
// satisfies it.
type Sessions interface {
	Token() string
	EnsureIdentity(ctx context.Context) error
	Logout() error
	HasRole(role string) bool
	SuggestLandingPath() string
}

var _ Sessions = (*session.Manager)(nil)

// Guard evaluates navigations against a route table.
type Guard struct {
	sessions  Sessions
	routes    *Table
	notifier  Notifier
	loginPath string
	logger    zerolog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithRoutes sets the route table used by Navigate.
func WithRoutes(t *Table) Option {
	return func(g *Guard) {
		g.routes = t
	}
}

// WithNotifier sets the notice sink.
func WithNotifier(n Notifier) Option {
	return func(g *Guard) {
		g.notifier = n
	}
}

// WithLoginPath overrides the sign-in route.
func WithLoginPath(p string) Option {
	return func(g *Guard) {
		g.loginPath = p
	}
}

// WithLogger sets the logger for guard decisions.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = l
	}
}

// New creates a Guard over sessions.
func New(sessions Sessions, opts ...Option) *Guard {
	g := &Guard{
		sessions:  sessions,
		routes:    DefaultRoutes(),
		loginPath: LoginPath,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notifier == nil {
		g.notifier = LogNotifier{Logger: g.logger}
	}
	return g
}

// Navigate resolves fullPath in the route table and checks it. Paths with no
// declared route are treated as protected routes without role requirements.
func (g *Guard) Navigate(ctx context.Context, fullPath string) Decision {
	resolved, meta, ok := g.routes.Resolve(fullPath)
	if !ok {
		g.logger.Debug().Str("path", fullPath).Msg("no declared route, requiring sign-in")
	}
	return g.Check(ctx, resolved, meta)
}

// Check decides a navigation to fullPath with the given metadata. The steps
// run strictly in order: public routes never touch the session, identity is
// resolved only when a token is held, and roles are checked only against a
// confirmed identity.
func (g *Guard) Check(ctx context.Context, fullPath string, meta RouteMeta) Decision {
	d := g.check(ctx, fullPath, meta)
	g.logger.Debug().
		Str("path", fullPath).
		Str("outcome", d.Outcome.String()).
		Str("location", d.Location()).
		Msg("navigation")
	return d
}

func (g *Guard) check(ctx context.Context, fullPath string, meta RouteMeta) Decision {
	if meta.Public {
		return Decision{Outcome: Allow, Path: fullPath}
	}

	if g.sessions.Token() == "" {
		return g.toLogin(fullPath)
	}

	if err := g.sessions.EnsureIdentity(ctx); err != nil {
		if ctx.Err() != nil {
			// The navigation was abandoned; the session is left as it was.
			g.logger.Debug().Err(err).Str("path", fullPath).Msg("navigation cancelled during identity check")
			return g.toLogin(fullPath)
		}
		g.logger.Info().Err(err).Str("path", fullPath).Msg("identity check failed, clearing session")
		if err := g.sessions.Logout(); err != nil {
			g.logger.Error().Err(err).Msg("logout after failed identity check")
		}
		g.notifier.Notify(NoticeSessionExpired, SessionExpiredMessage)
		return g.toLogin(fullPath)
	}

	if len(meta.Roles) > 0 && !slices.ContainsFunc(meta.Roles, g.sessions.HasRole) {
		g.notifier.Notify(NoticeForbidden, ForbiddenMessage)
		return Decision{Outcome: Deny, Path: g.sessions.SuggestLandingPath()}
	}

	return Decision{Outcome: Allow, Path: fullPath}
}

func (g *Guard) toLogin(fullPath string) Decision {
	return Decision{Outcome: Redirect, Path: g.loginPath, Resume: fullPath}
}
