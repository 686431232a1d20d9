package guard

import (
	"slices"
	"strings"

	"github.com/jmcleod/labflow/session"
)

// LoginPath is the default sign-in route.
const LoginPath = "/login"

// maxRedirects bounds redirect chains in a Table.
const maxRedirects = 10

// RouteMeta is the static authorization declaration of a route.
type RouteMeta struct {
	// Public routes bypass every session check.
	Public bool `yaml:"public" json:"public"`
	// Roles, when non-empty, requires the session to hold at least one of them.
	Roles []string `yaml:"roles" json:"roles"`
}

// Table maps route paths to their metadata and static redirects.
type Table struct {
	routes    map[string]RouteMeta
	redirects map[string]string
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{
		routes:    make(map[string]RouteMeta),
		redirects: make(map[string]string),
	}
}

// DefaultRoutes returns the lab-flow route table.
func DefaultRoutes() *Table {
	return NewTable().
		Redirect("/", LoginPath).
		Add(LoginPath, RouteMeta{Public: true}).
		Add(session.StudentLandingPath, RouteMeta{Roles: []string{session.RoleStudent}}).
		Add(session.TeacherLandingPath, RouteMeta{Roles: []string{session.RoleTeacher, session.RoleAdmin}}).
		Add(session.AdminLandingPath, RouteMeta{Roles: []string{session.RoleAdmin}})
}

// Add declares a route.
func (t *Table) Add(path string, meta RouteMeta) *Table {
	meta.Roles = slices.Clone(meta.Roles)
	t.routes[path] = meta
	return t
}

// Redirect declares a static redirect from one path to another.
func (t *Table) Redirect(from, to string) *Table {
	t.redirects[from] = to
	return t
}

// Paths returns the declared route paths, sorted.
func (t *Table) Paths() []string {
	paths := make([]string, 0, len(t.routes))
	for p := range t.routes {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Resolve follows static redirects for fullPath and returns the resulting
// full path and its metadata. The query string and fragment are ignored for
// matching and carried through only when no redirect applies. ok is false
// when no route is declared for the path.
func (t *Table) Resolve(fullPath string) (string, RouteMeta, bool) {
	resolved := fullPath
	for i := 0; i < maxRedirects; i++ {
		to, ok := t.redirects[pathOnly(resolved)]
		if !ok {
			break
		}
		resolved = to
	}
	meta, ok := t.routes[pathOnly(resolved)]
	return resolved, meta, ok
}

func pathOnly(fullPath string) string {
	if i := strings.IndexAny(fullPath, "?#"); i >= 0 {
		return fullPath[:i]
	}
	return fullPath
}
