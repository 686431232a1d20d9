package cmd

import (
	"github.com/jmcleod/labflow/guard"
	"github.com/jmcleod/labflow/internal/config"
)

// routeTable builds the guard's route table from configuration, falling back
// to the built-in lab-flow routes when none are declared.
func routeTable(routes []config.RouteConfig) *guard.Table {
	if len(routes) == 0 {
		return guard.DefaultRoutes()
	}
	t := guard.NewTable()
	for _, r := range routes {
		if r.RedirectTo != "" {
			t.Redirect(r.Path, r.RedirectTo)
			continue
		}
		t.Add(r.Path, guard.RouteMeta{Public: r.Public, Roles: r.Roles})
	}
	return t
}

func newGuard(a *app, notifier guard.Notifier) *guard.Guard {
	opts := []guard.Option{
		guard.WithRoutes(routeTable(a.cfg.Routes)),
		guard.WithLogger(a.logger.With().Str("component", "guard").Logger()),
	}
	if notifier != nil {
		opts = append(opts, guard.WithNotifier(notifier))
	}
	return guard.New(a.sessions, opts...)
}
