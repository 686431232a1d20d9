package guard

import "net/http"

// Middleware applies the guard to HTTP navigations. Allowed requests reach
// next; everything else is answered with a 302 to the decision's location.
func Middleware(g *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target := r.URL.RequestURI()
			d := g.Navigate(r.Context(), target)
			if d.Outcome == Allow && d.Path == target {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, d.Location(), http.StatusFound)
		})
	}
}
