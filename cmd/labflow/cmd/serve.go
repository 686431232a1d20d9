package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/labflow/guard"
)

var (
	serveAddr     string
	serveUpstream string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local gateway that guards page navigations",
	Long: `Start an HTTP gateway that applies the navigation guard to every page
request using the persisted session. Allowed requests are proxied to
--upstream, or answered with a placeholder page when no upstream is set;
everything else is redirected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			addr := a.cfg.Gateway.Addr
			if serveAddr != "" {
				addr = serveAddr
			}

			pages, err := pageHandler(serveUpstream)
			if err != nil {
				return err
			}
			r := newGatewayRouter(newGuard(a, nil), pages, a.client.BaseURL())

			server := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			done := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("gateway failed: %w", err)
					return
				}
				done <- nil
			}()

			printBanner(cmd.OutOrStdout())
			a.logger.Info().Str("addr", addr).Str("api", a.client.BaseURL()).Msg("gateway listening")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				a.logger.Info().Str("signal", sig.String()).Msg("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("gateway shutdown failed: %w", err)
				}
				return nil
			case err := <-done:
				return err
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides gateway.addr)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "URL of the web client to proxy allowed pages to")
}

func newGatewayRouter(g *guard.Guard, pages http.Handler, apiBase string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(gatewayHeaders(apiBase))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(guard.Middleware(g))
		r.Handle("/*", pages)
	})
	return r
}

func pageHandler(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprintf(w, "labflow: %s\n", r.URL.Path)
		}), nil
	}
	u, err := url.Parse(upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid --upstream %q", upstream)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}
