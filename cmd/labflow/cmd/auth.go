package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/labflow/guard"
	"github.com/jmcleod/labflow/session"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and persist the session",
	Long: `Sign in with a username and password. The password is read from
--password or, when omitted, from the first line of standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			var err error
			password, err = readLine(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
		}

		return withApp(cmd, func(a *app) error {
			if err := a.sessions.Login(cmd.Context(), args[0], password); err != nil {
				if a.sessions.State() == session.TokenOnly {
					return fmt.Errorf("signed in, but the profile could not be loaded: %w", err)
				}
				return fmt.Errorf("login failed: %w", err)
			}
			printIdentity(cmd.OutOrStdout(), a.sessions)
			fmt.Fprintf(cmd.OutOrStdout(), "landing: %s\n", a.sessions.SuggestLandingPath())
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the persisted session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			if err := a.sessions.LogoutRemote(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			// Any identity failure invalidates the stored session, as it
			// does for a guarded navigation.
			if err := a.sessions.EnsureIdentity(cmd.Context()); err != nil {
				if cmd.Context().Err() != nil {
					return err
				}
				a.logger.Debug().Err(err).Msg("identity check failed, clearing session")
				if lerr := a.sessions.Logout(); lerr != nil {
					return lerr
				}
				fmt.Fprintln(cmd.OutOrStdout(), guard.SessionExpiredMessage)
			}
			printIdentity(cmd.OutOrStdout(), a.sessions)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (read from stdin when omitted)")
}

func printIdentity(w io.Writer, s *session.Manager) {
	fmt.Fprintf(w, "state: %s\n", s.State())
	if u := s.User(); u != nil {
		fmt.Fprintf(w, "user:  %s (%s)\n", s.DisplayName(), u.Username)
		fmt.Fprintf(w, "roles: %s\n", strings.Join(u.Roles, ", "))
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}
