package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/labflow/guard"
)

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Evaluate a navigation against the route table",
	Long: `Run the navigation guard for a page path, as the web client would
before rendering it, and print where the navigation ends up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			notices := guard.NotifierFunc(func(kind guard.NoticeKind, message string) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", kind, message)
			})
			d := newGuard(a, notices).Navigate(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", d.Outcome, d.Location())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
}
