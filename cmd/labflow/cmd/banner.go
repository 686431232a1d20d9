package cmd

import (
	"fmt"
	"io"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const banner = `
  _       _      __ _
 | | __ _| |__  / _| | _____      __
 | |/ _` + "`" + ` | '_ \| |_| |/ _ \ \ /\ / /
 | | (_| | |_) |  _| | (_) \ V  V /
 |_|\__,_|_.__/|_| |_|\___/ \_/\_/
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Lab report client - Version %s\x1b[0m\n\n", Version)
}
