package main

import "github.com/jmcleod/labflow/cmd/labflow/cmd"

func main() {
	cmd.Execute()
}
