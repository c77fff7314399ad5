package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "edgeworker",
		Short:   "Caching front proxy with a service-worker lifecycle",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newCacheCmd(),
		newEventsCmd(),
		newMessageCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
