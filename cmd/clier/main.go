// Command clier runs the process-orchestration daemon, or acts as its
// control-protocol client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlagValue string

func main() {
	root := &cobra.Command{
		Use:   "clier",
		Short: "Supervise, watch, and orchestrate a project's processes.",
	}
	root.PersistentFlags().StringVar(&configFlagValue, "config", "", "path to the pipeline config file (overrides CLIER_CONFIG_PATH)")

	root.AddCommand(
		newDaemonCmd(),
		newStatusCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newInputCmd(),
		newLogsCmd(),
		newEventsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
