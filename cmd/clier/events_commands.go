package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var pattern string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Subscribe to bus events matching a glob pattern.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pattern == "" {
				pattern = "*"
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			return c.Stream(cmd.Context(), "events.subscribe", map[string]string{"pattern": pattern}, func(event string, data json.RawMessage) {
				fmt.Printf("%s %s\n", event, string(data))
			})
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "*", "glob pattern matched against event names")
	return cmd
}
