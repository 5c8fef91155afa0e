package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and process status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			if name == "" {
				var out map[string]any
				if err := c.Call(context.Background(), "daemon.status", nil, &out); err != nil {
					return err
				}
				printJSON(out)
				return nil
			}
			var out map[string]any
			if err := c.Call(context.Background(), "process.status", map[string]string{"name": name}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name; omitted shows every process")
	return cmd
}

func newStartCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a configured process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier start: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var out map[string]any
			if err := c.Call(context.Background(), "process.start", map[string]string{"name": name}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a configured process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier stop: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				// Stopping when the daemon is already gone is treated as
				// success: there is nothing left to stop.
				fmt.Fprintln(os.Stderr, err)
				return nil
			}
			defer c.Close()

			var out map[string]any
			if err := c.Call(context.Background(), "process.stop", map[string]string{"name": name}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a configured process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier restart: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var out map[string]any
			if err := c.Call(context.Background(), "process.restart", map[string]string{"name": name}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	return cmd
}

func newInputCmd() *cobra.Command {
	var name, data string
	var appendNewline bool
	cmd := &cobra.Command{
		Use:   "input",
		Short: "Write data to a running process's stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier input: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var out map[string]any
			params := map[string]any{"name": name, "data": data, "appendNewline": appendNewline}
			if err := c.Call(context.Background(), "process.input", params, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&data, "data", "", "bytes to write to stdin")
	cmd.Flags().BoolVar(&appendNewline, "newline", true, "append a trailing newline")
	return cmd
}
