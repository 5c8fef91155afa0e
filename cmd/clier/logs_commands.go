package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "logs",
		Short: "Tail, stream, or clear a process's recorded log lines.",
	}
	root.AddCommand(newLogsTailCmd(), newLogsStreamCmd(), newLogsClearCmd())
	return root
}

func newLogsTailCmd() *cobra.Command {
	var name, stream string
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recently recorded lines for a process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier logs tail: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var out []map[string]any
			params := map[string]any{"name": name, "stream": stream, "n": n}
			if err := c.Call(context.Background(), "logs.tail", params, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&stream, "stream", "", "stdout or stderr; omitted tails both")
	cmd.Flags().IntVar(&n, "n", 100, "number of lines")
	return cmd
}

func newLogsStreamCmd() *cobra.Command {
	var name, stream string
	var fromSeq uint64
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow a process's log lines as they are produced.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("clier logs stream: --name is required")
			}
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			params := map[string]any{"name": name, "stream": stream, "fromSeq": fromSeq}
			return c.Stream(cmd.Context(), "logs.stream", params, func(event string, data json.RawMessage) {
				fmt.Println(string(data))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&stream, "stream", "", "stdout or stderr; the two are not combined, and when omitted no lines are streamed")
	cmd.Flags().Uint64Var(&fromSeq, "from-seq", 0, "resume from this sequence number")
	return cmd
}

func newLogsClearCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Truncate a process's recorded log lines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var out map[string]any
			if err := c.Call(context.Background(), "logs.clear", map[string]string{"name": name}, &out); err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "process name; omitted clears every process")
	return cmd
}
