package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/somersstack/clier/pkg/client"
)

// dialDaemon connects to the running daemon's control socket, resolving
// the project root the same way the daemon itself does.
func dialDaemon() (*client.Client, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, fmt.Errorf("clier: resolve project root: %w", err)
	}
	c, err := client.Dial(client.Config{SocketPath: socketPath(root), DialTimeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("clier: daemon not reachable - start it first with 'clier daemon': %w", err)
	}
	return c, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Println(string(b))
}
