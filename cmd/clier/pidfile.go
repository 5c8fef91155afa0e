package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// pidFileInfo is the daemon's own PID plus the socket path it listens on,
// as recorded in daemon.pid. Client commands do not read this file; they
// derive the socket path from the project root.
type pidFileInfo struct {
	PID        int
	SocketPath string
}

// writePIDFile records the daemon's PID and socket path, one per line.
func writePIDFile(path string, info pidFileInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = fmt.Fprintf(f, "%d\n%s\n", info.PID, info.SocketPath)
	return err
}

// readPIDFile parses a PID file written by writePIDFile.
func readPIDFile(path string) (pidFileInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pidFileInfo{}, err
	}
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 2 {
		return pidFileInfo{}, fmt.Errorf("clier: malformed pid file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return pidFileInfo{}, fmt.Errorf("clier: malformed pid in %s: %w", path, err)
	}
	return pidFileInfo{PID: pid, SocketPath: strings.TrimSpace(lines[1])}, nil
}

// removePIDFile deletes the pid file, ignoring a not-exist error.
func removePIDFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAliveExternal reports whether a process with pid still exists,
// using a zero signal the way the supervisor's liveness check does.
func processAliveExternal(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscallSig0) == nil
}
