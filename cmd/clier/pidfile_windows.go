//go:build windows

package main

import "syscall"

// Windows process.Signal only recognizes os.Kill; a zero signal always
// errors, so processAliveExternal reports false for every PID on Windows.
var syscallSig0 = syscall.Signal(0)
