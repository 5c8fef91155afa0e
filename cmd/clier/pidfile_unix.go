//go:build !windows

package main

import "syscall"

var syscallSig0 = syscall.Signal(0)
