//go:build !windows

package process

import "syscall"

// signalGroup sends signal to the process group led by pid, matching how
// the child was started (Setpgid) so shell-wrapped children receive it too.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
