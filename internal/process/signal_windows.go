//go:build windows

package process

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// signalGroup terminates the process pid itself; processes it started are
// not terminated. Windows has no direct signal equivalent; SIGTERM and
// SIGKILL both map to termination.
func signalGroup(pid int, _ syscall.Signal) error {
	handle, err := openProcess(processTerminate, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer closeHandle(handle)
	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }

func processAlive(pid int) bool {
	handle, err := openProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer closeHandle(handle)
	return true
}

func openProcess(access uint32, inherit bool, pid uint32) (syscall.Handle, error) {
	inh := 0
	if inherit {
		inh = 1
	}
	ret, _, err := procOpenProcess.Call(uintptr(access), uintptr(inh), uintptr(pid))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}
