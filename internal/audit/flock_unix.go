//go:build !windows

package audit

import (
	"os"
	"syscall"
)

// lockLedger takes an exclusive advisory lock so appends from separate
// processes (hook invocations, promote, enforce) cannot interleave.
func lockLedger(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlockLedger(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
