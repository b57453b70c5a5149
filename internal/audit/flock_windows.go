//go:build windows

package audit

import "os"

// Windows has no flock; concurrent goldgate processes on one ledger are
// serialized only by the Ledger mutex within a process.
func lockLedger(*os.File) error   { return nil }
func unlockLedger(*os.File) error { return nil }
