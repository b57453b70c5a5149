package model

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// Short returns the first 12 characters for display.
func (h HashValue) Short() string {
	s := string(h)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// LockState represents the current state of a lock.
type LockState string

const (
	LockStateHeld    LockState = "held"
	LockStateExpired LockState = "expired"
	LockStateFree    LockState = "free"
)
