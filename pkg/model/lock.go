package model

import "time"

// LockMode controls what Promote does when an artifact lock is already held.
type LockMode string

const (
	LockModeFail LockMode = "fail"
	LockModeWait LockMode = "wait"
)

// LockRecord is stored at .goldgate/locks/<key>.lock
type LockRecord struct {
	ArtifactID  string    `json:"artifact_id"`
	HolderNonce string    `json:"holder_nonce"`
	PID         int       `json:"pid"`
	AcquiredAt  time.Time `json:"acquired_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Generation  int64     `json:"generation"`
	Purpose     string    `json:"purpose,omitempty"`
}

// IsExpired returns true if the lease has run out.
func (l *LockRecord) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockPolicy configures lock timing and contention behavior.
type LockPolicy struct {
	LeaseTTL     time.Duration `json:"lease_ttl"`
	Mode         LockMode      `json:"mode"`
	WaitTimeout  time.Duration `json:"wait_timeout"`
	PollInterval time.Duration `json:"poll_interval"`
}

// DefaultLockPolicy returns the policy used when none is configured.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		LeaseTTL:     10 * time.Minute,
		Mode:         LockModeFail,
		WaitTimeout:  30 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}
