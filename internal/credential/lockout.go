package credential

import (
	"sync"
	"time"
)

const (
	lockoutThreshold = 5
	lockoutInitial   = 30 * time.Second
	lockoutMax       = 5 * time.Minute
)

// lockout tracks PIN attempt failures and temporary blocks. Five
// consecutive misses block for 30 seconds; each subsequent block
// doubles the window up to five minutes. A correct PIN resets
// everything.
type lockout struct {
	mu           sync.Mutex
	now          func() time.Time
	failures     int
	window       time.Duration
	blockedUntil time.Time
}

func newLockout(now func() time.Time) *lockout {
	return &lockout{now: now, window: lockoutInitial}
}

// Allow reports whether an attempt may proceed and, when blocked, how
// long until the next one.
func (l *lockout) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := l.blockedUntil.Sub(l.now()); remaining > 0 {
		return false, remaining
	}
	return true, 0
}

// Failure records a missed attempt; reaching the threshold places a
// block and arms the next, doubled window.
func (l *lockout) Failure() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures < lockoutThreshold {
		return false, 0
	}
	d := l.window
	l.blockedUntil = l.now().Add(d)
	l.failures = 0
	l.window = min(l.window*2, lockoutMax)
	return true, d
}

// Success resets counters and any pending block escalation.
func (l *lockout) Success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.window = lockoutInitial
	l.blockedUntil = time.Time{}
}
