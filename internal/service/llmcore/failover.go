package llmcore

import (
	"sync"
	"time"
)

// FailoverState is the process-wide failover flag described in §4.5's
// Failover section: one instance is constructed in main and shared by
// pointer across every provider composite, so a primary-endpoint outage
// observed by the analysis path also reroutes the main conversational
// path. It must never be duplicated per provider instance.
type FailoverState struct {
	mu            sync.Mutex
	active        bool
	timer         *time.Timer
	recoveryDelay time.Duration
}

// NewFailoverState builds a FailoverState whose recovery timer waits
// recoveryDelay before calling testRecovery.
func NewFailoverState(recoveryDelay time.Duration) *FailoverState {
	return &FailoverState{recoveryDelay: recoveryDelay}
}

// Active reports whether requests should currently route through the
// emergency OpenAI-compatible provider.
func (f *FailoverState) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Activate sets the flag and (re)arms the recovery timer. Calling it while
// already active re-arms the timer rather than stacking a second one, so a
// string of failures during the recovery window keeps pushing recovery out
// instead of flipping back early.
func (f *FailoverState) Activate(testRecovery func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.recoveryDelay, testRecovery)
}

// Deactivate flips the flag off. Provider arms the recovery timer with a
// callback that calls it once recoveryDelay elapses, without probing the
// primary endpoint first.
func (f *FailoverState) Deactivate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
}
