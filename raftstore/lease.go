package raftstore

import "time"

// LeaseState is spec.md §4.1's three lease states: Valid permits local
// reads, Suspect forbids them while a transfer is in flight, Expired/None
// means no lease at all.
type LeaseState int

const (
	LeaseStateExpired LeaseState = iota
	LeaseStateSuspect
	LeaseStateValid
)

// Lease tracks a leader's permission window to answer ReadLocal requests
// without confirming quorum, per spec.md §4.1. bound is
// send_ts + max_lease, where send_ts is the latest propose time passed to
// Renew (an earlier send_ts never pulls bound back) or the time passed to
// Suspect.
type Lease struct {
	state    LeaseState
	bound    time.Time
	maxLease time.Duration

	// now is swappable in tests so lease math doesn't depend on the wall
	// clock; defaults to a monotonic clock source (spec.md §9).
	now func() time.Time
}

func NewLease(maxLease time.Duration) *Lease {
	return &Lease{state: LeaseStateExpired, maxLease: maxLease, now: time.Now}
}

// Renew extends the lease from sendTs, the instant a proposal was queued,
// matching spec.md's "bound = send_ts + max_lease".
func (l *Lease) Renew(sendTs time.Time) {
	bound := sendTs.Add(l.maxLease)
	if bound.After(l.bound) || l.state != LeaseStateValid {
		l.bound = bound
	}
	l.state = LeaseStateValid
}

// Suspect transitions the lease to Suspect when a leader transfer begins
// (on sending MsgTimeoutNow): local reads are forbidden from this point,
// but bound keeps tracking an upper estimate so a failed transfer can
// still recover a valid lease once it is renewed again.
func (l *Lease) Suspect(sendTs time.Time) {
	l.bound = sendTs.Add(l.maxLease)
	l.state = LeaseStateSuspect
}

// Expire is called on becoming a follower: no lease survives a stepdown.
func (l *Lease) Expire() {
	l.state = LeaseStateExpired
}

// Check returns the lease's current state as of now, downgrading an
// outlived Valid/Suspect lease to Expired without requiring a separate
// tick.
func (l *Lease) Check() LeaseState {
	if l.state == LeaseStateExpired {
		return LeaseStateExpired
	}
	if !l.now().Before(l.bound) {
		return LeaseStateExpired
	}
	return l.state
}
