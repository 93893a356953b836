package raftstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseStartsExpired(t *testing.T) {
	l := NewLease(9 * time.Second)
	require.Equal(t, LeaseStateExpired, l.Check())
}

func TestLeaseRenewIsValidUntilBound(t *testing.T) {
	base := time.Unix(1000, 0)
	l := NewLease(9 * time.Second)
	l.now = func() time.Time { return base }

	l.Renew(base)
	require.Equal(t, LeaseStateValid, l.Check())

	l.now = func() time.Time { return base.Add(8 * time.Second) }
	require.Equal(t, LeaseStateValid, l.Check())

	l.now = func() time.Time { return base.Add(10 * time.Second) }
	require.Equal(t, LeaseStateExpired, l.Check())
}

func TestLeaseRenewNeverShrinksBound(t *testing.T) {
	base := time.Unix(1000, 0)
	l := NewLease(9 * time.Second)
	l.now = func() time.Time { return base }

	l.Renew(base)
	earlierSend := base.Add(-5 * time.Second)
	l.Renew(earlierSend)

	// A later renew with an earlier send_ts must not pull the bound back in.
	l.now = func() time.Time { return base.Add(8 * time.Second) }
	require.Equal(t, LeaseStateValid, l.Check())
}

func TestLeaseSuspectForbidsLocalReadsUntilExpired(t *testing.T) {
	base := time.Unix(1000, 0)
	l := NewLease(9 * time.Second)
	l.now = func() time.Time { return base }
	l.Renew(base)

	l.Suspect(base)
	require.Equal(t, LeaseStateSuspect, l.Check())

	l.now = func() time.Time { return base.Add(10 * time.Second) }
	require.Equal(t, LeaseStateExpired, l.Check())
}

func TestLeaseExpireForcesExpiredRegardlessOfBound(t *testing.T) {
	base := time.Unix(1000, 0)
	l := NewLease(9 * time.Second)
	l.now = func() time.Time { return base }
	l.Renew(base)
	require.Equal(t, LeaseStateValid, l.Check())

	l.Expire()
	require.Equal(t, LeaseStateExpired, l.Check())
}
