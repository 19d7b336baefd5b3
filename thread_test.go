package coro

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadStartValidation(t *testing.T) {
	th := NewThread()
	require.ErrorIs(t, th.Start("", 0), ErrNameRequired)
	require.ErrorIs(t, th.Start("co-test", -1), ErrCPURequired)

	require.NoError(t, th.Start("co-test", 0))
	require.ErrorIs(t, th.Start("co-test", 0), ErrThreadStarted)
	th.Stop()
}

func TestThreadStopIdle(t *testing.T) {
	th := NewThread()
	require.NoError(t, th.Start("co-test", 0))

	done := make(chan struct{})
	go func() {
		th.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stop with an empty ready list did not complete promptly")
	}
}

// Stop on a thread whose worker never ran splices the queued entries and
// drops the list's reference per entry; user references keep the
// coroutines alive but permanently un-runnable.
func TestThreadStopSplicesPending(t *testing.T) {
	th := NewThread()

	cos := make([]*Coroutine, 5)
	for i := range cos {
		co, err := New(th)
		require.NoError(t, err)
		co.Start(func(co *Coroutine, _ any) any {
			for {
				co.Yield()
			}
		}, nil)
		require.EqualValues(t, 2, co.refCount.Load())
		cos[i] = co
	}

	th.Stop()

	for _, co := range cos {
		require.EqualValues(t, 1, co.refCount.Load())
		require.True(t, co.Running())
		require.NotPanics(t, co.checkMagic)
		require.NotPanics(t, co.stack.check)
		co.Deref()
		require.Zero(t, co.magic)
	}
}

func TestThreadStopWithParkedCoroutines(t *testing.T) {
	th := NewThread()
	require.NoError(t, th.Start("co-test", 0))

	var entries atomic.Int32
	cos := make([]*Coroutine, 5)
	for i := range cos {
		co, err := New(th)
		require.NoError(t, err)
		co.Start(func(co *Coroutine, _ any) any {
			for {
				entries.Add(1)
				co.Yield()
			}
		}, nil)
		cos[i] = co
	}

	spinUntil(t, func() bool { return entries.Load() >= 5 }, "bodies not entered")
	th.Stop()

	for _, co := range cos {
		require.True(t, co.Running())
		require.NotPanics(t, co.checkMagic)
		co.Deref()
	}
}

func TestThreadPendingAfterSignalStorm(t *testing.T) {
	th := newTestThread(t)
	co, err := New(th)
	require.NoError(t, err)

	var entries atomic.Int32
	co.Start(func(co *Coroutine, _ any) any {
		for {
			entries.Add(1)
			co.Yield()
		}
	}, nil)

	// idempotent enqueue: however many signals land, there is at most one
	// list entry, so at most one list reference
	for i := 0; i < 100; i++ {
		co.Signal()
	}
	require.LessOrEqual(t, co.refCount.Load(), int64(3))

	spinUntil(t, func() bool { return co.refCount.Load() == 1 }, "storm did not drain")
	co.Cancel()
	spinUntil(t, func() bool { return co.refCount.Load() == 1 }, "cancel did not drain")
	co.Deref()
}
