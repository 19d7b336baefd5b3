package coro

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

var (
	// ErrThreadRequired is returned when a coroutine is created without a
	// thread to own it.
	ErrThreadRequired = errors.New("coro: thread required")
	// ErrNameRequired is returned by Thread.Start for an empty worker name.
	ErrNameRequired = errors.New("coro: worker name required")
	// ErrCPURequired is returned by Thread.Start for a negative cpu.
	ErrCPURequired = errors.New("coro: worker cpu required")
	// ErrThreadStarted is returned by a second Thread.Start.
	ErrThreadStarted = errors.New("coro: thread already started")
)

// Thread is a dedicated worker owning a ready list of runnable coroutines.
// Coroutines bound to one thread execute strictly serialized, switching
// only at explicit yields; the worker goroutine itself is locked to an OS
// thread, named, and pinned to a cpu. Multiple threads may coexist;
// coroutines never migrate between them.
type Thread struct {
	name string
	cpu  int

	readyList coList
	listLock  sync.Mutex

	waitq    threadParker
	signaled atomic.Int64
	stopping atomic.Bool
	started  atomic.Bool

	workerCtx execContext
	current   *Coroutine

	wg  sync.WaitGroup
	log *logiface.Logger[logiface.Event]
}

// NewThread returns an idle thread; Start launches its worker.
func NewThread(opts ...ThreadOption) *Thread {
	t := &Thread{
		waitq:     newThreadParker(),
		workerCtx: newExecContext(),
	}
	t.readyList.init()
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start launches the worker under the given thread name, bound to the
// given cpu. Both are required. A setup failure is returned with the
// thread rolled back to its idle state.
func (t *Thread) Start(name string, cpu int) error {
	if name == "" {
		return ErrNameRequired
	}
	if cpu < 0 {
		return ErrCPURequired
	}
	if !t.started.CompareAndSwap(false, true) {
		return ErrThreadStarted
	}
	t.name, t.cpu = name, cpu

	setup := make(chan error)
	t.wg.Add(1)
	go t.worker(setup)
	if err := <-setup; err != nil {
		t.wg.Wait()
		t.started.Store(false)
		return fmt.Errorf("coro: worker %q setup: %w", name, err)
	}
	t.log.Info().Str("worker", name).Int("cpu", cpu).Log("worker started")
	return nil
}

func (t *Thread) worker(setup chan<- error) {
	defer t.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := bindWorker(t.name, t.cpu); err != nil {
		setup <- err
		return
	}
	setup <- nil
	t.loop()
}

// loop parks until signaled, then drains the ready list in passes until
// the thread-level pending count is consumed, mirroring the per-coroutine
// discipline at the outer level.
func (t *Thread) loop() {
	for {
		t.waitq.park(func() bool {
			return t.stopping.Load() || t.signaled.Load() > 0
		})
		if t.stopping.Load() {
			return
		}
		for {
			co := t.nextReady(nil)
			for co != nil {
				if co.running.Load() {
					t.enter(co)
				}
				if !co.running.Load() {
					// Finished or cancelled: release any joined waiters.
					co.notifyWaiters()
				}

				nxt := t.nextReady(co)

				if co.signaled.Add(-1) == 0 {
					// No signal arrived during execution: truly idle.
					t.listLock.Lock()
					if co.link.empty() {
						panic("coro: drained coroutine not queued")
					}
					co.link.del()
					t.listLock.Unlock()
					co.Deref()
				} else {
					// Re-armed while the body ran. The burst collapses to a
					// single pending edge; the coroutine goes back to the
					// tail for one more entry.
					co.signaled.Store(1)
					t.listLock.Lock()
					if co.link.empty() {
						panic("coro: drained coroutine not queued")
					}
					co.link.del()
					t.readyList.pushTail(&co.link)
					t.listLock.Unlock()
				}

				co = nxt
			}
			if t.signaled.Add(-1) == 0 {
				break
			}
		}
	}
}

// nextReady returns the next usable coroutine after prev (or the head when
// prev is nil) with its refcount raised, skipping entries racing with a
// concurrent destroy. Drops prev's walker reference, never while holding
// the list lock.
func (t *Thread) nextReady(prev *Coroutine) *Coroutine {
	t.listLock.Lock()
	var n *listNode
	if prev != nil {
		n = t.readyList.after(&prev.link)
	} else {
		n = t.readyList.first()
	}
	for n != nil {
		co := n.owner
		if co.refIfLive() {
			t.listLock.Unlock()
			if prev != nil {
				prev.Deref()
			}
			return co
		}
		n = t.readyList.after(n)
	}
	t.listLock.Unlock()
	if prev != nil {
		prev.Deref()
	}
	return nil
}

// enter context switches into the coroutine and back, returning when the
// body yields or finishes.
func (t *Thread) enter(co *Coroutine) {
	co.checkMagic()
	co.stack.check()
	t.trace(co, "enter")
	t.current = co
	co.ctx.restore(resumeRun)
	t.workerCtx.wait(nil)
	t.current = nil
}

// Stop flags the worker, joins it, then splices out the ready list and
// drops the list's reference per entry. Running coroutines are not
// forcibly terminated: the worker finishes its current pass and exits
// between passes, and user-held references keep their coroutines alive but
// permanently un-runnable.
func (t *Thread) Stop() {
	t.stopping.Store(true)
	t.waitq.ready()
	t.wg.Wait()

	var orphans []*Coroutine
	t.listLock.Lock()
	for !t.readyList.empty() {
		n := t.readyList.first()
		n.del()
		orphans = append(orphans, n.owner)
	}
	t.listLock.Unlock()
	for _, co := range orphans {
		co.Deref()
	}
	t.log.Info().Str("worker", t.name).Int("orphans", len(orphans)).Log("worker stopped")
}

// trace emits an advisory coroutine lifecycle event.
func (t *Thread) trace(co *Coroutine, what string) {
	t.log.Trace().Str("worker", t.name).Str("co", fmt.Sprintf("%p", co)).Log(what)
}
