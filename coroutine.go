// A cooperative coroutine scheduler pinned to a dedicated worker thread.
//
// Coroutines are reference-counted objects driven to completion by a single
// worker, switching only at explicit yields. Any goroutine may post
// edge-triggered wake-ups via Signal; the count-and-enqueue discipline
// guarantees none are lost while bursts posted during one execution window
// collapse into a single re-arm.

package coro

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// coroutineMagic is the object sentinel, validated on every entry into
// scheduler code and poisoned on destroy.
const coroutineMagic uint64 = 0x6ba2c94de07153f8

// errKilled unwinds a coroutine body whose object was destroyed while
// parked. It never escapes the trampoline.
var errKilled = errors.New("coro: coroutine killed")

// Func is a coroutine body. It receives the coroutine itself and the
// argument passed to Start; its return value becomes the result observed
// through Wait and Result.
type Func func(co *Coroutine, arg any) any

// Coroutine is a unit of cooperatively scheduled execution owned by a
// Thread. It is created with one reference; the ready list takes another
// for as long as the coroutine is queued. The last Deref destroys it.
type Coroutine struct {
	magic  uint64
	thread *Thread
	stack  *stack
	ctx    execContext

	fun Func
	arg any
	ret any

	running  atomic.Bool
	started  atomic.Bool
	refCount atomic.Int64
	signaled atomic.Int64

	link listNode

	kill     chan struct{}
	killOnce sync.Once

	// waiters are coroutines joined on this one. Registration and
	// notification are serialized by the scheduler except on the destroy
	// path, which may run on any goroutine.
	waiterMu sync.Mutex
	waiters  []*Coroutine
}

// New allocates a coroutine bound to the given thread for its whole life.
// The caller owns the returned reference.
func New(t *Thread) (*Coroutine, error) {
	if t == nil {
		return nil, ErrThreadRequired
	}
	co := &Coroutine{
		magic:  coroutineMagic,
		thread: t,
		ctx:    newExecContext(),
		kill:   make(chan struct{}),
	}
	co.stack = newStack(co)
	co.refCount.Store(1)
	co.link.init()
	co.link.owner = co
	t.trace(co, "create")
	return co, nil
}

func (self *Coroutine) checkMagic() {
	if self.magic != coroutineMagic {
		panic(fmt.Sprintf("coro: bad coroutine magic %#x", self.magic))
	}
}

// Ref takes an additional reference.
func (self *Coroutine) Ref() {
	self.checkMagic()
	self.refCount.Add(1)
}

// refIfLive raises the refcount only if it is still nonzero. The ready
// list walker uses this to skip entries racing with a concurrent destroy.
func (self *Coroutine) refIfLive() bool {
	for {
		n := self.refCount.Load()
		if n == 0 {
			return false
		}
		if self.refCount.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Deref drops one reference, destroying the coroutine on the last one.
func (self *Coroutine) Deref() {
	n := self.refCount.Add(-1)
	if n < 0 {
		panic("coro: coroutine refcount underflow")
	}
	if n == 0 {
		self.destroy()
	}
}

func (self *Coroutine) destroy() {
	t := self.thread
	self.checkMagic()
	self.stack.check()
	if n := self.refCount.Load(); n != 0 {
		panic(fmt.Sprintf("coro: destroying coroutine with %d refs", n))
	}
	t.trace(self, "destroy")

	t.listLock.Lock()
	if !self.link.empty() {
		self.link.del()
	}
	t.listLock.Unlock()

	self.notifyWaiters()
	// Release the body's goroutine if it is parked in the trampoline or a
	// yield; it unwinds without ever resuming.
	self.killOnce.Do(func() { close(self.kill) })
	self.magic = 0
}

// Start arms the coroutine: records the body and its argument, marks it
// running, parks its goroutine on the context and posts the first signal.
// Must be called exactly once per coroutine.
func (self *Coroutine) Start(fun Func, arg any) {
	self.checkMagic()
	if fun == nil {
		panic("coro: nil coroutine function")
	}
	if !self.started.CompareAndSwap(false, true) {
		panic("coro: coroutine started twice")
	}
	self.fun = fun
	self.arg = arg
	self.running.Store(true)
	go self.trampoline()
	self.Signal()
}

// Signal posts an edge-triggered wake-up: raise the pending count, enqueue
// on the owning thread's ready list unless already queued (the list takes a
// reference), then wake the worker. Safe from any goroutine. Back-to-back
// signals with no intervening execution cause exactly one enqueue.
func (self *Coroutine) Signal() {
	self.checkMagic()
	t := self.thread

	self.signaled.Add(1)
	t.listLock.Lock()
	if self.link.empty() {
		self.Ref()
		t.readyList.pushTail(&self.link)
	}
	t.listLock.Unlock()

	t.signaled.Add(1)
	t.waitq.ready()
}

// Cancel requests termination. The running flag is final once cleared: the
// scheduler will dequeue the coroutine without entering the body again, and
// an in-flight execution proceeds only to its next yield.
func (self *Coroutine) Cancel() {
	self.checkMagic()
	self.running.Store(false)
	self.Signal()
}

// Running reports whether the body has neither returned nor been cancelled.
// Once false it stays false, and the result is visible.
func (self *Coroutine) Running() bool {
	return self.running.Load()
}

// Result returns the body's return value. Meaningful once Running reports
// false.
func (self *Coroutine) Result() any {
	return self.ret
}

// Scratch exposes the usable region of the coroutine's guarded arena as
// per-coroutine working memory. Only the coroutine body may use it.
func (self *Coroutine) Scratch() []byte {
	return self.stack.scratch()
}

// Yield suspends the calling body until the next signal. Must only be
// called from inside the body.
func (self *Coroutine) Yield() {
	self.checkMagic()
	if self.thread.current != self {
		panic("coro: yield outside the owning coroutine")
	}
	self.thread.workerCtx.restore(resumeRun)
	if self.ctx.wait(self.kill) == resumeKill {
		panic(errKilled)
	}
}

// addWaiter registers w to be signaled when this coroutine stops running,
// holding a reference on w until then.
func (self *Coroutine) addWaiter(w *Coroutine) {
	w.Ref()
	self.waiterMu.Lock()
	self.waiters = append(self.waiters, w)
	self.waiterMu.Unlock()
	// The body may have finished between the caller's running check and the
	// registration; the completion edge must not be missed.
	if !self.running.Load() {
		self.notifyWaiters()
	}
}

// notifyWaiters signals every registered waiter and drops the registration
// references.
func (self *Coroutine) notifyWaiters() {
	self.waiterMu.Lock()
	ws := self.waiters
	self.waiters = nil
	self.waiterMu.Unlock()
	for _, w := range ws {
		w.Signal()
		w.Deref()
	}
}

// trampoline is the first entry point of the coroutine's goroutine. It
// parks until the scheduler's first restore, recovers the coroutine
// identity from the arena, runs the body, and hands control back to the
// worker for the last time.
func (self *Coroutine) trampoline() {
	if self.ctx.wait(self.kill) == resumeKill {
		return
	}

	co := self.stack.owner()
	if co != self {
		panic("coro: arena back-pointer corrupted")
	}
	co.checkMagic()
	co.stack.check()

	if co.call() {
		// Destroyed while parked in a yield; the worker is not waiting.
		return
	}

	co.checkMagic()
	co.stack.check()

	// The atomic store orders the result before the flag: an observer of
	// !Running sees every side effect of the body.
	co.running.Store(false)
	co.notifyWaiters()
	co.thread.workerCtx.restore(resumeRun)
}

// call runs the body, translating a kill delivered through Yield into a
// plain return. Any other panic propagates.
func (self *Coroutine) call() (killed bool) {
	defer func() {
		if r := recover(); r != nil {
			if r == errKilled {
				killed = true
				return
			}
			panic(r)
		}
	}()
	self.ret = self.fun(self, self.arg)
	return false
}
