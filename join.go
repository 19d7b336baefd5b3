package coro

// Wait cooperatively joins another coroutine on the same thread, yielding
// until it stops running, and returns its result. Returns immediately when
// other has already finished. Must only be called from inside the body.
func (self *Coroutine) Wait(other *Coroutine) any {
	self.checkMagic()
	other.checkMagic()
	if other.thread != self.thread {
		panic("coro: wait across threads")
	}
	if self.thread.current != self {
		panic("coro: wait outside the owning coroutine")
	}
	registered := false
	for other.running.Load() {
		if !registered {
			other.addWaiter(self)
			registered = true
		}
		self.Yield()
	}
	return other.ret
}

// WaitAny yields until one of the given coroutines stops running and
// returns the index and result of the lowest-indexed target found stopped
// when it checks; the order in which targets finished is not tracked.
// All targets must share the caller's
// thread. Registrations on targets that keep running are released when
// those targets finish or are destroyed.
func (self *Coroutine) WaitAny(others ...*Coroutine) (int, any) {
	self.checkMagic()
	if len(others) == 0 {
		panic("coro: wait on nothing")
	}
	for _, o := range others {
		o.checkMagic()
		if o.thread != self.thread {
			panic("coro: wait across threads")
		}
	}
	if self.thread.current != self {
		panic("coro: wait outside the owning coroutine")
	}
	registered := false
	for {
		for i, o := range others {
			if !o.running.Load() {
				return i, o.ret
			}
		}
		if !registered {
			for _, o := range others {
				o.addWaiter(self)
			}
			registered = true
		}
		self.Yield()
	}
}
