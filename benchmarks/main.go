// Comparative driver for the signal round-trip benchmarks: a coroutine
// resumed by Signal versus a goroutine resumed through a channel pair.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/corolib/coro"
)

type coroEcho struct {
	th      *coro.Thread
	co      *coro.Coroutine
	entries atomic.Int64
}

func newCoroEcho() (*coroEcho, error) {
	e := &coroEcho{th: coro.NewThread()}
	if err := e.th.Start("co-bench", 0); err != nil {
		return nil, err
	}
	co, err := coro.New(e.th)
	if err != nil {
		e.th.Stop()
		return nil, err
	}
	e.co = co
	co.Start(func(co *coro.Coroutine, _ any) any {
		for {
			e.entries.Add(1)
			co.Yield()
		}
	}, nil)
	e.wait(1)
	return e, nil
}

func (e *coroEcho) wait(n int64) {
	for e.entries.Load() < n {
		runtime.Gosched()
	}
}

// roundTrip posts one signal and waits for the matching entry.
func (e *coroEcho) roundTrip() {
	n := e.entries.Load()
	e.co.Signal()
	e.wait(n + 1)
}

func (e *coroEcho) close() {
	e.co.Cancel()
	e.co.Deref()
	e.th.Stop()
}

type chanEcho struct {
	req, resp chan struct{}
}

func newChanEcho() *chanEcho {
	e := &chanEcho{req: make(chan struct{}), resp: make(chan struct{})}
	go func() {
		for range e.req {
			e.resp <- struct{}{}
		}
	}()
	return e
}

func (e *chanEcho) roundTrip() {
	e.req <- struct{}{}
	<-e.resp
}

func (e *chanEcho) close() {
	close(e.req)
}

func main() {
	const rounds = 100000

	ce, err := newCoroEcho()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	start := time.Now()
	for i := 0; i < rounds; i++ {
		ce.roundTrip()
	}
	el := time.Since(start)
	ce.close()
	fmt.Printf("coroutine: %d round trips in %v (%v/op)\n", rounds, el, el/time.Duration(rounds))

	ch := newChanEcho()
	start = time.Now()
	for i := 0; i < rounds; i++ {
		ch.roundTrip()
	}
	el = time.Since(start)
	ch.close()
	fmt.Printf("channel:   %d round trips in %v (%v/op)\n", rounds, el, el/time.Duration(rounds))
}
