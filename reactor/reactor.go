// Package reactor implements the single-threaded cooperative scheduler
// that drives all periodic background work in the client: outlier
// detection ticks and service-context reaping.
//
// A tick drains ready timed tasks, then up to maxImmediatePerTick
// immediate tasks, then sleeps until the next timer or the next
// submission. Tasks are one-shot closures; periodic work re-submits
// itself as a fresh timer at the end of its own body, which guarantees a
// self-rescheduling task never has two concurrent invocations even if its
// body runs long.
package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/meshgov/polaris-client/logging"
)

// maxImmediatePerTick bounds how many immediate tasks run before the loop
// re-checks the timer heap, so a burst of submissions can't starve timers.
const maxImmediatePerTick = 64

// Task is a one-shot unit of work. Periodicity is expressed by a task
// re-arming itself via AddTimer on the Reactor it closes over, not by
// the reactor itself.
type Task func()

type timerEntry struct {
	deadline time.Time
	task     Task
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Reactor is a single dedicated scheduling thread consuming an
// immediate-task FIFO and a min-heap of timed tasks. All Submit/AddTimer
// calls are safe from any goroutine; task bodies run only on the reactor
// goroutine.
type Reactor struct {
	mu        sync.Mutex
	immediate []Task
	timers    timerHeap
	wake      chan struct{}
	stop      chan struct{}
	stopped   bool
	wg        sync.WaitGroup
}

// New creates and starts a Reactor on its own goroutine.
func New() *Reactor {
	r := &Reactor{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	heap.Init(&r.timers)
	r.wg.Add(1)
	go r.loop()
	return r
}

// Submit enqueues an immediate one-shot task. Thread-safe.
func (r *Reactor) Submit(t Task) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.immediate = append(r.immediate, t)
	r.mu.Unlock()
	r.notify()
}

// AddTimer schedules t to run no earlier than delay from now. Thread-safe.
func (r *Reactor) AddTimer(t Task, delay time.Duration) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	heap.Push(&r.timers, &timerEntry{deadline: time.Now().Add(delay), task: t})
	r.mu.Unlock()
	r.notify()
}

func (r *Reactor) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop drains pending timers without firing them and stops the loop.
// In-flight task bodies complete; nothing new is scheduled afterwards.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stop)
	r.wg.Wait()
}

func (r *Reactor) loop() {
	defer r.wg.Done()
	for {
		now := time.Now()
		r.mu.Lock()
		for r.timers.Len() > 0 && !r.timers[0].deadline.After(now) {
			e := heap.Pop(&r.timers).(*timerEntry)
			r.mu.Unlock()
			r.runTask(e.task)
			r.mu.Lock()
		}
		var nextWait time.Duration
		if r.timers.Len() > 0 {
			nextWait = time.Until(r.timers[0].deadline)
			if nextWait < 0 {
				nextWait = 0
			}
		} else {
			nextWait = time.Hour
		}
		r.mu.Unlock()

		n := 0
		for {
			r.mu.Lock()
			if len(r.immediate) == 0 || n >= maxImmediatePerTick {
				r.mu.Unlock()
				break
			}
			t := r.immediate[0]
			r.immediate = r.immediate[1:]
			r.mu.Unlock()
			r.runTask(t)
			n++
		}

		select {
		case <-r.stop:
			return
		case <-r.wake:
		case <-time.After(nextWait):
		}
	}
}

func (r *Reactor) runTask(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Named("reactor").Sugar().Errorw("reactor task panicked, dropping", "panic", rec)
		}
	}()
	t()
}
