package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is a priority queue of actions keyed by due time. The tick
// driver calls RunDue once per tick with the current simNow; entries due at
// or before that instant run in due-time order (FIFO among equal times).
//
// Schedule may be called from any goroutine, including from inside a
// running action.
type Scheduler struct {
	mu   sync.Mutex
	q    entryHeap
	next uint64
}

type entry struct {
	at  time.Time
	seq uint64
	fn  func(now time.Time)
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any          { old := *h; n := len(old); e := old[n-1]; *h = old[:n-1]; return e }
func (h entryHeap) Peek() entry        { return h[0] }

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule enqueues fn to run at the first RunDue whose now is >= at.
//
// Precondition: fn must be non-nil.
func (s *Scheduler) Schedule(at time.Time, fn func(now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	heap.Push(&s.q, entry{at: at, seq: s.next, fn: fn})
}

// ScheduleAfter enqueues fn to run delay after now.
func (s *Scheduler) ScheduleAfter(now time.Time, delay time.Duration, fn func(now time.Time)) {
	s.Schedule(now.Add(delay), fn)
}

// RunDue executes every entry due at or before now, in due-time order.
// Panics inside an action are contained by the caller's tick wrapper, not
// here; RunDue itself only pops and invokes.
//
// Postcondition: no remaining entry has at <= now, unless an action
// scheduled a new already-due entry, which runs on the next call.
func (s *Scheduler) RunDue(now time.Time) int {
	var due []entry
	s.mu.Lock()
	for s.q.Len() > 0 && !s.q.Peek().at.After(now) {
		due = append(due, heap.Pop(&s.q).(entry))
	}
	s.mu.Unlock()

	for _, e := range due {
		e.fn(now)
	}
	return len(due)
}

// Pending returns the number of queued entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}
