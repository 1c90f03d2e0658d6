package effects

import (
	"sync"
	"time"
)

// Task is a cancellable scheduled callback.
type Task interface {
	// Stop cancels the task. Returns false if it already fired or was stopped.
	Stop() bool
}

// TaskScheduler abstracts timer creation so expiry and behavior delays can be
// driven deterministically in tests and simulations.
type TaskScheduler interface {
	AfterFunc(d time.Duration, fn func()) Task
	Now() time.Time
}

// WallClock schedules tasks on real timers.
type WallClock struct{}

func NewWallClock() *WallClock { return &WallClock{} }

func (*WallClock) AfterFunc(d time.Duration, fn func()) Task {
	return &wallTask{t: time.AfterFunc(d, fn)}
}

func (*WallClock) Now() time.Time { return time.Now() }

type wallTask struct {
	t *time.Timer
}

func (w *wallTask) Stop() bool { return w.t.Stop() }

// ManualScheduler queues tasks against a fake clock. Advance moves the clock
// forward and fires due tasks in deadline order. Used by tests and giftsim.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*manualTask
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (m *ManualScheduler) AfterFunc(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{
		sched: m,
		due:   m.now.Add(d),
		seq:   m.seq,
		fn:    fn,
	}
	m.tasks = append(m.tasks, t)
	return t
}

func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock by d and runs every task whose deadline has passed.
// Tasks fire outside the scheduler lock so callbacks may schedule or cancel.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var next *manualTask
		for _, t := range m.tasks {
			if t.stopped || t.due.After(target) {
				continue
			}
			if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		next.stopped = true
		if next.due.After(m.now) {
			m.now = next.due
		}
		m.remove(next)
		m.mu.Unlock()

		next.fn()
	}
}

// Pending reports how many tasks are still scheduled.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *ManualScheduler) remove(t *manualTask) {
	for i, x := range m.tasks {
		if x == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

func (m *ManualScheduler) stop(t *manualTask) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	m.remove(t)
	return true
}

type manualTask struct {
	sched   *ManualScheduler
	due     time.Time
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTask) Stop() bool { return t.sched.stop(t) }

var _ TaskScheduler = (*WallClock)(nil)
var _ TaskScheduler = (*ManualScheduler)(nil)
