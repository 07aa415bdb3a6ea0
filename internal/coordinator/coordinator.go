// Package coordinator bridges the task store's reactive queries and the
// presentation layer. It owns the selected day, turns stored rows into live
// view state, runs mutations off the caller's goroutine, and keeps the
// single-level undo buffer for the last deletion.
package coordinator

import (
	"strings"
	"sync"
	"time"

	"dayplan/internal/storage"
)

// DayUnset marks a create call that did not pick a date; the task lands on
// the current day.
const DayUnset int64 = -1

type EventKind int

const (
	EventCreated EventKind = iota
	EventUpdated
	EventToggled
	EventDeleted
	EventRestored
)

// Event reports the completion of one asynchronous mutation. The
// presentation layer uses these to decide when to offer an undo prompt;
// the coordinator itself has no timers or dismissal logic. Err is non-nil
// when the store rejected the unit of work.
type Event struct {
	Kind EventKind
	Task storage.Task
	Err  error
}

type Coordinator struct {
	store *storage.Store

	work       chan func()
	workerDone chan struct{}
	events     chan Event

	mu          sync.Mutex
	closed      bool
	selectedDay int64
	dayGen      int
	daySub      *storage.Subscription[[]storage.Task]
	lastDeleted *storage.Task

	allSub *storage.Subscription[[]storage.Task]
	dayOut chan []storage.Task
}

func New(store *storage.Store) *Coordinator {
	c := &Coordinator{
		store:       store,
		work:        make(chan func(), 64),
		workerDone:  make(chan struct{}),
		events:      make(chan Event, 16),
		selectedDay: storage.Today(),
		allSub:      store.AllTasks(),
		dayOut:      make(chan []storage.Task, 1),
	}
	c.mu.Lock()
	c.resubscribeLocked()
	c.mu.Unlock()
	go c.worker()
	return c
}

// Close stops the mutation worker and disposes every subscription the
// coordinator owns. Pending mutations drain before Close returns.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.work)
	c.dayGen++
	daySub := c.daySub
	c.daySub = nil
	c.mu.Unlock()

	<-c.workerDone
	if daySub != nil {
		daySub.Close()
	}
	c.allSub.Close()
	close(c.events)
}

// AllTasks is the live list of every task, most recently created first.
func (c *Coordinator) AllTasks() <-chan []storage.Task {
	return c.allSub.C
}

// SelectedDayTasks is the live list for whichever day is currently
// selected. The channel survives day switches; only snapshots for the
// current day come through it.
func (c *Coordinator) SelectedDayTasks() <-chan []storage.Task {
	return c.dayOut
}

// Events reports completed mutations. See Event.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

func (c *Coordinator) SelectedDay() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedDay
}

// SelectDay switches the day feed. The previous day's subscription is
// disposed before the new one starts, and a generation check drops any
// snapshot of the old day still in flight, so no stale emission follows
// the switch.
func (c *Coordinator) SelectDay(day int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || day == c.selectedDay {
		return
	}
	c.selectedDay = day
	c.resubscribeLocked()
}

func (c *Coordinator) resubscribeLocked() {
	c.dayGen++
	if c.daySub != nil {
		c.daySub.Close()
	}
	c.daySub = c.store.TasksForDay(c.selectedDay)
	go c.forwardDay(c.daySub, c.dayGen)
}

// forwardDay copies snapshots from one day subscription onto the stable
// dayOut channel. The generation check and the send happen under the same
// lock that SelectDay takes, so a superseded forwarder can never slip a
// stale snapshot past a switch.
func (c *Coordinator) forwardDay(sub *storage.Subscription[[]storage.Task], gen int) {
	for tasks := range sub.C {
		c.mu.Lock()
		if gen != c.dayGen {
			c.mu.Unlock()
			return
		}
		select {
		case <-c.dayOut:
		default:
		}
		c.dayOut <- tasks
		c.mu.Unlock()
	}
}

// CountForDay is an on-demand live count for one day, independent of the
// selected day. The caller owns the handle and must Close it.
func (c *Coordinator) CountForDay(day int64) *storage.Subscription[int] {
	return c.store.TaskCountForDay(day)
}

// TasksForRange is a live list covering an inclusive day range; calendar
// views use it to badge a whole month from one subscription.
func (c *Coordinator) TasksForRange(startDay, endDay int64) *storage.Subscription[[]storage.Task] {
	return c.store.TasksForRange(startDay, endDay)
}

// ObserveTask is a live single-row view, for detail screens.
func (c *Coordinator) ObserveTask(id int64) *storage.Subscription[storage.Task] {
	return c.store.ObserveTask(id)
}

// CreateTask validates and saves a new task. A title that is blank after
// trimming is silently rejected; blank notes are normalized to absent;
// dayKey == DayUnset falls back to today. The write happens on the worker,
// not the caller's goroutine.
func (c *Coordinator) CreateTask(title, notes string, dayKey int64) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}
	notes = strings.TrimSpace(notes)
	if dayKey == DayUnset {
		dayKey = storage.Today()
	}
	t := storage.Task{
		Title:     title,
		Notes:     notes,
		CreatedAt: time.Now().UnixMilli(),
		DayKey:    dayKey,
	}
	c.dispatch(func() {
		saved, err := c.store.Insert(t)
		c.emit(Event{Kind: EventCreated, Task: saved, Err: err})
	})
}

// SetDone marks the task complete or incomplete.
func (c *Coordinator) SetDone(id int64, done bool) {
	c.dispatch(func() {
		err := c.store.SetDone(id, done)
		c.emit(Event{Kind: EventToggled, Task: storage.Task{ID: id, Done: done}, Err: err})
	})
}

// UndoDone reverses a completion toggle by forcing the task back to
// incomplete. It does not restore the pre-toggle value: a task that was
// already incomplete before the toggle being undone still ends up
// incomplete, whatever happened in between.
func (c *Coordinator) UndoDone(id int64) {
	c.dispatch(func() {
		err := c.store.SetDone(id, false)
		c.emit(Event{Kind: EventRestored, Task: storage.Task{ID: id}, Err: err})
	})
}

// UpdateTask rewrites the full row. Updating a task that no longer exists
// is a no-op at the store.
func (c *Coordinator) UpdateTask(t storage.Task) {
	c.dispatch(func() {
		err := c.store.Update(t)
		c.emit(Event{Kind: EventUpdated, Task: t, Err: err})
	})
}

// DeleteTask removes the task, keeping an in-memory copy as the undo
// buffer. Only the most recent deletion is retained.
func (c *Coordinator) DeleteTask(t storage.Task) {
	c.mu.Lock()
	copied := t
	c.lastDeleted = &copied
	c.mu.Unlock()
	c.dispatch(func() {
		err := c.store.DeleteByID(t.ID)
		c.emit(Event{Kind: EventDeleted, Task: t, Err: err})
	})
}

// LastDeleted returns the undo buffer, if a deletion has happened.
func (c *Coordinator) LastDeleted() (storage.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastDeleted == nil {
		return storage.Task{}, false
	}
	return *c.lastDeleted, true
}

// UndoDelete re-inserts a previously deleted task with its field values
// intact. AUTOINCREMENT may hand the restored row a new id; callers must
// not assume the id survived the round trip.
func (c *Coordinator) UndoDelete(t storage.Task) {
	c.mu.Lock()
	c.lastDeleted = nil
	c.mu.Unlock()
	c.dispatch(func() {
		restored, err := c.store.Insert(t)
		c.emit(Event{Kind: EventRestored, Task: restored, Err: err})
	})
}

// dispatch enqueues one unit of work on the sequential worker. The caller
// only blocks to enqueue, never for the store. A single worker means two
// mutations issued in order also apply in order, which a rapid
// toggle-then-delete on the same task depends on.
func (c *Coordinator) dispatch(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.work <- fn
}

func (c *Coordinator) worker() {
	defer close(c.workerDone)
	for fn := range c.work {
		fn()
	}
}

// emit never blocks the worker; if the presentation stops reading, the
// oldest completion notice is dropped in favor of the newest.
func (c *Coordinator) emit(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}
