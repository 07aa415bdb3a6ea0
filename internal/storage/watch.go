package storage

import "sync"

// hub fans a "table changed" signal out to every live subscription. Signal
// channels are buffered one deep so notifications coalesce instead of
// queueing behind a slow reader.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan struct{}
	nextID int
	closed bool
}

func newHub() *hub {
	return &hub{subs: map[int]chan struct{}{}}
}

func (h *hub) register() (int, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan struct{}, 1)
	if h.closed {
		close(ch)
		return id, ch
	}
	// Pre-load one signal so the subscription emits the current state
	// immediately, before any write happens.
	ch <- struct{}{}
	h.subs[id] = ch
	return id, ch
}

func (h *hub) unregister(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscription is a live, continuously-updating query result. C carries the
// current snapshot right after subscribing and a fresh one after every
// committed write to the table. Delivery is latest-wins: a reader that falls
// behind sees the newest snapshot, not every intermediate one. Close stops
// the stream; C is closed once the stream has fully stopped.
type Subscription[T any] struct {
	C    <-chan T
	hub  *hub
	id   int
	once sync.Once
}

func (sub *Subscription[T]) Close() {
	sub.once.Do(func() {
		sub.hub.unregister(sub.id)
	})
}

// watch runs query once per change signal and pushes snapshots to the
// subscription channel. query reports ok=false to suppress an emission
// (used by ObserveTask while the row is absent). A query error ends the
// stream; per the error model, read failures have no retry policy.
func watch[T any](s *Store, query func() (T, bool, error)) *Subscription[T] {
	id, signal := s.hub.register()
	out := make(chan T, 1)
	sub := &Subscription[T]{C: out, hub: s.hub, id: id}
	go func() {
		defer close(out)
		for range signal {
			v, ok, err := query()
			if err != nil {
				return
			}
			if !ok {
				continue
			}
			// Displace an unread snapshot so the send never blocks.
			select {
			case <-out:
			default:
			}
			out <- v
		}
	}()
	return sub
}

// AllTasks is a live list of every task, most recently created first.
func (s *Store) AllTasks() *Subscription[[]Task] {
	return watch(s, func() ([]Task, bool, error) {
		tasks, err := s.fetchAll()
		return tasks, true, err
	})
}

// TasksForDay is a live list of the tasks scheduled for one day,
// most recently created first.
func (s *Store) TasksForDay(day int64) *Subscription[[]Task] {
	return watch(s, func() ([]Task, bool, error) {
		tasks, err := s.fetchForDay(day)
		return tasks, true, err
	})
}

// TasksForRange is a live list of the tasks with dayKey between startDay and
// endDay inclusive.
func (s *Store) TasksForRange(startDay, endDay int64) *Subscription[[]Task] {
	return watch(s, func() ([]Task, bool, error) {
		tasks, err := s.fetchForRange(startDay, endDay)
		return tasks, true, err
	})
}

// TaskCountForDay is a live count of the tasks scheduled for one day.
func (s *Store) TaskCountForDay(day int64) *Subscription[int] {
	return watch(s, func() (int, bool, error) {
		n, err := s.countForDay(day)
		return n, true, err
	})
}

// ObserveTask is a live view of a single row. It emits the current row on
// subscribe and again whenever the row changes; while the row does not
// exist, nothing is emitted.
func (s *Store) ObserveTask(id int64) *Subscription[Task] {
	return watch(s, func() (Task, bool, error) {
		return s.fetchOne(id)
	})
}
