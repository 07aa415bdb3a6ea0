package coordinator_test

import (
	"path/filepath"
	"testing"
	"time"

	"dayplan/internal/coordinator"
	"dayplan/internal/storage"
)

func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, *storage.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "dayplan.db")
	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	co := coordinator.New(store)
	t.Cleanup(func() {
		co.Close()
		_ = store.Close()
	})
	return co, store
}

func waitEvent(t *testing.T, co *coordinator.Coordinator, kind coordinator.EventKind) coordinator.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-co.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if ev.Err != nil {
				t.Fatalf("mutation failed: %v", ev.Err)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func waitList(t *testing.T, ch <-chan []storage.Task, describe string, pred func([]storage.Task) bool) []storage.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tasks, ok := <-ch:
			if !ok {
				t.Fatalf("%s: feed closed", describe)
			}
			if pred(tasks) {
				return tasks
			}
		case <-deadline:
			t.Fatalf("%s: timed out", describe)
		}
	}
}

func TestCreateTaskTrimsAndNormalizes(t *testing.T) {
	co, _ := newTestCoordinator(t)

	co.CreateTask("  Buy milk  ", "   ", 19000)
	ev := waitEvent(t, co, coordinator.EventCreated)

	if ev.Task.ID == 0 {
		t.Fatal("created task has no id")
	}
	if ev.Task.Title != "Buy milk" {
		t.Fatalf("expected trimmed title, got %q", ev.Task.Title)
	}
	if ev.Task.Notes != "" {
		t.Fatalf("expected blank notes normalized to absent, got %q", ev.Task.Notes)
	}
	if ev.Task.DayKey != 19000 {
		t.Fatalf("expected dayKey 19000, got %d", ev.Task.DayKey)
	}
	if ev.Task.CreatedAt == 0 {
		t.Fatal("createdAt not captured")
	}

	tasks := waitList(t, co.AllTasks(), "all tasks", func(ts []storage.Task) bool { return len(ts) == 1 })
	if tasks[0].Title != "Buy milk" {
		t.Fatalf("stored row mismatch: %+v", tasks[0])
	}
}

func TestCreateTaskDefaultsDayToToday(t *testing.T) {
	co, _ := newTestCoordinator(t)

	co.CreateTask("Stretch", "", coordinator.DayUnset)
	ev := waitEvent(t, co, coordinator.EventCreated)
	if ev.Task.DayKey != storage.Today() {
		t.Fatalf("expected today's dayKey %d, got %d", storage.Today(), ev.Task.DayKey)
	}
}

func TestCreateTaskRejectsBlankTitle(t *testing.T) {
	co, _ := newTestCoordinator(t)

	co.CreateTask("", "notes", 19000)
	co.CreateTask("   ", "notes", 19000)
	// A valid create afterwards is the only mutation that may complete.
	co.CreateTask("real", "", 19000)

	ev := waitEvent(t, co, coordinator.EventCreated)
	if ev.Task.Title != "real" {
		t.Fatalf("blank create slipped through: %+v", ev.Task)
	}
	waitList(t, co.AllTasks(), "all tasks", func(ts []storage.Task) bool {
		return len(ts) == 1 && ts[0].Title == "real"
	})
}

func TestDeleteThenUndoRestoresFields(t *testing.T) {
	co, store := newTestCoordinator(t)

	saved, err := store.Insert(storage.Task{Title: "keep", Notes: "details", CreatedAt: 777, Done: true, DayKey: 42})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	co.DeleteTask(saved)
	waitEvent(t, co, coordinator.EventDeleted)

	buffered, ok := co.LastDeleted()
	if !ok || buffered.Title != "keep" {
		t.Fatalf("undo buffer not captured: %+v ok=%v", buffered, ok)
	}

	co.UndoDelete(buffered)
	ev := waitEvent(t, co, coordinator.EventRestored)

	restored := ev.Task
	if restored.Title != "keep" || restored.Notes != "details" || restored.CreatedAt != 777 || !restored.Done || restored.DayKey != 42 {
		t.Fatalf("undo changed field values: %+v", restored)
	}
	waitList(t, co.AllTasks(), "all tasks", func(ts []storage.Task) bool { return len(ts) == 1 })

	if _, ok := co.LastDeleted(); ok {
		t.Fatal("undo buffer should be cleared after UndoDelete")
	}
}

func TestUndoDoneAlwaysClearsFlag(t *testing.T) {
	co, store := newTestCoordinator(t)
	saved, err := store.Insert(storage.Task{Title: "chore", DayKey: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	co.SetDone(saved.ID, true)
	waitEvent(t, co, coordinator.EventToggled)
	co.UndoDone(saved.ID)
	waitEvent(t, co, coordinator.EventRestored)

	// Undo after a false toggle still forces incomplete; it is a reset,
	// not a restore of the pre-toggle value.
	co.SetDone(saved.ID, false)
	waitEvent(t, co, coordinator.EventToggled)
	co.UndoDone(saved.ID)
	waitEvent(t, co, coordinator.EventRestored)

	sub := store.ObserveTask(saved.ID)
	defer sub.Close()
	deadline := time.After(5 * time.Second)
	select {
	case task := <-sub.C:
		if task.Done {
			t.Fatalf("expected done=false after undo, got %+v", task)
		}
	case <-deadline:
		t.Fatal("no emission for task")
	}
}

func TestMutationsApplyInIssueOrder(t *testing.T) {
	co, store := newTestCoordinator(t)
	saved, err := store.Insert(storage.Task{Title: "rapid", DayKey: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Toggle then delete on the same id; the delete must win.
	co.SetDone(saved.ID, true)
	co.DeleteTask(saved)
	waitEvent(t, co, coordinator.EventDeleted)

	waitList(t, co.AllTasks(), "all tasks", func(ts []storage.Task) bool { return len(ts) == 0 })
}

func TestSelectedDayDefaultsToToday(t *testing.T) {
	co, _ := newTestCoordinator(t)
	if co.SelectedDay() != storage.Today() {
		t.Fatalf("expected default selected day %d, got %d", storage.Today(), co.SelectedDay())
	}
}

func TestSelectDaySwitchesFeed(t *testing.T) {
	co, store := newTestCoordinator(t)
	if _, err := store.Insert(storage.Task{Title: "monday", DayKey: 19000}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Insert(storage.Task{Title: "tuesday", DayKey: 19001}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	co.SelectDay(19000)
	waitList(t, co.SelectedDayTasks(), "day 19000 feed", func(ts []storage.Task) bool {
		return len(ts) == 1 && ts[0].Title == "monday"
	})

	co.SelectDay(19001)
	waitList(t, co.SelectedDayTasks(), "day 19001 feed", func(ts []storage.Task) bool {
		return len(ts) == 1 && ts[0].Title == "tuesday"
	})

	// Writes to the abandoned day must not reach the feed anymore.
	if _, err := store.Insert(storage.Task{Title: "monday again", DayKey: 19000}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	settle := time.After(300 * time.Millisecond)
	for {
		select {
		case tasks := <-co.SelectedDayTasks():
			for _, task := range tasks {
				if task.DayKey != 19001 {
					t.Fatalf("stale day leaked into feed: %+v", task)
				}
			}
		case <-settle:
			return
		}
	}
}

func TestCountForDayMatchesList(t *testing.T) {
	co, store := newTestCoordinator(t)
	if _, err := store.Insert(storage.Task{Title: "a", DayKey: 19000}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := store.Insert(storage.Task{Title: "b", DayKey: 19000}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	count := co.CountForDay(19000)
	defer count.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-count.C:
			if n == 2 {
				return
			}
		case <-deadline:
			t.Fatal("count never reached list length")
		}
	}
}

func TestUpdateTaskRewritesRow(t *testing.T) {
	co, store := newTestCoordinator(t)
	saved, err := store.Insert(storage.Task{Title: "draft", Notes: "old", DayKey: 5})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	saved.Title = "final"
	saved.Notes = "new"
	saved.DayKey = 6
	co.UpdateTask(saved)
	waitEvent(t, co, coordinator.EventUpdated)

	waitList(t, co.AllTasks(), "all tasks", func(ts []storage.Task) bool {
		return len(ts) == 1 && ts[0].Title == "final" && ts[0].Notes == "new" && ts[0].DayKey == 6
	})
}

func TestCloseDrainsPendingWork(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dayplan.db")
	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	co := coordinator.New(store)
	co.CreateTask("queued", "", 1)
	co.Close()

	sub := store.AllTasks()
	defer sub.Close()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tasks := <-sub.C:
			if len(tasks) == 1 && tasks[0].Title == "queued" {
				return
			}
		case <-deadline:
			t.Fatal("pending mutation lost on close")
		}
	}
}
