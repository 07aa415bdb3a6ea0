package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"dayplan/internal/config"
	"dayplan/internal/coordinator"
	"dayplan/internal/storage"
)

type mode int

const (
	modeDay mode = iota
	modeAddTitle
	modeAddNotes
	modeEditTitle
	modeEditNotes
	modeCalendar
)

type undoKind int

const (
	undoNone undoKind = iota
	undoToggle
	undoDelete
)

// Messages pumped out of the coordinator's channels into the Update loop.
type (
	dayTasksMsg   []storage.Task
	monthTasksMsg []storage.Task
	dayCountMsg   int
	eventMsg      coordinator.Event
)

type Model struct {
	co  *coordinator.Coordinator
	cfg config.Config

	tasks  []storage.Task
	cursor int
	mode   mode
	input  textinput.Model
	status string

	dayCount int
	countSub *storage.Subscription[int]

	pendingTitle string
	editing      *storage.Task

	undo     undoKind
	undoTask storage.Task

	cal calendarState
}

func Run(co *coordinator.Coordinator, cfg config.Config) error {
	program := tea.NewProgram(newModel(co, cfg))
	_, err := program.Run()
	return err
}

func newModel(co *coordinator.Coordinator, cfg config.Config) Model {
	ti := textinput.New()
	ti.Placeholder = "Task title"
	ti.CharLimit = 256
	ti.Width = 40

	return Model{
		co:       co,
		cfg:      cfg,
		input:    ti,
		mode:     modeDay,
		status:   fmt.Sprintf("Press '%s' to add, '%s' to toggle, '%s' for the calendar.", cfg.Keys.Add, cfg.Keys.Toggle, cfg.Keys.Calendar),
		countSub: co.CountForDay(co.SelectedDay()),
		cal:      newCalendarState(co.SelectedDay()),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitTasks(m.co.SelectedDayTasks(), func(ts []storage.Task) tea.Msg { return dayTasksMsg(ts) }),
		waitCount(m.countSub),
		waitEvent(m.co.Events()),
	)
}

// waitTasks blocks on a list feed and hands the next snapshot to Update.
// A closed channel ends the pump quietly.
func waitTasks(ch <-chan []storage.Task, wrap func([]storage.Task) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		tasks, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(tasks)
	}
}

func waitCount(sub *storage.Subscription[int]) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-sub.C
		if !ok {
			return nil
		}
		return dayCountMsg(n)
	}
}

func waitEvent(ch <-chan coordinator.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dayTasksMsg:
		m.tasks = msg
		m.cursor = clampCursor(m.cursor, len(m.tasks))
		return m, waitTasks(m.co.SelectedDayTasks(), func(ts []storage.Task) tea.Msg { return dayTasksMsg(ts) })
	case dayCountMsg:
		m.dayCount = int(msg)
		return m, waitCount(m.countSub)
	case monthTasksMsg:
		m.cal.setCounts(msg)
		if m.cal.sub == nil {
			return m, nil
		}
		sub := m.cal.sub
		return m, waitTasks(sub.C, func(ts []storage.Task) tea.Msg { return monthTasksMsg(ts) })
	case eventMsg:
		m = m.applyEvent(coordinator.Event(msg))
		return m, waitEvent(m.co.Events())
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

// applyEvent turns a completed mutation into a status line and, for toggles
// and deletions, a one-shot undo affordance. Any later mutation replaces it.
func (m Model) applyEvent(ev coordinator.Event) Model {
	if ev.Err != nil {
		m.status = fmt.Sprintf("operation failed: %v", ev.Err)
		m.undo = undoNone
		return m
	}
	switch ev.Kind {
	case coordinator.EventCreated:
		m.status = fmt.Sprintf("Added %q", ev.Task.Title)
		m.undo = undoNone
	case coordinator.EventUpdated:
		m.status = "Task updated"
		m.undo = undoNone
	case coordinator.EventToggled:
		if ev.Task.Done {
			m.status = fmt.Sprintf("Task done. '%s' to undo.", m.cfg.Keys.Undo)
			m.undo = undoToggle
			m.undoTask = ev.Task
		} else {
			m.status = "Task reopened"
			m.undo = undoNone
		}
	case coordinator.EventDeleted:
		m.status = fmt.Sprintf("Deleted %q. '%s' to undo.", ev.Task.Title, m.cfg.Keys.Undo)
		m.undo = undoDelete
		m.undoTask = ev.Task
	case coordinator.EventRestored:
		m.status = "Undone"
		m.undo = undoNone
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeAddTitle, modeAddNotes, modeEditTitle, modeEditNotes:
		return m.updateInputMode(key, msg)
	case modeCalendar:
		return m.updateCalendarMode(key)
	default:
		return m.updateDayMode(key)
	}
}

func (m Model) updateDayMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		if len(m.tasks) > 0 {
			m.cursor = clampCursor(m.cursor+1, len(m.tasks))
		}
	case m.cfg.Keys.Up, "up":
		if m.cursor > 0 {
			m.cursor = clampCursor(m.cursor-1, len(m.tasks))
		}
	case m.cfg.Keys.Add:
		m.mode = modeAddTitle
		m.input.Placeholder = "Task title"
		m.input.SetValue("")
		m.input.Focus()
		m.status = "Add: title, then optional notes. Enter to continue."
	case m.cfg.Keys.Edit:
		if len(m.tasks) == 0 {
			m.status = "No tasks to edit"
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.editing = &t
		m.mode = modeEditTitle
		m.input.Placeholder = "Task title"
		m.input.SetValue(t.Title)
		m.input.Focus()
		m.status = "Edit: title, then notes. Enter to continue."
	case m.cfg.Keys.Toggle:
		if len(m.tasks) == 0 {
			return m, nil
		}
		t := m.tasks[m.cursor]
		m.co.SetDone(t.ID, !t.Done)
	case m.cfg.Keys.Delete:
		if len(m.tasks) == 0 {
			return m, nil
		}
		m.co.DeleteTask(m.tasks[m.cursor])
	case m.cfg.Keys.Undo:
		return m.performUndo()
	case m.cfg.Keys.NextDay:
		return m.gotoDay(m.co.SelectedDay() + 1)
	case m.cfg.Keys.PrevDay:
		return m.gotoDay(m.co.SelectedDay() - 1)
	case m.cfg.Keys.Today:
		return m.gotoDay(storage.Today())
	case m.cfg.Keys.Calendar:
		return m.enterCalendar()
	}
	return m, nil
}

func (m Model) performUndo() (tea.Model, tea.Cmd) {
	switch m.undo {
	case undoToggle:
		m.co.UndoDone(m.undoTask.ID)
	case undoDelete:
		m.co.UndoDelete(m.undoTask)
	default:
		m.status = "Nothing to undo"
	}
	m.undo = undoNone
	return m, nil
}

// gotoDay switches the selected day and restarts the per-day count
// subscription; the old count feed is disposed first.
func (m Model) gotoDay(day int64) (tea.Model, tea.Cmd) {
	m.co.SelectDay(day)
	m.countSub.Close()
	m.countSub = m.co.CountForDay(day)
	m.cursor = 0
	return m, waitCount(m.countSub)
}

func (m Model) updateInputMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel, "esc":
		m.mode = modeDay
		m.editing = nil
		m.input.SetValue("")
		m.input.Blur()
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm, "enter":
		return m.advanceInput()
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) advanceInput() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	switch m.mode {
	case modeAddTitle, modeEditTitle:
		if strings.TrimSpace(value) == "" {
			m.status = "Title cannot be empty"
			return m, nil
		}
		m.pendingTitle = value
		if m.mode == modeAddTitle {
			m.mode = modeAddNotes
		} else {
			m.mode = modeEditNotes
		}
		m.input.Placeholder = "Notes (optional)"
		if m.mode == modeEditNotes && m.editing != nil {
			m.input.SetValue(m.editing.Notes)
		} else {
			m.input.SetValue("")
		}
		m.status = "Notes, then Enter to save."
		return m, nil
	case modeAddNotes:
		m.co.CreateTask(m.pendingTitle, value, m.co.SelectedDay())
	case modeEditNotes:
		if m.editing != nil {
			updated := *m.editing
			updated.Title = strings.TrimSpace(m.pendingTitle)
			updated.Notes = strings.TrimSpace(value)
			m.co.UpdateTask(updated)
		}
	}
	m.mode = modeDay
	m.editing = nil
	m.pendingTitle = ""
	m.input.SetValue("")
	m.input.Blur()
	return m, nil
}

func (m Model) View() string {
	if m.mode == modeCalendar {
		return m.calendarView()
	}

	var b strings.Builder
	day := m.co.SelectedDay()
	date := storage.DayKeyTime(day)
	b.WriteString(fmt.Sprintf("Dayplan — %s", date.Format("Mon 2 Jan 2006")))
	if m.dayCount == 1 {
		b.WriteString(" (1 task)")
	} else if m.dayCount > 1 {
		b.WriteString(fmt.Sprintf(" (%d tasks)", m.dayCount))
	}
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(fmt.Sprintf("No tasks for this day. Press '%s' to add one.", m.cfg.Keys.Add))
		b.WriteString("\n")
	} else {
		for i, t := range m.tasks {
			cursor := " "
			if m.cursor == i && m.mode == modeDay {
				cursor = ">"
			}
			checkbox := "[ ]"
			if t.Done {
				checkbox = "[x]"
			}
			b.WriteString(fmt.Sprintf("%s %s %s", cursor, checkbox, t.Title))
			if t.Notes != "" {
				b.WriteString(" — " + t.Notes)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	switch m.mode {
	case modeAddTitle, modeAddNotes:
		b.WriteString("Add Task: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	case modeEditTitle, modeEditNotes:
		b.WriteString("Edit Task: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.status)
	b.WriteString("\n")
	b.WriteString(renderHelp(m.cfg.Keys))
	return b.String()
}

func renderHelp(k config.Keymap) string {
	return fmt.Sprintf("%s/%s move • %s add • %s edit • %s toggle • %s delete • %s undo • %s/%s day • %s today • %s calendar • %s quit",
		k.Up, k.Down, k.Add, k.Edit, k.Toggle, k.Delete, k.Undo, k.PrevDay, k.NextDay, k.Today, k.Calendar, k.Quit)
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
