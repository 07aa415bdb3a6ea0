package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"dayplan/internal/storage"
)

// calendarState is the month view: an anchor month, a highlighted day, and
// per-day task counts derived from one live range subscription over the
// visible month.
type calendarState struct {
	year   int
	month  time.Month
	day    int64
	counts map[int64]int
	sub    *storage.Subscription[[]storage.Task]
}

func newCalendarState(day int64) calendarState {
	date := storage.DayKeyTime(day)
	return calendarState{
		year:   date.Year(),
		month:  date.Month(),
		day:    day,
		counts: map[int64]int{},
	}
}

func (cs *calendarState) setCounts(tasks []storage.Task) {
	counts := make(map[int64]int, len(tasks))
	for _, t := range tasks {
		counts[t.DayKey]++
	}
	cs.counts = counts
}

// monthRange is the inclusive day-key span of the anchor month.
func (cs calendarState) monthRange() (int64, int64) {
	first := time.Date(cs.year, cs.month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return storage.DayKey(first), storage.DayKey(last)
}

func (m Model) enterCalendar() (tea.Model, tea.Cmd) {
	m.mode = modeCalendar
	m.cal = newCalendarState(m.co.SelectedDay())
	m.status = fmt.Sprintf("Calendar: move with %s/%s/%s/%s, '%s' to pick a day, '%s' to go back.",
		m.cfg.Keys.PrevDay, m.cfg.Keys.NextDay, m.cfg.Keys.Up, m.cfg.Keys.Down, m.cfg.Keys.Confirm, m.cfg.Keys.Cancel)
	return m, m.resubscribeMonth()
}

// resubscribeMonth swaps the range subscription to the anchor month,
// disposing the previous one first.
func (m *Model) resubscribeMonth() tea.Cmd {
	if m.cal.sub != nil {
		m.cal.sub.Close()
	}
	start, end := m.cal.monthRange()
	m.cal.sub = m.co.TasksForRange(start, end)
	sub := m.cal.sub
	return waitTasks(sub.C, func(ts []storage.Task) tea.Msg { return monthTasksMsg(ts) })
}

func (m Model) updateCalendarMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Cancel, "esc", m.cfg.Keys.Calendar:
		return m.leaveCalendar()
	case m.cfg.Keys.Confirm, "enter":
		day := m.cal.day
		model, cmd := m.leaveCalendar()
		picked := model.(Model)
		var dayCmd tea.Cmd
		model, dayCmd = picked.gotoDay(day)
		return model, tea.Batch(cmd, dayCmd)
	case m.cfg.Keys.PrevDay, "left":
		return m.moveCalendarDay(-1)
	case m.cfg.Keys.NextDay, "right":
		return m.moveCalendarDay(1)
	case m.cfg.Keys.Up, "up":
		return m.moveCalendarDay(-7)
	case m.cfg.Keys.Down, "down":
		return m.moveCalendarDay(7)
	case m.cfg.Keys.Today:
		m.cal.day = storage.Today()
		return m.reanchorCalendar()
	}
	return m, nil
}

func (m Model) leaveCalendar() (tea.Model, tea.Cmd) {
	if m.cal.sub != nil {
		m.cal.sub.Close()
		m.cal.sub = nil
	}
	m.mode = modeDay
	m.status = ""
	return m, nil
}

func (m Model) moveCalendarDay(delta int64) (tea.Model, tea.Cmd) {
	m.cal.day += delta
	return m.reanchorCalendar()
}

// reanchorCalendar follows the highlighted day across month boundaries,
// re-opening the range subscription when the visible month changes.
func (m Model) reanchorCalendar() (tea.Model, tea.Cmd) {
	date := storage.DayKeyTime(m.cal.day)
	if date.Year() == m.cal.year && date.Month() == m.cal.month {
		return m, nil
	}
	m.cal.year = date.Year()
	m.cal.month = date.Month()
	return m, m.resubscribeMonth()
}

func (m Model) calendarView() string {
	var b strings.Builder
	first := time.Date(m.cal.year, m.cal.month, 1, 0, 0, 0, 0, time.UTC)
	b.WriteString(fmt.Sprintf("Calendar — %s %d\n\n", m.cal.month, m.cal.year))
	b.WriteString("   Mo    Tu    We    Th    Fr    Sa    Su\n")

	// Monday-first column for the 1st of the month.
	col := (int(first.Weekday()) + 6) % 7
	b.WriteString(strings.Repeat("      ", col))

	daysInMonth := first.AddDate(0, 1, -1).Day()
	for dayNum := 1; dayNum <= daysInMonth; dayNum++ {
		key := storage.DayKey(time.Date(m.cal.year, m.cal.month, dayNum, 0, 0, 0, 0, time.UTC))
		b.WriteString(renderCalendarCell(dayNum, m.cal.counts[key], key == m.cal.day))
		col++
		if col == 7 {
			b.WriteString("\n")
			col = 0
		}
	}
	if col != 0 {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if n := m.cal.counts[m.cal.day]; n == 1 {
		b.WriteString(fmt.Sprintf("%s: 1 task\n", storage.DayKeyTime(m.cal.day).Format("Mon 2 Jan")))
	} else {
		b.WriteString(fmt.Sprintf("%s: %d tasks\n", storage.DayKeyTime(m.cal.day).Format("Mon 2 Jan"), n))
	}
	b.WriteString("\n")
	b.WriteString(m.status)
	return b.String()
}

// renderCalendarCell is 6 columns wide: the day number, a count badge when
// the day has tasks, and brackets around the highlighted day.
func renderCalendarCell(dayNum, count int, highlighted bool) string {
	badge := " "
	if count > 9 {
		badge = "+"
	} else if count > 0 {
		badge = fmt.Sprintf("%d", count)
	}
	if highlighted {
		return fmt.Sprintf("[%2d%s] ", dayNum, badge)
	}
	return fmt.Sprintf(" %2d%s  ", dayNum, badge)
}
