package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Task is the single persisted entity. Notes == "" means "no notes" and is
// stored as NULL. CreatedAt is epoch milliseconds. DayKey is the calendar
// date the task is scheduled for, counted in days since 1970-01-01, so day
// arithmetic never needs timezone-aware date math.
type Task struct {
	ID        int64
	Title     string
	Notes     string
	CreatedAt int64
	Done      bool
	DayKey    int64
}

// Store owns the tasks table and the subscriptions watching it.
type Store struct {
	db  *sql.DB
	hub *hub
}

const schemaVersion = 3

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	dsn := sqliteDSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, hub: newHub()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle for inspection in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.hub.closeAll()
	return s.db.Close()
}

// migrate brings the schema to the current version, applying pending steps
// in ascending order. Each step is additive and guarded so re-running it
// against an already-upgraded database is a no-op.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version;`).Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", version, schemaVersion)
	}

	steps := []struct {
		version int
		stmt    string
	}{
		{1, `CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	notes TEXT DEFAULT NULL,
	createdAt INTEGER NOT NULL,
	isDone INTEGER NOT NULL DEFAULT 0
);`},
		{2, `CREATE INDEX IF NOT EXISTS index_tasks_createdAt ON tasks(createdAt);`},
		{3, `ALTER TABLE tasks ADD COLUMN dayKey INTEGER NOT NULL DEFAULT 0;`},
	}
	for _, step := range steps {
		if step.version <= version {
			continue
		}
		if _, err := s.db.Exec(step.stmt); err != nil && !isDuplicateColumn(err) {
			return fmt.Errorf("apply schema v%d: %w", step.version, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", step.version)); err != nil {
			return err
		}
	}
	return nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

// Insert writes the task and returns it with the assigned id. An id of 0
// asks SQLite for a fresh AUTOINCREMENT value; a non-zero id that collides
// with an existing row replaces that row. Undo-reinsertion goes through the
// same path, so a re-inserted task may come back with a new id.
func (s *Store) Insert(t Task) (Task, error) {
	var res sql.Result
	var err error
	if t.ID == 0 {
		res, err = s.db.Exec(
			`INSERT INTO tasks (title, notes, createdAt, isDone, dayKey) VALUES (?, ?, ?, ?, ?);`,
			t.Title, nullableNotes(t.Notes), t.CreatedAt, boolToInt(t.Done), t.DayKey)
	} else {
		res, err = s.db.Exec(
			`INSERT OR REPLACE INTO tasks (id, title, notes, createdAt, isDone, dayKey) VALUES (?, ?, ?, ?, ?, ?);`,
			t.ID, t.Title, nullableNotes(t.Notes), t.CreatedAt, boolToInt(t.Done), t.DayKey)
	}
	if err != nil {
		return t, err
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	s.hub.notify()
	return t, nil
}

// Update replaces the full row keyed by id. Updating a missing id is a
// silent no-op.
func (s *Store) Update(t Task) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET title = ?, notes = ?, createdAt = ?, isDone = ?, dayKey = ? WHERE id = ?;`,
		t.Title, nullableNotes(t.Notes), t.CreatedAt, boolToInt(t.Done), t.DayKey, t.ID)
	if err != nil {
		return err
	}
	s.hub.notify()
	return nil
}

// SetDone flips only the isDone column, leaving the rest of the row alone.
func (s *Store) SetDone(id int64, done bool) error {
	_, err := s.db.Exec(`UPDATE tasks SET isDone = ? WHERE id = ?;`, boolToInt(done), id)
	if err != nil {
		return err
	}
	s.hub.notify()
	return nil
}

// DeleteByID hard-deletes the row. Deleting a missing id is a no-op.
func (s *Store) DeleteByID(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	s.hub.notify()
	return nil
}

// DeleteAll clears the table. Test/reset paths only.
func (s *Store) DeleteAll() error {
	_, err := s.db.Exec(`DELETE FROM tasks;`)
	if err != nil {
		return err
	}
	s.hub.notify()
	return nil
}

func (s *Store) fetchAll() ([]Task, error) {
	return s.fetchWhere(`SELECT id, title, notes, createdAt, isDone, dayKey FROM tasks ORDER BY id DESC;`)
}

func (s *Store) fetchForDay(day int64) ([]Task, error) {
	return s.fetchWhere(`SELECT id, title, notes, createdAt, isDone, dayKey FROM tasks WHERE dayKey = ? ORDER BY id DESC;`, day)
}

func (s *Store) fetchForRange(startDay, endDay int64) ([]Task, error) {
	return s.fetchWhere(`SELECT id, title, notes, createdAt, isDone, dayKey FROM tasks WHERE dayKey BETWEEN ? AND ? ORDER BY id DESC;`, startDay, endDay)
}

func (s *Store) countForDay(day int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE dayKey = ?;`, day).Scan(&n)
	return n, err
}

func (s *Store) fetchOne(id int64) (Task, bool, error) {
	tasks, err := s.fetchWhere(`SELECT id, title, notes, createdAt, isDone, dayKey FROM tasks WHERE id = ? LIMIT 1;`, id)
	if err != nil || len(tasks) == 0 {
		return Task{}, false, err
	}
	return tasks[0], true, nil
}

func (s *Store) fetchWhere(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var notes sql.NullString
		var done int
		if err := rows.Scan(&t.ID, &t.Title, &notes, &t.CreatedAt, &done, &t.DayKey); err != nil {
			return nil, err
		}
		t.Notes = notes.String
		t.Done = done == 1
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// DayKey converts a wall-clock time to its calendar day number, days since
// 1970-01-01 of the time's own calendar date.
func DayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Today is DayKey for the current local date.
func Today() int64 {
	return DayKey(time.Now())
}

// DayKeyTime is the inverse of DayKey, midnight UTC of the given day.
func DayKeyTime(day int64) time.Time {
	return time.Unix(day*86400, 0).UTC()
}

func nullableNotes(notes string) sql.NullString {
	if notes == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: notes, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
