package eventlog

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Event is one status transition of a task, as recorded in the audit log.
// The log is append-only; queue and history state are rebuilt from the JSON
// checkpoint file, never from here.
type Event struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Created  string `json:"created"`
}

type Log struct {
	db *sql.DB
}

// Open initializes the SQLite event log under dataDir.
func Open(dataDir string) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	dbFile := filepath.Join(dataDir, "events.db")
	db, err := sql.Open("sqlite", dbFile)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// WAL mode and busy timeout for better concurrency; not critical if it fails.
	db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`)

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		url TEXT,
		status TEXT NOT NULL,
		progress INTEGER,
		message TEXT,
		created DATETIME DEFAULT (datetime('now', 'localtime'))
	);

	CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

// Append records one status transition. Errors are logged and swallowed so
// that audit logging can never fail a download.
func (l *Log) Append(taskID, url, status string, progress int, message string) {
	query := `INSERT INTO events (task_id, url, status, progress, message) VALUES (?, ?, ?, ?, ?)`
	if _, err := l.db.Exec(query, taskID, url, status, progress, message); err != nil {
		log.Printf("eventlog: append failed for task %s: %v", taskID, err)
	}
}

// TaskEvents returns all events for one task in insertion order.
func (l *Log) TaskEvents(taskID string) ([]Event, error) {
	query := `SELECT id, task_id, url, status, progress, message, created FROM events WHERE task_id = ? ORDER BY id`
	rows, err := l.db.Query(query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.URL, &e.Status, &e.Progress, &e.Message, &e.Created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recent returns the latest n events, newest first.
func (l *Log) Recent(n int) ([]Event, error) {
	query := `SELECT id, task_id, url, status, progress, message, created FROM events ORDER BY id DESC LIMIT ?`
	rows, err := l.db.Query(query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.URL, &e.Status, &e.Progress, &e.Message, &e.Created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (l *Log) Close() error {
	return l.db.Close()
}
