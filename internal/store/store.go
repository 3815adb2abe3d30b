package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Task statuses. "Téléchargement" is the legacy status written by older
// front-end builds and is still honored when matching in-flight records.
const (
	StatusQueued            = "Queued"
	StatusConnecting        = "Connecting"
	StatusDownloading       = "Downloading"
	StatusLegacyDownloading = "Téléchargement"
	StatusExtracting        = "Extracting"
	StatusConverting        = "Converting"
	StatusDownloadOK        = "Download_OK"
	StatusAlreadyPresent    = "Already_Present"
	StatusError             = "Error"
	StatusCanceled          = "Canceled"
)

const timestampLayout = "2006-01-02 15:04:05"

// Record is the persisted, mutable status snapshot of a task. One record per
// task_id; the whole collection is serialized as a single JSON array.
type Record struct {
	TaskID         string `json:"task_id"`
	Platform       string `json:"platform"`
	GameName       string `json:"game_name"`
	URL            string `json:"url"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	DownloadedSize int64  `json:"downloaded_size"`
	TotalSize      int64  `json:"total_size"`
	Message        string `json:"message"`
	Timestamp      string `json:"timestamp"`
}

// IsTerminal reports whether a status ends a task's lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusDownloadOK, StatusAlreadyPresent, StatusError, StatusCanceled:
		return true
	}
	return false
}

// IsInProgress reports whether a status counts as an in-flight download for
// the progress view. "Try n/m" retry statuses are opaque but in-flight.
func IsInProgress(status string) bool {
	switch status {
	case StatusConnecting, StatusDownloading, StatusLegacyDownloading, StatusExtracting, StatusConverting:
		return true
	}
	return strings.HasPrefix(status, "Try ")
}

// EventSink receives a copy of every status transition, for audit logging.
// Failures in the sink never affect the store.
type EventSink interface {
	Append(taskID, url, status string, progress int, message string)
}

// Store is the task lifecycle store: a JSON array of records on disk,
// loaded and saved whole under a single lock.
type Store struct {
	mu   sync.Mutex
	path string
	sink EventSink
}

func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) SetEventSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Now returns a timestamp in the history file's canonical format.
func Now() string {
	return time.Now().Format(timestampLayout)
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return records, nil
}

func (s *Store) save(records []Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Records returns a snapshot copy of all records.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Append adds a new record and persists the collection.
func (s *Store) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp == "" {
		rec.Timestamp = Now()
	}
	records, err := s.load()
	if err != nil {
		return err
	}
	records = append(records, rec)
	if err := s.save(records); err != nil {
		return err
	}
	s.emit(rec)
	return nil
}

// UpdateByTaskID applies fn to the record with the given task id and
// refreshes its timestamp. Returns false if no record matched.
func (s *Store) UpdateByTaskID(taskID string, fn func(*Record)) (bool, error) {
	return s.updateFirst(func(r Record) bool { return r.TaskID == taskID }, fn)
}

// UpdateFirst applies fn to the first record matching the predicate and
// refreshes its timestamp. Returns false if no record matched.
func (s *Store) UpdateFirst(match func(Record) bool, fn func(*Record)) (bool, error) {
	return s.updateFirst(match, fn)
}

func (s *Store) updateFirst(match func(Record) bool, fn func(*Record)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return false, err
	}
	for i := range records {
		if !match(records[i]) {
			continue
		}
		fn(&records[i])
		records[i].Timestamp = Now()
		if err := s.save(records); err != nil {
			return false, err
		}
		s.emit(records[i])
		return true, nil
	}
	return false, nil
}

// UpdateAll applies fn to every record matching the predicate.
// Returns the number of records changed.
func (s *Store) UpdateAll(match func(Record) bool, fn func(*Record)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.load()
	if err != nil {
		return 0, err
	}
	// fn may change the fields the predicate looks at, so the matched
	// indices are remembered up front and emitted exactly once each.
	var changed []int
	for i := range records {
		if !match(records[i]) {
			continue
		}
		fn(&records[i])
		records[i].Timestamp = Now()
		changed = append(changed, i)
	}
	if len(changed) == 0 {
		return 0, nil
	}
	if err := s.save(records); err != nil {
		return 0, err
	}
	for _, i := range changed {
		s.emit(records[i])
	}
	return len(changed), nil
}

// MarkInterrupted flags every non-terminal record as Error. Called once at
// startup so that a crash mid-download or mid-extraction is surfaced instead
// of silently resumed.
func (s *Store) MarkInterrupted() (int, error) {
	return s.UpdateAll(
		func(r Record) bool { return !IsTerminal(r.Status) },
		func(r *Record) {
			r.Status = StatusError
			r.Message = "interrupted by restart"
		})
}

// History returns all records sorted by timestamp, most recent first.
func (s *Store) History() ([]Record, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, nil
}

// Clear removes every record. Used by the explicit history-clear operation.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save([]Record{})
}

func (s *Store) emit(rec Record) {
	if s.sink == nil {
		return
	}
	s.sink.Append(rec.TaskID, rec.URL, rec.Status, rec.Progress, rec.Message)
}
