package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoneshosting/RGSX-PC/internal/store"
)

type Mode string

const (
	// ModeNow runs the download immediately on its own goroutine.
	ModeNow Mode = "now"
	// ModeQueue serializes the download through the single active slot.
	ModeQueue Mode = "queue"
)

// Task is an admitted download request. Immutable once created.
type Task struct {
	TaskID                   string
	URL                      string
	Platform                 string
	GameName                 string
	RequiresExtraction       bool
	UsesRemoteUnlockProvider bool
	Mode                     Mode
}

// QueueEntry is the wire shape of a waiting task.
type QueueEntry struct {
	TaskID                   string `json:"task_id"`
	URL                      string `json:"url"`
	Platform                 string `json:"platform"`
	GameName                 string `json:"game_name"`
	RequiresExtraction       bool   `json:"requires_extraction"`
	UsesRemoteUnlockProvider bool   `json:"uses_remote_unlock_provider"`
}

// Transfer performs the actual download (and extraction for archive
// payloads). It owns the task's record transitions up to the terminal status.
type Transfer interface {
	Download(ctx context.Context, t Task) error
}

// Submission is the admission result returned to the caller.
type Submission struct {
	TaskID        string
	Queued        bool
	QueuePosition int
}

// Scheduler admits download tasks, running "now" tasks in parallel and
// "queue" tasks one at a time through a single active slot with a FIFO
// behind it.
type Scheduler struct {
	mu      sync.Mutex
	active  bool
	queue   []Task
	cancels map[string]context.CancelFunc

	store    *store.Store
	transfer Transfer
}

// New builds a scheduler. Records left non-terminal by a previous run are
// marked as interrupted errors rather than resumed.
func New(st *store.Store, tr Transfer) *Scheduler {
	s := &Scheduler{
		cancels:  make(map[string]context.CancelFunc),
		store:    st,
		transfer: tr,
	}
	if n, err := st.MarkInterrupted(); err != nil {
		log.Printf("startup recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("marked %d interrupted download(s) from previous run", n)
	}
	return s
}

// NewTaskID returns an opaque, time-ordered task id.
func NewTaskID() string {
	return fmt.Sprintf("web_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Submit admits a task. Queue-mode tasks either take the free slot or join
// the FIFO; the returned position is 1-based.
func (s *Scheduler) Submit(t Task) Submission {
	if t.TaskID == "" {
		t.TaskID = NewTaskID()
	}

	if t.Mode != ModeQueue {
		s.appendRecord(t, store.StatusDownloading)
		s.launch(t, false)
		return Submission{TaskID: t.TaskID}
	}

	s.mu.Lock()
	if s.active {
		s.queue = append(s.queue, t)
		pos := len(s.queue)
		// The Queued record must exist before the lock is released, or a
		// completing task could promote this entry before it has a record.
		s.appendRecord(t, store.StatusQueued)
		s.mu.Unlock()
		return Submission{TaskID: t.TaskID, Queued: true, QueuePosition: pos}
	}
	s.active = true
	s.mu.Unlock()

	s.appendRecord(t, store.StatusDownloading)
	s.launch(t, true)
	return Submission{TaskID: t.TaskID}
}

func (s *Scheduler) appendRecord(t Task, status string) {
	if err := s.store.Append(store.Record{
		TaskID:   t.TaskID,
		Platform: t.Platform,
		GameName: t.GameName,
		URL:      t.URL,
		Status:   status,
	}); err != nil {
		log.Printf("record task %s: %v", t.TaskID, err)
	}
}

func (s *Scheduler) launch(t Task, serial bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[t.TaskID] = cancel
	s.mu.Unlock()

	go func() {
		err := s.transfer.Download(ctx, t)

		s.mu.Lock()
		delete(s.cancels, t.TaskID)
		s.mu.Unlock()
		cancel()

		if err != nil {
			log.Printf("download %s failed: %v", t.TaskID, err)
			// A canceled task is already terminal, so this only catches
			// genuine failures the transfer did not record itself.
			s.store.UpdateFirst(func(r store.Record) bool {
				return r.TaskID == t.TaskID && !store.IsTerminal(r.Status)
			}, func(r *store.Record) {
				r.Status = store.StatusError
				r.Message = err.Error()
			})
		}
		if serial {
			s.finishSerial()
		}
	}()
}

// finishSerial hands the slot to the FIFO head, or frees it when the FIFO is
// empty. The slot stays busy across the handoff so a concurrent Submit can
// never jump the queue.
func (s *Scheduler) finishSerial() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.active = false
		s.mu.Unlock()
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	s.store.UpdateFirst(func(r store.Record) bool {
		return r.TaskID == next.TaskID && r.Status == store.StatusQueued
	}, func(r *store.Record) {
		r.Status = store.StatusDownloading
	})
	s.launch(next, true)
}

// Cancel cancels the queued or in-flight task matching key, which may be a
// task id or a url. The record is marked Canceled either way; for an
// in-flight task the worker's context is canceled and slot handoff happens
// in its completion handler.
func (s *Scheduler) Cancel(key string) (string, bool) {
	s.mu.Lock()
	for i, t := range s.queue {
		if t.URL != key && t.TaskID != key {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.mu.Unlock()
		s.markCanceled(t.TaskID)
		return t.TaskID, true
	}
	s.mu.Unlock()

	var taskID string
	found, err := s.store.UpdateFirst(func(r store.Record) bool {
		if r.URL != key && r.TaskID != key {
			return false
		}
		return store.IsInProgress(r.Status) || r.Status == store.StatusQueued
	}, func(r *store.Record) {
		taskID = r.TaskID
		r.Status = store.StatusCanceled
		r.Message = "canceled by user"
	})
	if err != nil {
		log.Printf("cancel %s: %v", key, err)
	}
	if !found {
		return "", false
	}

	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return taskID, true
}

// RemoveFromQueue drops a waiting task by id. In-flight tasks are not
// affected; use Cancel for those.
func (s *Scheduler) RemoveFromQueue(taskID string) bool {
	s.mu.Lock()
	for i, t := range s.queue {
		if t.TaskID != taskID {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.mu.Unlock()
		s.markCanceled(taskID)
		return true
	}
	s.mu.Unlock()
	return false
}

// ClearQueue drops every waiting task and returns how many were removed.
// The active slot is untouched.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	removed := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, t := range removed {
		s.markCanceled(t.TaskID)
	}
	return len(removed)
}

func (s *Scheduler) markCanceled(taskID string) {
	s.store.UpdateFirst(func(r store.Record) bool {
		return r.TaskID == taskID && !store.IsTerminal(r.Status)
	}, func(r *store.Record) {
		r.Status = store.StatusCanceled
		r.Message = "removed from queue"
	})
}

// Snapshot returns the slot state and a copy of the FIFO in order.
func (s *Scheduler) Snapshot() (bool, []QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]QueueEntry, len(s.queue))
	for i, t := range s.queue {
		entries[i] = QueueEntry{
			TaskID:                   t.TaskID,
			URL:                      t.URL,
			Platform:                 t.Platform,
			GameName:                 t.GameName,
			RequiresExtraction:       t.RequiresExtraction,
			UsesRemoteUnlockProvider: t.UsesRemoteUnlockProvider,
		}
	}
	return s.active, entries
}
