package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/zoneshosting/RGSX-PC/internal/catalog"
	"github.com/zoneshosting/RGSX-PC/internal/eventlog"
	"github.com/zoneshosting/RGSX-PC/internal/platform"
	"github.com/zoneshosting/RGSX-PC/internal/scheduler"
	"github.com/zoneshosting/RGSX-PC/internal/store"
)

type Server struct {
	addr      string
	scheduler *scheduler.Scheduler
	store     *store.Store
	catalog   *catalog.Catalog
	registry  *platform.Registry
	events    *eventlog.Log
}

func NewServer(addr string, sched *scheduler.Scheduler, st *store.Store, cat *catalog.Catalog, reg *platform.Registry, events *eventlog.Log) *Server {
	return &Server{
		addr:      addr,
		scheduler: sched,
		store:     st,
		catalog:   cat,
		registry:  reg,
		events:    events,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/events/{task_id}", s.handleEvents)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("POST /api/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/queue/clear", s.handleQueueClear)
	mux.HandleFunc("POST /api/queue/remove", s.handleQueueRemove)
	mux.HandleFunc("POST /api/history/clear", s.handleHistoryClear)

	return mux
}

func (s *Server) Start() error {
	log.Printf("API listening at http://localhost%s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	active, entries := s.scheduler.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"active":     active,
		"queue":      entries,
		"queue_size": len(entries),
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Records()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read history: %v", err)
		return
	}
	progress := make(map[string]any)
	for _, rec := range records {
		if !store.IsInProgress(rec.Status) && rec.Status != store.StatusQueued {
			continue
		}
		progress[rec.URL] = map[string]any{
			"task_id":          rec.TaskID,
			"game_name":        rec.GameName,
			"platform":         rec.Platform,
			"status":           rec.Status,
			"progress_percent": rec.Progress,
			"downloaded_size":  rec.DownloadedSize,
			"total_size":       rec.TotalSize,
			"timestamp":        rec.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"progress": progress,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.Records()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read history: %v", err)
		return
	}
	filtered := make([]store.Record, 0, len(records))
	for _, rec := range records {
		if historyVisible(rec.Status) {
			filtered = append(filtered, rec)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp > filtered[j].Timestamp
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"history": filtered,
	})
}

func historyVisible(status string) bool {
	switch status {
	case store.StatusQueued, store.StatusConnecting, store.StatusDownloading,
		store.StatusLegacyDownloading, store.StatusExtracting, store.StatusConverting,
		store.StatusDownloadOK, store.StatusAlreadyPresent, store.StatusError,
		store.StatusCanceled:
		return true
	}
	return strings.HasPrefix(status, "Try ")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	events, err := s.events.TaskEvents(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read events: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"events":  events,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform  string `json:"platform"`
		GameIndex *int   `json:"game_index"`
		GameName  string `json:"game_name"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Platform == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}
	if req.GameIndex == nil && req.GameName == "" {
		writeError(w, http.StatusBadRequest, "game_index or game_name is required")
		return
	}

	index := -1
	if req.GameIndex != nil {
		index = *req.GameIndex
	}
	game, err := s.catalog.Lookup(req.Platform, index, req.GameName)
	if err != nil {
		writeError(w, http.StatusNotFound, "%v", err)
		return
	}

	mode := scheduler.ModeQueue
	if req.Mode == string(scheduler.ModeNow) {
		mode = scheduler.ModeNow
	}
	task := scheduler.Task{
		URL:                      game.URL,
		Platform:                 req.Platform,
		GameName:                 game.Name,
		RequiresExtraction:       s.registry.RequiresExtraction(game.URL, req.Platform, game.Name),
		UsesRemoteUnlockProvider: strings.Contains(game.URL, "1fichier"),
		Mode:                     mode,
	}
	sub := s.scheduler.Submit(task)

	resp := map[string]any{
		"success": true,
		"task_id": sub.TaskID,
		"queued":  sub.Queued,
	}
	if sub.Queued {
		resp["queue_position"] = sub.QueuePosition
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	taskID, found := s.scheduler.Cancel(req.URL)
	if !found {
		writeError(w, http.StatusNotFound, "no active download for this url")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task_id": taskID,
	})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	removed := s.scheduler.ClearQueue()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}

func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "clear history: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	if !s.scheduler.RemoveFromQueue(req.TaskID) {
		writeError(w, http.StatusNotFound, "task not found in queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"task_id": req.TaskID,
	})
}
