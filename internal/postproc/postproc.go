package postproc

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/config"
	"github.com/zoneshosting/RGSX-PC/internal/platform"
	"github.com/zoneshosting/RGSX-PC/internal/store"
	"github.com/zoneshosting/RGSX-PC/internal/tool"
)

// BeforeState is what the destination directory looked like before
// extraction. Handlers diff against it to find what the archive added.
type BeforeState struct {
	TopLevel map[string]struct{}
	ISOs     map[string]struct{}
}

// Snapshot records the pre-extraction state of destDir.
func Snapshot(destDir string) BeforeState {
	state := BeforeState{
		TopLevel: make(map[string]struct{}),
		ISOs:     make(map[string]struct{}),
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return state
	}
	for _, e := range entries {
		state.TopLevel[e.Name()] = struct{}{}
	}
	filepath.WalkDir(destDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".iso") {
			state.ISOs[path] = struct{}{}
		}
		return nil
	})
	return state
}

// Processor runs the platform-specific install step after extraction.
type Processor struct {
	Store      *store.Store
	Runner     tool.Runner
	Tools      config.ToolsConfig
	VitaAppDir string
	HTTPClient *http.Client
	Headers    map[string]string
	// RetryDelay is the pause between failed rename attempts.
	RetryDelay time.Duration
}

// Process dispatches on the destination directory's platform kind. It
// returns ok plus a human-readable message. Failures leave partial state in
// place; there is no rollback.
func (p *Processor) Process(destDir, archivePath string, before BeforeState, url string) (bool, string) {
	switch platform.KindForDir(destDir) {
	case platform.KindXbox:
		return p.processXbox(destDir, before, url)
	case platform.KindPS3:
		return p.processPS3(destDir, before, url)
	case platform.KindDOS:
		return p.processDOS(destDir, archivePath, before)
	case platform.KindScummVM:
		return p.processScummVM(destDir, archivePath, before)
	case platform.KindPSVita:
		return p.processPSVita(destDir, before)
	}
	return true, "extraction completed"
}

func (p *Processor) retryDelay() time.Duration {
	if p.RetryDelay > 0 {
		return p.RetryDelay
	}
	return 2 * time.Second
}

// updateRecord updates the in-flight record matching the download url.
func (p *Processor) updateRecord(url string, fn func(*store.Record)) {
	if p.Store == nil || url == "" {
		return
	}
	p.Store.UpdateFirst(func(r store.Record) bool {
		return r.URL == url && store.IsInProgress(r.Status)
	}, fn)
}

// newTopLevel returns directory entries added since the snapshot, skipping
// front-end media folders and already-processed game dirs for the platform.
func newTopLevel(destDir string, before BeforeState, folder, markerSuffix string) ([]os.DirEntry, error) {
	ignored := map[string]bool{
		folder:    true,
		"images":  true,
		"videos":  true,
		"manuals": true,
		"media":   true,
	}
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return nil, err
	}
	var added []os.DirEntry
	for _, e := range entries {
		if _, existed := before.TopLevel[e.Name()]; existed {
			continue
		}
		lower := strings.ToLower(e.Name())
		if ignored[lower] {
			continue
		}
		if markerSuffix != "" && strings.HasSuffix(lower, markerSuffix) {
			continue
		}
		added = append(added, e)
	}
	return added, nil
}

func baseName(archivePath string) string {
	name := filepath.Base(archivePath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
