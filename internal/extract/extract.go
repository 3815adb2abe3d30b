package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/config"
	"github.com/zoneshosting/RGSX-PC/internal/postproc"
	"github.com/zoneshosting/RGSX-PC/internal/store"
	"github.com/zoneshosting/RGSX-PC/internal/tool"
)

// Extraction failure classes. Callers see them flattened into the returned
// message; the sentinels keep the classes distinguishable in tests.
var (
	ErrCorruptArchive   = errors.New("corrupt archive")
	ErrPermissionDenied = errors.New("permission denied")
	ErrToolUnavailable  = errors.New("extraction tool unavailable")
	ErrExtractionFailed = errors.New("extraction failed")
)

// Extractor unpacks downloaded archives into the platform ROM directory and
// hands the result to the platform post-processor.
type Extractor struct {
	Store  *store.Store
	Post   *postproc.Processor
	Runner tool.Runner
	Tools  config.ToolsConfig
	// Interval throttles progress writes to the store. Zero means 500ms.
	Interval time.Duration
}

// Extract unpacks archivePath into destDir. url correlates progress updates
// with the task's record. It reports ok plus a human-readable message.
func (e *Extractor) Extract(archivePath, destDir, url string) (bool, string) {
	switch strings.ToLower(filepath.Ext(archivePath)) {
	case ".zip":
		return e.extractZip(archivePath, destDir, url)
	case ".rar":
		return e.extractRar(archivePath, destDir, url)
	}
	return false, fmt.Sprintf("unsupported archive type %q", filepath.Ext(archivePath))
}

func (e *Extractor) interval() time.Duration {
	if e.Interval > 0 {
		return e.Interval
	}
	return 500 * time.Millisecond
}

// updateProgress writes extraction progress onto the task's in-flight record,
// matching by url so it also catches records left in download statuses.
func (e *Extractor) updateProgress(url string, progress int, message string) {
	if e.Store == nil || url == "" {
		return
	}
	e.Store.UpdateFirst(func(r store.Record) bool {
		if r.URL != url {
			return false
		}
		switch r.Status {
		case store.StatusLegacyDownloading, store.StatusExtracting, store.StatusDownloading:
			return true
		}
		return false
	}, func(r *store.Record) {
		r.Status = store.StatusExtracting
		r.Progress = progress
		r.Message = message
	})
}
