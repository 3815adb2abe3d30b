package transfer

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zoneshosting/RGSX-PC/internal/extract"
	"github.com/zoneshosting/RGSX-PC/internal/platform"
	"github.com/zoneshosting/RGSX-PC/internal/scheduler"
	"github.com/zoneshosting/RGSX-PC/internal/store"
)

// HTTPTransfer downloads task payloads over plain HTTP GET and, for archive
// payloads, hands the file to the extractor. It is the default
// scheduler.Transfer implementation.
type HTTPTransfer struct {
	Store     *store.Store
	Extractor *extract.Extractor
	Registry  *platform.Registry
	Client    *http.Client
	Headers   map[string]string
	// Attempts and Backoff shape the retry loop; zero values mean one
	// attempt with no pause. Interval throttles progress writes.
	Attempts int
	Backoff  time.Duration
	Interval time.Duration
}

func (t *HTTPTransfer) client() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return http.DefaultClient
}

func (t *HTTPTransfer) attempts() int {
	if t.Attempts > 0 {
		return t.Attempts
	}
	return 1
}

func (t *HTTPTransfer) interval() time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return 500 * time.Millisecond
}

// Download fetches the task's payload into the platform ROM directory,
// retrying transient failures, then extracts archives and writes the
// terminal record.
func (t *HTTPTransfer) Download(ctx context.Context, task scheduler.Task) error {
	destDir := t.Registry.DestDir(task.Platform)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", destDir, err)
	}

	filename := platform.SanitizeFilename(downloadName(task))
	target := filepath.Join(destDir, filename)

	if info, err := os.Stat(target); err == nil && info.Size() > 0 && !task.RequiresExtraction {
		t.update(task.TaskID, func(r *store.Record) {
			r.Status = store.StatusAlreadyPresent
			r.Progress = 100
			r.DownloadedSize = info.Size()
			r.TotalSize = info.Size()
			r.Message = fmt.Sprintf("%s already present", filename)
		})
		return nil
	}

	var lastErr error
	downloaded := false
	for attempt := 1; attempt <= t.attempts(); attempt++ {
		if attempt > 1 {
			t.update(task.TaskID, func(r *store.Record) {
				r.Status = fmt.Sprintf("Try %d/%d", attempt, t.attempts())
				r.Message = fmt.Sprintf("retrying: %v", lastErr)
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.Backoff):
			}
		}

		if lastErr = t.fetch(ctx, task, target); lastErr == nil {
			downloaded = true
			break
		}
		if ctx.Err() != nil {
			os.Remove(target)
			return ctx.Err()
		}
		log.Printf("download attempt %d/%d for %s failed: %v",
			attempt, t.attempts(), task.URL, lastErr)
	}
	if !downloaded {
		return fmt.Errorf("download failed after %d attempts: %w", t.attempts(), lastErr)
	}

	if task.RequiresExtraction {
		ok, msg := t.Extractor.Extract(target, destDir, task.URL)
		if !ok {
			t.update(task.TaskID, func(r *store.Record) {
				r.Status = store.StatusError
				r.Message = msg
			})
			return nil
		}
		t.update(task.TaskID, func(r *store.Record) {
			r.Status = store.StatusDownloadOK
			r.Progress = 100
			r.Message = msg
		})
		return nil
	}

	size := int64(0)
	if info, err := os.Stat(target); err == nil {
		size = info.Size()
	}
	t.update(task.TaskID, func(r *store.Record) {
		r.Status = store.StatusDownloadOK
		r.Progress = 100
		r.DownloadedSize = size
		r.Message = fmt.Sprintf("downloaded %s", humanize.Bytes(uint64(size)))
	})
	return nil
}

// fetch performs one GET attempt, streaming the body into target with
// throttled progress updates.
func (t *HTTPTransfer) fetch(ctx context.Context, task scheduler.Task, target string) error {
	t.update(task.TaskID, func(r *store.Record) {
		r.Status = store.StatusConnecting
		r.Message = ""
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return err
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	total := resp.ContentLength
	t.update(task.TaskID, func(r *store.Record) {
		r.Status = store.StatusDownloading
		r.TotalSize = total
	})

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	var written int64
	lastUpdate := time.Time{}
	buf := make([]byte, 64*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if time.Since(lastUpdate) >= t.interval() {
				lastUpdate = time.Now()
				t.progress(task.TaskID, written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	t.progress(task.TaskID, written, total)
	return nil
}

func (t *HTTPTransfer) progress(taskID string, written, total int64) {
	t.update(taskID, func(r *store.Record) {
		r.Status = store.StatusDownloading
		r.DownloadedSize = written
		r.TotalSize = total
		if total > 0 {
			r.Progress = int(written * 100 / total)
			r.Message = fmt.Sprintf("%s of %s",
				humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)))
		} else {
			r.Message = humanize.Bytes(uint64(written))
		}
	})
}

// update touches the task's record only while it is still non-terminal, so
// a cancellation marked by the scheduler is never overwritten.
func (t *HTTPTransfer) update(taskID string, fn func(*store.Record)) {
	t.Store.UpdateFirst(func(r store.Record) bool {
		return r.TaskID == taskID && !store.IsTerminal(r.Status)
	}, fn)
}

func downloadName(task scheduler.Task) string {
	if task.GameName != "" {
		return task.GameName
	}
	u, err := url.Parse(task.URL)
	if err != nil {
		return path.Base(task.URL)
	}
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}
