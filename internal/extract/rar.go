package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/postproc"
)

// unrar "l -v" body lines: attributes, size, optional packed size, date, name.
var rarListingLine = regexp.MustCompile(`^\s*(\S+)\s+(\d+)\s+\d*\s*(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2})\s+(.+)$`)

type rarEntry struct {
	Name string
	Size int64
	Dir  bool
}

// extractRar unpacks a rar archive through the unrar binary. Extraction is
// blocking with no streamed progress, so the listing is used to verify the
// result file by file afterwards. The archive is deleted whether extraction
// succeeds or not.
func (e *Extractor) extractRar(rarPath, destDir, url string) (bool, string) {
	defer os.Remove(rarPath)

	if err := e.Runner.LookPath(e.Tools.Unrar); err != nil {
		return false, fmt.Sprintf("%v: %s: %v", ErrToolUnavailable, e.Tools.Unrar, err)
	}

	before := postproc.Snapshot(destDir)

	entries, err := e.listRar(rarPath)
	if err != nil {
		return false, fmt.Sprintf("%v: %v", ErrCorruptArchive, err)
	}
	if len(entries) == 0 {
		return false, fmt.Sprintf("%v: empty listing for %s", ErrCorruptArchive, filepath.Base(rarPath))
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return false, fmt.Sprintf("%v: %v", ErrExtractionFailed, err)
	}
	e.updateProgress(url, 0, fmt.Sprintf("Extracting %s", filepath.Base(rarPath)))

	res, err := e.Runner.Run(context.Background(), "", e.Tools.Unrar,
		"x", "-y", rarPath, destDir+string(os.PathSeparator))
	if err != nil {
		return false, fmt.Sprintf("%v: %v", ErrExtractionFailed, err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Sprintf("%v: unrar exit code %d: %s",
			ErrExtractionFailed, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	if msg, ok := e.verifyRar(entries, destDir, rarPath, url); !ok {
		return false, msg
	}
	fixPermissions(destDir)

	ok, msg := e.Post.Process(destDir, rarPath, before, url)
	if !ok {
		return false, msg
	}
	return true, msg
}

// listRar runs "unrar l -v" with a short timeout and parses the listing body
// between the dashed separator lines.
func (e *Extractor) listRar(rarPath string) ([]rarEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := e.Runner.Run(ctx, "", e.Tools.Unrar, "l", "-v", rarPath)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("unrar listing exit code %d", res.ExitCode)
	}
	return parseRarListing(res.Stdout), nil
}

func parseRarListing(out string) []rarEntry {
	var entries []rarEntry
	inBody := false
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "----") {
			inBody = !inBody
			continue
		}
		if !inBody {
			continue
		}
		m := rarListingLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		size, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, rarEntry{
			Name: strings.TrimSpace(m[4]),
			Size: size,
			Dir:  strings.ContainsAny(m[1], "Dd"),
		})
	}
	return entries
}

// verifyRar checks every listed file landed on disk, reporting coarse
// file-count progress while it walks.
func (e *Extractor) verifyRar(entries []rarEntry, destDir, rarPath, url string) (string, bool) {
	var files []rarEntry
	for _, entry := range entries {
		if !entry.Dir {
			files = append(files, entry)
		}
	}
	lastUpdate := time.Time{}
	for i, entry := range files {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if _, err := os.Stat(target); err != nil {
			return fmt.Sprintf("%v: missing %s after extraction", ErrExtractionFailed, entry.Name), false
		}
		if time.Since(lastUpdate) >= e.interval() {
			lastUpdate = time.Now()
			e.updateProgress(url, (i+1)*100/len(files),
				fmt.Sprintf("Extracting %s", filepath.Base(rarPath)))
		}
	}
	e.updateProgress(url, 100, fmt.Sprintf("Extracting %s", filepath.Base(rarPath)))
	return "", true
}

// fixPermissions opens up whatever modes unrar preserved from the archive.
func fixPermissions(destDir string) {
	filepath.WalkDir(destDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			os.Chmod(path, 0755)
		} else {
			os.Chmod(path, 0644)
		}
		return nil
	})
}
