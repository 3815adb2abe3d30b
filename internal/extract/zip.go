package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/postproc"
)

// extractZip unpacks a zip archive with streamed progress, then runs the
// platform post-processor. The archive file is deleted only when both
// extraction and post-processing succeed.
func (e *Extractor) extractZip(zipPath, destDir, url string) (bool, string) {
	before := postproc.Snapshot(destDir)

	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return false, fmt.Sprintf("%v: %v", ErrCorruptArchive, err)
	}
	defer reader.Close()

	if err := verifyZip(&reader.Reader); err != nil {
		return false, fmt.Sprintf("%v: %v", ErrCorruptArchive, err)
	}

	files, skipped := planEntries(reader.File)
	for _, name := range skipped {
		log.Printf("skipping conflicting entry %q in %s", name, filepath.Base(zipPath))
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return false, fmt.Sprintf("%v: %v", ErrExtractionFailed, err)
	}

	var total uint64
	for _, f := range files {
		if !f.FileInfo().IsDir() {
			total += f.UncompressedSize64
		}
	}
	if total == 0 {
		// Directory-only archive: materialize the directories and skip
		// post-processing, there are no files for it to act on.
		for _, f := range files {
			if f.FileInfo().IsDir() {
				os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(f.Name)), 0755)
			}
		}
		os.Remove(zipPath)
		return true, "empty archive"
	}

	var written uint64
	lastUpdate := time.Time{}
	report := func(n int) {
		written += uint64(n)
		if time.Since(lastUpdate) >= e.interval() {
			lastUpdate = time.Now()
			e.updateProgress(url, int(written*100/total),
				fmt.Sprintf("Extracting %s", filepath.Base(zipPath)))
		}
	}
	for _, f := range files {
		if err := e.writeEntry(f, destDir, report); err != nil {
			if os.IsPermission(err) {
				return false, fmt.Sprintf("%v: %v", ErrPermissionDenied, err)
			}
			return false, fmt.Sprintf("%v: %v", ErrExtractionFailed, err)
		}
	}
	e.updateProgress(url, 100, fmt.Sprintf("Extracting %s", filepath.Base(zipPath)))

	ok, msg := e.Post.Process(destDir, zipPath, before, url)
	if !ok {
		return false, msg
	}
	os.Remove(zipPath)
	return true, msg
}

// verifyZip streams every entry through its CRC check before any file is
// written, so a truncated download never leaves a half-extracted game.
func verifyZip(r *zip.Reader) error {
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("%s: %v", f.Name, err)
		}
		_, err = io.Copy(io.Discard, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("%s: %v", f.Name, err)
		}
	}
	return nil
}

// planEntries drops file entries whose path doubles as a directory prefix of
// another entry (archives like that cannot be materialized on disk), and
// orders the rest parents-first.
func planEntries(entries []*zip.File) (files []*zip.File, skipped []string) {
	filePaths := make(map[string]bool, len(entries))
	for _, f := range entries {
		if !f.FileInfo().IsDir() {
			filePaths[strings.TrimSuffix(f.Name, "/")] = true
		}
	}
	conflicting := make(map[string]bool)
	for _, f := range entries {
		name := strings.TrimSuffix(f.Name, "/")
		for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if filePaths[dir] {
				conflicting[dir] = true
			}
		}
	}

	for _, f := range entries {
		name := strings.TrimSuffix(f.Name, "/")
		if !f.FileInfo().IsDir() && conflicting[name] {
			skipped = append(skipped, f.Name)
			continue
		}
		files = append(files, f)
	}
	sort.SliceStable(files, func(i, j int) bool {
		return strings.Count(files[i].Name, "/") < strings.Count(files[j].Name, "/")
	})
	return files, skipped
}

// writeEntry materializes one archive entry, streaming in small chunks so
// progress stays live on big files. An existing directory in the way of a
// file (or vice versa) is removed first.
func (e *Extractor) writeEntry(f *zip.File, destDir string, report func(int)) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("entry %q escapes destination", f.Name)
	}

	if f.FileInfo().IsDir() {
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			os.Remove(target)
		}
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			return err
		}
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 2048)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			report(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
