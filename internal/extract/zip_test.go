package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/postproc"
	"github.com/zoneshosting/RGSX-PC/internal/store"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestExtractor(t *testing.T) (*Extractor, *store.Store) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "history.json"))
	return &Extractor{
		Store:    st,
		Post:     &postproc.Processor{Store: st},
		Interval: time.Millisecond,
	}, st
}

func TestExtractZip(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()
	destDir := filepath.Join(dir, "snes")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(dir, "game.zip")
	writeZip(t, zipPath, map[string]string{
		"Game.sfc":        "rom data",
		"docs/readme.txt": "hello",
	})

	ok, msg := e.Extract(zipPath, destDir, "http://x/game.zip")
	if !ok {
		t.Fatalf("extract failed: %s", msg)
	}
	for _, name := range []string{"Game.sfc", filepath.Join("docs", "readme.txt")} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("missing extracted file %s: %v", name, err)
		}
	}
	if _, err := os.Stat(zipPath); !os.IsNotExist(err) {
		t.Error("archive should be deleted after success")
	}
}

func TestExtractZipEmptyArchive(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()
	destDir := filepath.Join(dir, "snes")
	zipPath := filepath.Join(dir, "empty.zip")
	writeZip(t, zipPath, map[string]string{"saves/": "", "data/": ""})

	ok, msg := e.Extract(zipPath, destDir, "")
	if !ok || msg != "empty archive" {
		t.Fatalf("got (%v, %q), want trivial success", ok, msg)
	}
	// Directory entries are still materialized.
	for _, name := range []string{"saves", "data"} {
		info, err := os.Stat(filepath.Join(destDir, name))
		if err != nil || !info.IsDir() {
			t.Errorf("directory entry %s not created", name)
		}
	}
	if _, err := os.Stat(zipPath); !os.IsNotExist(err) {
		t.Error("empty archive should still be deleted")
	}
}

func TestExtractZipCorrupt(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bad.zip")
	if err := os.WriteFile(zipPath, []byte("this is not a zip"), 0644); err != nil {
		t.Fatal(err)
	}

	ok, msg := e.Extract(zipPath, dir, "")
	if ok {
		t.Fatal("corrupt archive should fail")
	}
	if !strings.Contains(msg, ErrCorruptArchive.Error()) {
		t.Errorf("message %q does not name the corruption", msg)
	}
	if _, err := os.Stat(zipPath); err != nil {
		t.Error("zip archive must be kept on failure")
	}
}

func TestExtractZipConflictingEntry(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()
	destDir := filepath.Join(dir, "snes")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	// "save" exists both as a file and as a directory prefix; the file
	// entry cannot be materialized and must be skipped.
	zipPath := filepath.Join(dir, "game.zip")
	writeZip(t, zipPath, map[string]string{
		"save":       "stray",
		"save/x.dat": "real",
	})

	ok, msg := e.Extract(zipPath, destDir, "")
	if !ok {
		t.Fatalf("extract failed: %s", msg)
	}
	if _, err := os.Stat(filepath.Join(destDir, "save", "x.dat")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
	info, err := os.Stat(filepath.Join(destDir, "save"))
	if err != nil || !info.IsDir() {
		t.Error("conflicting path should exist only as a directory")
	}
}

func TestExtractZipReplacesDirWithFile(t *testing.T) {
	e, _ := newTestExtractor(t)
	dir := t.TempDir()
	destDir := filepath.Join(dir, "snes")
	if err := os.MkdirAll(filepath.Join(destDir, "Game.sfc"), 0755); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(dir, "game.zip")
	writeZip(t, zipPath, map[string]string{"Game.sfc": "rom data"})

	ok, msg := e.Extract(zipPath, destDir, "")
	if !ok {
		t.Fatalf("extract failed: %s", msg)
	}
	info, err := os.Stat(filepath.Join(destDir, "Game.sfc"))
	if err != nil || info.IsDir() {
		t.Error("existing directory should be replaced by the file")
	}
}

func TestExtractZipProgressRecorded(t *testing.T) {
	e, st := newTestExtractor(t)
	url := "http://x/game.zip"
	st.Append(store.Record{TaskID: "t1", URL: url, Status: store.StatusDownloading})

	dir := t.TempDir()
	destDir := filepath.Join(dir, "snes")
	if err := os.MkdirAll(destDir, 0755); err != nil {
		t.Fatal(err)
	}
	zipPath := filepath.Join(dir, "game.zip")
	writeZip(t, zipPath, map[string]string{"Game.sfc": strings.Repeat("x", 10000)})

	if ok, msg := e.Extract(zipPath, destDir, url); !ok {
		t.Fatalf("extract failed: %s", msg)
	}

	records, _ := st.Records()
	if records[0].Status != store.StatusExtracting {
		t.Errorf("record status %q, want Extracting", records[0].Status)
	}
	if records[0].Progress != 100 {
		t.Errorf("record progress %d, want 100", records[0].Progress)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	e, _ := newTestExtractor(t)
	ok, msg := e.Extract(filepath.Join(t.TempDir(), "game.7z"), t.TempDir(), "")
	if ok {
		t.Fatal("unsupported archive type should fail")
	}
	if !strings.Contains(msg, ".7z") {
		t.Errorf("message %q does not name the extension", msg)
	}
}
