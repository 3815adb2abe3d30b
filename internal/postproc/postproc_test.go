package postproc

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/config"
	"github.com/zoneshosting/RGSX-PC/internal/store"
	"github.com/zoneshosting/RGSX-PC/internal/tool"
)

type fakeRunner struct {
	lookErr error
	calls   [][]string
	run     func(dir, name string, args ...string) (tool.Result, error)
}

func (f *fakeRunner) LookPath(name string) error { return f.lookErr }

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (tool.Result, error) {
	f.calls = append(f.calls, append([]string{dir, name}, args...))
	if f.run != nil {
		return f.run(dir, name, args...)
	}
	return tool.Result{}, nil
}

func newTestProcessor(t *testing.T, r tool.Runner) *Processor {
	t.Helper()
	return &Processor{
		Store:      store.Open(filepath.Join(t.TempDir(), "history.json")),
		Runner:     r,
		Tools:      config.Default().Tools,
		RetryDelay: time.Millisecond,
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessGeneric(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "snes")
	mkdir(t, destDir)

	ok, msg := p.Process(destDir, "/tmp/game.zip", Snapshot(destDir), "")
	if !ok || msg != "extraction completed" {
		t.Errorf("got (%v, %q), want generic no-op success", ok, msg)
	}
}

func TestProcessDOSRenamesSingleDir(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "dos")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	mkdir(t, filepath.Join(destDir, "KEEN1"))
	writeFile(t, filepath.Join(destDir, "KEEN1", "KEEN1.EXE"), "exe")

	ok, msg := p.Process(destDir, "/downloads/Commander Keen.zip", before, "")
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	if _, err := os.Stat(filepath.Join(destDir, "Commander Keen.pc", "KEEN1.EXE")); err != nil {
		t.Errorf("renamed game dir missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "KEEN1")); !os.IsNotExist(err) {
		t.Error("original dir should be gone after rename")
	}
}

func TestProcessDOSGathersLooseFiles(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "dos")
	mkdir(t, destDir)
	// Pre-existing content and media dirs must be left alone.
	writeFile(t, filepath.Join(destDir, "existing.txt"), "old")
	before := Snapshot(destDir)

	writeFile(t, filepath.Join(destDir, "GAME.EXE"), "exe")
	writeFile(t, filepath.Join(destDir, "GAME.CFG"), "cfg")
	mkdir(t, filepath.Join(destDir, "images"))

	ok, msg := p.Process(destDir, "/downloads/Game.zip", before, "")
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	for _, name := range []string{"GAME.EXE", "GAME.CFG"} {
		if _, err := os.Stat(filepath.Join(destDir, "Game.pc", name)); err != nil {
			t.Errorf("%s not moved into game dir: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(destDir, "existing.txt")); err != nil {
		t.Error("pre-existing file was moved")
	}
	if _, err := os.Stat(filepath.Join(destDir, "images")); err != nil {
		t.Error("media dir was moved")
	}
}

func TestProcessScummVM(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "scummvm")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	writeFile(t, filepath.Join(destDir, "MONKEY.000"), "data")
	writeFile(t, filepath.Join(destDir, "MONKEY.001"), "data")

	ok, msg := p.Process(destDir, "/downloads/Monkey Island.zip", before, "")
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	gameDir := filepath.Join(destDir, "Monkey Island")
	for _, name := range []string{"MONKEY.000", "MONKEY.001", "Monkey Island.scummvm"} {
		if _, err := os.Stat(filepath.Join(gameDir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	info, err := os.Stat(filepath.Join(gameDir, "Monkey Island.scummvm"))
	if err == nil && info.Size() != 0 {
		t.Error("marker file should be empty")
	}
}

func writeTestZip(t *testing.T, path string, entries map[string]string) {
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
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessPSVita(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	p.VitaAppDir = filepath.Join(t.TempDir(), "psvita", "ux0", "app")

	destDir := filepath.Join(t.TempDir(), "psvita")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	staging := filepath.Join(destDir, "Cool Game (USA)")
	mkdir(t, staging)
	writeTestZip(t, filepath.Join(staging, "PCSE00001.zip"), map[string]string{
		"PCSE00001/eboot.bin": "eboot",
	})

	ok, msg := p.Process(destDir, "/downloads/Cool Game.zip", before, "")
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	if _, err := os.Stat(filepath.Join(p.VitaAppDir, "PCSE00001", "eboot.bin")); err != nil {
		t.Errorf("game not installed into app dir: %v", err)
	}
	marker := filepath.Join(destDir, "Cool Game (USA) [PCSE00001].psvita")
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Errorf("marker missing: %v", err)
	}
	want := "# PSVita Game\n# Game: Cool Game (USA)\n# ID: PCSE00001\n"
	if string(data) != want {
		t.Errorf("marker content = %q, want %q", data, want)
	}
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Error("staging dir should be deleted")
	}
}

func TestProcessPSVitaMissingZip(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "psvita")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	mkdir(t, filepath.Join(destDir, "Cool Game (USA)"))

	ok, msg := p.Process(destDir, "/downloads/Cool Game.zip", before, "")
	if ok {
		t.Fatal("missing inner zip must fail")
	}
	if !strings.Contains(msg, "no inner zip") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestProcessPSVitaNoNewDir(t *testing.T) {
	p := newTestProcessor(t, &fakeRunner{})
	destDir := filepath.Join(t.TempDir(), "psvita")
	mkdir(t, destDir)

	ok, msg := p.Process(destDir, "/downloads/Cool Game.zip", Snapshot(destDir), "")
	if ok {
		t.Fatal("missing game folder must fail")
	}
	if !strings.Contains(msg, "no game folder") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestProcessXbox(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(dir, name string, args ...string) (tool.Result, error) {
		// The tool leaves a backup of the original image behind.
		os.WriteFile(filepath.Join(dir, args[len(args)-1]+".old"), []byte("old"), 0644)
		return tool.Result{}, nil
	}
	p := newTestProcessor(t, runner)

	destDir := filepath.Join(t.TempDir(), "xbox")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	iso := filepath.Join(destDir, "Halo.iso")
	writeFile(t, iso, "iso data")

	url := "http://x/Halo.zip"
	p.Store.Append(store.Record{TaskID: "t1", URL: url, Status: store.StatusDownloading})

	ok, msg := p.Process(destDir, "/downloads/Halo.zip", before, url)
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("tool called %d times, want 1", len(runner.calls))
	}
	call := runner.calls[0]
	if call[0] != destDir || call[2] != "-r" || call[3] != "Halo.iso" {
		t.Errorf("unexpected invocation: %v", call)
	}
	if _, err := os.Stat(iso + ".old"); !os.IsNotExist(err) {
		t.Error("backup image should be removed")
	}
	records, _ := p.Store.Records()
	if records[0].Status != store.StatusDownloadOK || records[0].Progress != 100 {
		t.Errorf("record = %q/%d, want Download_OK/100", records[0].Status, records[0].Progress)
	}
}

func TestProcessXboxToolFailure(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(dir, name string, args ...string) (tool.Result, error) {
		return tool.Result{ExitCode: 1, Stderr: "bad image"}, nil
	}
	p := newTestProcessor(t, runner)

	destDir := filepath.Join(t.TempDir(), "xbox")
	mkdir(t, destDir)
	before := Snapshot(destDir)
	writeFile(t, filepath.Join(destDir, "Halo.iso"), "iso data")

	ok, msg := p.Process(destDir, "/downloads/Halo.zip", before, "")
	if ok {
		t.Fatal("tool failure must fail the conversion")
	}
	if !strings.Contains(msg, "exit code 1") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestProcessPS3WithLocalKey(t *testing.T) {
	destDir := filepath.Join(t.TempDir(), "ps3")
	mkdir(t, destDir)
	before := Snapshot(destDir)

	iso := filepath.Join(destDir, "Game.iso")
	writeFile(t, iso, "encrypted")
	writeFile(t, filepath.Join(destDir, "Game.dkey"), "00112233445566778899aabbccddeeff\n")

	runner := &fakeRunner{}
	runner.run = func(dir, name string, args ...string) (tool.Result, error) {
		switch name {
		case "ps3dec":
			os.WriteFile(args[len(args)-1], []byte("decrypted"), 0644)
		case "7zz":
			for _, a := range args {
				if strings.HasPrefix(a, "-o") {
					os.MkdirAll(strings.TrimPrefix(a, "-o"), 0755)
				}
			}
		}
		return tool.Result{}, nil
	}
	p := newTestProcessor(t, runner)

	ok, msg := p.Process(destDir, "/downloads/Game.zip", before, "")
	if !ok {
		t.Fatalf("process failed: %s", msg)
	}
	if _, err := os.Stat(filepath.Join(destDir, "Game.ps3")); err != nil {
		t.Errorf("game dir missing: %v", err)
	}
	for _, gone := range []string{"Game.iso", "Game_decrypted.iso", "Game.dkey"} {
		if _, err := os.Stat(filepath.Join(destDir, gone)); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", gone)
		}
	}
	if len(runner.calls) != 2 {
		t.Fatalf("tool called %d times, want 2", len(runner.calls))
	}
	if got := runner.calls[0][4]; got != "00112233445566778899aabbccddeeff" {
		t.Errorf("key argument = %q", got)
	}
}

func TestDiscKeyURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{
			"http://host/files/Sony%20-%20PlayStation%203/Game.iso",
			"http://host/files/Sony%20-%20PlayStation%203%20-%20Disc%20Keys%20TXT/Game.zip",
		},
		{
			"http://host/files/Sony - PlayStation 3/Game.iso",
			"http://host/files/Sony - PlayStation 3 - Disc Keys TXT/Game.zip",
		},
		{"http://host/files/other/Game.iso", ""},
	}
	for _, tt := range tests {
		if got := discKeyURL(tt.url); got != tt.want {
			t.Errorf("discKeyURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
