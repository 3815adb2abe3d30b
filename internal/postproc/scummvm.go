package postproc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zoneshosting/RGSX-PC/internal/platform"
)

// processScummVM gathers the extracted files into "<base>/" and drops the
// empty "<base>.scummvm" marker the front end scans for.
func (p *Processor) processScummVM(destDir, archivePath string, before BeforeState) (bool, string) {
	base := baseName(archivePath)
	target := filepath.Join(destDir, base)

	added, err := newTopLevel(destDir, before, platform.FolderScummVM, ".scummvm")
	if err != nil {
		return false, fmt.Sprintf("scan failed: %v", err)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return false, fmt.Sprintf("create %s: %v", base, err)
	}
	for _, e := range added {
		if e.Name() == base {
			continue
		}
		src := filepath.Join(destDir, e.Name())
		if err := os.Rename(src, filepath.Join(target, e.Name())); err != nil {
			return false, fmt.Sprintf("move %s: %v", e.Name(), err)
		}
	}

	marker := filepath.Join(target, base+".scummvm")
	f, err := os.Create(marker)
	if err != nil {
		return false, fmt.Sprintf("write marker: %v", err)
	}
	f.Close()
	return true, fmt.Sprintf("installed as %s", base)
}
