package postproc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zoneshosting/RGSX-PC/internal/platform"
)

// processDOS reorganizes an extracted DOS game into a single "<base>.pc"
// directory, which is how the front end recognizes installed DOS titles.
func (p *Processor) processDOS(destDir, archivePath string, before BeforeState) (bool, string) {
	base := baseName(archivePath)
	target := filepath.Join(destDir, base+".pc")

	added, err := newTopLevel(destDir, before, platform.FolderDOS, ".pc")
	if err != nil {
		return false, fmt.Sprintf("scan failed: %v", err)
	}
	if len(added) == 0 {
		return true, "no new content to organize"
	}

	// The common case is one game directory straight out of the archive:
	// rename it in place. Renames can fail transiently while an antivirus
	// or indexer still holds the fresh files, hence the retries.
	if len(added) == 1 && added[0].IsDir() {
		src := filepath.Join(destDir, added[0].Name())
		var renameErr error
		for attempt := 0; attempt < 3; attempt++ {
			if renameErr = os.Rename(src, target); renameErr == nil {
				return true, fmt.Sprintf("installed as %s", filepath.Base(target))
			}
			time.Sleep(p.retryDelay())
		}
		return false, fmt.Sprintf("rename to %s failed: %v", filepath.Base(target), renameErr)
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return false, fmt.Sprintf("create %s: %v", filepath.Base(target), err)
	}
	for _, e := range added {
		src := filepath.Join(destDir, e.Name())
		if err := os.Rename(src, filepath.Join(target, e.Name())); err != nil {
			return false, fmt.Sprintf("move %s: %v", e.Name(), err)
		}
	}
	return true, fmt.Sprintf("installed as %s", filepath.Base(target))
}
