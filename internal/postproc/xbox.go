package postproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zoneshosting/RGSX-PC/internal/store"
)

// processXbox repacks each freshly extracted ISO with extract-xiso so the
// emulator can read it. Conversion runs in the ISO's own directory; the tool
// leaves a ".iso.old" backup which is deleted after a successful repack.
func (p *Processor) processXbox(destDir string, before BeforeState, url string) (bool, string) {
	isos := newISOs(destDir, before)
	if len(isos) == 0 {
		return true, "no ISO to convert"
	}
	if err := p.Runner.LookPath(p.Tools.ExtractXiso); err != nil {
		return false, fmt.Sprintf("%s not available: %v", p.Tools.ExtractXiso, err)
	}

	for i, iso := range isos {
		progress := i * 100 / len(isos)
		p.updateRecord(url, func(r *store.Record) {
			r.Status = store.StatusConverting
			r.Progress = progress
			r.Message = fmt.Sprintf("Converting %s", filepath.Base(iso))
		})

		res, err := p.Runner.Run(context.Background(), filepath.Dir(iso), p.Tools.ExtractXiso, "-r", filepath.Base(iso))
		if err != nil {
			return false, fmt.Sprintf("convert %s: %v", filepath.Base(iso), err)
		}
		if res.ExitCode != 0 {
			return false, fmt.Sprintf("convert %s: exit code %d", filepath.Base(iso), res.ExitCode)
		}
		os.Remove(iso + ".old")
	}

	p.updateRecord(url, func(r *store.Record) {
		r.Status = store.StatusDownloadOK
		r.Progress = 100
		r.Message = "Xbox conversion completed"
	})
	return true, "Xbox conversion completed"
}

// newISOs returns ISO files added below destDir since the snapshot.
func newISOs(destDir string, before BeforeState) []string {
	var added []string
	filepath.WalkDir(destDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".iso") {
			return nil
		}
		if _, existed := before.ISOs[path]; !existed {
			added = append(added, path)
		}
		return nil
	})
	return added
}
