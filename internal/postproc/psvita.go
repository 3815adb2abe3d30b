package postproc

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zoneshosting/RGSX-PC/internal/platform"
)

// processPSVita installs a Vita game: the archive is expected to unpack into
// one staging directory holding one inner zip named after the game id. The
// inner zip is unpacked into the ux0/app tree and a "<dir> [<id>].psvita"
// marker is left in the ROM folder for the front end.
func (p *Processor) processPSVita(destDir string, before BeforeState) (bool, string) {
	added, err := newTopLevel(destDir, before, platform.FolderPSVita, ".psvita")
	if err != nil {
		return false, fmt.Sprintf("scan failed: %v", err)
	}

	var staging string
	for _, e := range added {
		if e.IsDir() {
			if staging != "" {
				return false, "multiple new directories, cannot identify game folder"
			}
			staging = filepath.Join(destDir, e.Name())
		}
	}
	if staging == "" {
		return false, "no game folder found after extraction"
	}

	var innerZip string
	entries, err := os.ReadDir(staging)
	if err != nil {
		return false, fmt.Sprintf("scan %s: %v", filepath.Base(staging), err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			if innerZip != "" {
				return false, "multiple inner zips, cannot identify game id"
			}
			innerZip = filepath.Join(staging, e.Name())
		}
	}
	if innerZip == "" {
		return false, fmt.Sprintf("no inner zip in %s", filepath.Base(staging))
	}

	gameID := strings.TrimSuffix(filepath.Base(innerZip), filepath.Ext(innerZip))
	if err := unzipInto(innerZip, p.VitaAppDir); err != nil {
		return false, fmt.Sprintf("install %s: %v", gameID, err)
	}

	marker := filepath.Join(destDir, fmt.Sprintf("%s [%s].psvita", filepath.Base(staging), gameID))
	content := fmt.Sprintf("# PSVita Game\n# Game: %s\n# ID: %s\n", filepath.Base(staging), gameID)
	if err := os.WriteFile(marker, []byte(content), 0644); err != nil {
		return false, fmt.Sprintf("write marker: %v", err)
	}

	if err := os.RemoveAll(staging); err != nil {
		return false, fmt.Sprintf("remove staging dir: %v", err)
	}
	return true, fmt.Sprintf("installed %s", gameID)
}

// unzipInto unpacks a zip archive below dest, refusing entries that escape it.
func unzipInto(zipPath, dest string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	for _, f := range reader.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(out, src)
		out.Close()
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
