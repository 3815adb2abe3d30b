package postproc

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	ps3SegmentEncoded = "Sony%20-%20PlayStation%203/"
	ps3KeySegEncoded  = "Sony%20-%20PlayStation%203%20-%20Disc%20Keys%20TXT/"
	ps3SegmentPlain   = "Sony - PlayStation 3/"
	ps3KeySegPlain    = "Sony - PlayStation 3 - Disc Keys TXT/"
)

// processPS3 decrypts a freshly extracted PS3 ISO with its disc key and
// unpacks the decrypted image into a "<base>.ps3" game directory. The key is
// fetched from the companion "Disc Keys TXT" collection next to the ISO's
// source, falling back to a local .dkey file. No cleanup on failure.
func (p *Processor) processPS3(destDir string, before BeforeState, url string) (bool, string) {
	isos := newISOs(destDir, before)
	if len(isos) == 0 {
		return true, "no ISO to decrypt"
	}
	iso := isos[0]
	base := strings.TrimSuffix(filepath.Base(iso), filepath.Ext(iso))

	keyPath, err := p.fetchDiscKey(destDir, base, url)
	if err != nil {
		return false, fmt.Sprintf("disc key unavailable: %v", err)
	}
	key, err := readDiscKey(keyPath)
	if err != nil {
		return false, fmt.Sprintf("read disc key: %v", err)
	}

	if err := p.Runner.LookPath(p.Tools.Ps3Dec); err != nil {
		return false, fmt.Sprintf("%s not available: %v", p.Tools.Ps3Dec, err)
	}
	decrypted := filepath.Join(filepath.Dir(iso), base+"_decrypted.iso")
	res, err := p.Runner.Run(context.Background(), destDir, p.Tools.Ps3Dec, "d", "key", key, iso, decrypted)
	if err != nil {
		return false, fmt.Sprintf("decrypt %s: %v", filepath.Base(iso), err)
	}
	if res.ExitCode != 0 {
		return false, fmt.Sprintf("decrypt %s: exit code %d", filepath.Base(iso), res.ExitCode)
	}
	os.Remove(iso)

	if err := p.Runner.LookPath(p.Tools.SevenZip); err != nil {
		return false, fmt.Sprintf("%s not available: %v", p.Tools.SevenZip, err)
	}
	gameDir := filepath.Join(destDir, base+".ps3")
	res, err = p.Runner.Run(context.Background(), destDir, p.Tools.SevenZip, "x", decrypted, "-o"+gameDir, "-y")
	if err != nil {
		return false, fmt.Sprintf("unpack %s: %v", filepath.Base(decrypted), err)
	}
	// 7z exit codes: 1 and 2 are warnings, above that is fatal.
	if res.ExitCode > 2 {
		return false, fmt.Sprintf("unpack %s: exit code %d", filepath.Base(decrypted), res.ExitCode)
	}
	if res.ExitCode > 0 {
		log.Printf("7z finished with warnings (code %d) for %s", res.ExitCode, decrypted)
	}

	os.Remove(decrypted)
	os.Remove(keyPath)
	return true, fmt.Sprintf("installed as %s", filepath.Base(gameDir))
}

// fetchDiscKey resolves "<base>.dkey" in destDir, downloading and unpacking
// the companion key archive when no local key exists yet.
func (p *Processor) fetchDiscKey(destDir, base, url string) (string, error) {
	local := filepath.Join(destDir, base+".dkey")
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	keyURL := discKeyURL(url)
	if keyURL == "" {
		return "", errors.New("no key source for this download")
	}
	tmpZip := filepath.Join(destDir, "_temp_key_"+base+".zip")
	if err := p.downloadFile(keyURL, tmpZip); err != nil {
		return "", err
	}
	defer os.Remove(tmpZip)

	if err := extractDKey(tmpZip, local); err != nil {
		return "", err
	}
	return local, nil
}

// discKeyURL derives the key-archive URL by swapping the PlayStation 3 path
// segment for its Disc Keys TXT sibling and the extension for .zip.
func discKeyURL(url string) string {
	var swapped string
	switch {
	case strings.Contains(url, ps3SegmentEncoded):
		swapped = strings.Replace(url, ps3SegmentEncoded, ps3KeySegEncoded, 1)
	case strings.Contains(url, ps3SegmentPlain):
		swapped = strings.Replace(url, ps3SegmentPlain, ps3KeySegPlain, 1)
	default:
		return ""
	}
	ext := filepath.Ext(swapped)
	if ext == "" {
		return swapped + ".zip"
	}
	return strings.TrimSuffix(swapped, ext) + ".zip"
}

func (p *Processor) downloadFile(url, dest string) error {
	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("key download returned status %d", resp.StatusCode)
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, resp.Body)
	return err
}

// extractDKey pulls the first .dkey entry out of the key archive.
func extractDKey(zipPath, dest string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer reader.Close()
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".dkey") {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(out, src)
		out.Close()
		src.Close()
		return err
	}
	return errors.New("no .dkey entry in key archive")
}

func readDiscKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", errors.New("empty disc key file")
	}
	return key, nil
}
