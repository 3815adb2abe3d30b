package platform

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Folder names with platform-specific install handling.
const (
	FolderXbox    = "xbox"
	FolderPS3     = "ps3"
	FolderDOS     = "dos"
	FolderScummVM = "scummvm"
	FolderPSVita  = "psvita"
	FolderBIOS    = "bios"
)

// Kind selects the post-processing variant for a destination directory.
type Kind int

const (
	KindGeneric Kind = iota
	KindXbox
	KindPS3
	KindDOS
	KindScummVM
	KindPSVita
)

// KindForDir maps a destination directory to its post-processing kind by the
// directory's base name.
func KindForDir(destDir string) Kind {
	switch strings.ToLower(filepath.Base(destDir)) {
	case FolderXbox:
		return KindXbox
	case FolderPS3:
		return KindPS3
	case FolderDOS:
		return KindDOS
	case FolderScummVM:
		return KindScummVM
	case FolderPSVita:
		return KindPSVita
	}
	return KindGeneric
}

type System struct {
	PlatformName string `json:"platform_name"`
	Folder       string `json:"folder"`
}

// Registry maps platform display names to ROM folders and folders to their
// supported ROM extensions.
type Registry struct {
	romsDir    string
	folders    map[string]string
	extensions map[string][]string
}

// Load reads systems_list.json and rom_extensions.json from dataDir. Missing
// files leave the corresponding map empty; lookups then fall back to treating
// the platform name as the folder name.
func Load(dataDir, romsDir string) (*Registry, error) {
	r := &Registry{
		romsDir:    romsDir,
		folders:    make(map[string]string),
		extensions: make(map[string][]string),
	}

	if data, err := os.ReadFile(filepath.Join(dataDir, "systems_list.json")); err == nil {
		var systems []System
		if err := json.Unmarshal(data, &systems); err != nil {
			return nil, fmt.Errorf("parse systems list: %w", err)
		}
		for _, s := range systems {
			if s.PlatformName != "" && s.Folder != "" {
				r.folders[strings.ToLower(s.PlatformName)] = s.Folder
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if data, err := os.ReadFile(filepath.Join(dataDir, "rom_extensions.json")); err == nil {
		var entries []struct {
			Folder     string   `json:"folder"`
			Extensions []string `json:"extensions"`
		}
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse rom extensions: %w", err)
		}
		for _, e := range entries {
			exts := make([]string, 0, len(e.Extensions))
			for _, ext := range e.Extensions {
				ext = strings.ToLower(ext)
				if !strings.HasPrefix(ext, ".") {
					ext = "." + ext
				}
				exts = append(exts, ext)
			}
			r.extensions[strings.ToLower(e.Folder)] = exts
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return r, nil
}

// Folder returns the ROM folder for a platform display name. Unknown
// platforms map to their lowercased name.
func (r *Registry) Folder(platform string) string {
	if f, ok := r.folders[strings.ToLower(platform)]; ok {
		return f
	}
	return strings.ToLower(platform)
}

// DestDir returns the download destination directory for a platform.
func (r *Registry) DestDir(platform string) string {
	return filepath.Join(r.romsDir, r.Folder(platform))
}

// ExtensionSupported reports whether ext is a known ROM extension for the
// folder. Unknown folders support nothing.
func (r *Registry) ExtensionSupported(folder, ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range r.extensions[strings.ToLower(folder)] {
		if e == ext {
			return true
		}
	}
	return false
}

var archiveExtensions = map[string]bool{".zip": true, ".rar": true}

// RequiresExtraction decides whether a downloaded payload must be unpacked
// after download:
//   - BIOS archives are always extracted.
//   - psvita .zip payloads are never auto-extracted (installed whole).
//   - dos archives are always extracted.
//   - a payload whose extension the platform supports is kept as-is.
//   - any other archive is extracted; anything else is kept as-is.
func (r *Registry) RequiresExtraction(rawURL, platform, gameName string) bool {
	name := gameName
	if name == "" {
		name = filenameFromURL(rawURL)
	}
	ext := strings.ToLower(filepath.Ext(name))
	folder := r.Folder(platform)

	if folder == FolderBIOS {
		return archiveExtensions[ext]
	}
	if folder == FolderPSVita && ext == ".zip" {
		return false
	}
	if folder == FolderDOS {
		return archiveExtensions[ext]
	}
	if r.ExtensionSupported(folder, ext) {
		return false
	}
	return archiveExtensions[ext]
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return filepath.Base(rawURL)
	}
	name, err := url.PathUnescape(filepath.Base(u.Path))
	if err != nil {
		return filepath.Base(u.Path)
	}
	return name
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// SanitizeFilename replaces characters that are invalid in file names.
func SanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}
