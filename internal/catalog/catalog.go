package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Game is one downloadable entry of a platform listing.
type Game struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size string `json:"size"`
}

// Catalog resolves platform game listings from per-platform JSON files.
// Listing files come in several historical shapes, all of which are accepted:
// a top-level array or an object with a "games" key, whose entries are either
// [name, url, size] arrays or objects with aliased field names.
type Catalog struct {
	dir string
}

func New(dir string) *Catalog {
	return &Catalog{dir: dir}
}

// Games loads the listing for one platform.
func (c *Catalog) Games(platform string) ([]Game, error) {
	path := filepath.Join(c.dir, platform+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read games list for %s: %w", platform, err)
	}
	games, err := parseListing(data)
	if err != nil {
		return nil, fmt.Errorf("parse games list for %s: %w", platform, err)
	}
	return games, nil
}

// Lookup resolves a game by index (when index >= 0) or by exact name.
func (c *Catalog) Lookup(platform string, index int, name string) (Game, error) {
	games, err := c.Games(platform)
	if err != nil {
		return Game{}, err
	}
	if index >= 0 {
		if index >= len(games) {
			return Game{}, fmt.Errorf("game index %d out of range for %s", index, platform)
		}
		return games[index], nil
	}
	for _, g := range games {
		if g.Name == name {
			return g, nil
		}
	}
	return Game{}, fmt.Errorf("game %q not found for %s", name, platform)
}

func parseListing(data []byte) ([]Game, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries, ok := raw.([]any)
	if !ok {
		obj, isObj := raw.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("unexpected listing shape")
		}
		entries, ok = obj["games"].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected listing shape")
		}
	}

	games := make([]Game, 0, len(entries))
	for _, entry := range entries {
		switch e := entry.(type) {
		case []any:
			g := Game{}
			if len(e) > 0 {
				g.Name, _ = e[0].(string)
			}
			if len(e) > 1 {
				g.URL, _ = e[1].(string)
			}
			if len(e) > 2 {
				g.Size = asString(e[2])
			}
			if g.Name != "" && g.URL != "" {
				games = append(games, g)
			}
		case map[string]any:
			g := Game{
				Name: firstString(e, "game_name", "name", "title"),
				URL:  firstString(e, "url", "download", "link", "href"),
				Size: asString(firstValue(e, "size")),
			}
			if g.Name != "" && g.URL != "" {
				games = append(games, g)
			}
		}
	}
	return games, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", s), ".")
	}
	return ""
}
