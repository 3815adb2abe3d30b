package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port    int               `yaml:"port"`
	RomsDir string            `yaml:"roms_dir"`
	SaveDir string            `yaml:"save_dir"`
	Headers map[string]string `yaml:"headers"`
	Tools   ToolsConfig       `yaml:"tools"`
	Retry   RetryConfig       `yaml:"retry"`
}

// ToolsConfig holds paths to the external binaries used by extraction and
// platform post-processing. Bare names are resolved through PATH.
type ToolsConfig struct {
	Unrar       string `yaml:"unrar"`
	Ps3Dec      string `yaml:"ps3dec"`
	SevenZip    string `yaml:"seven_zip"`
	ExtractXiso string `yaml:"extract_xiso"`
}

type RetryConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// Duration accepts "2s"-style values in the YAML file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(dur)
	return nil
}

var GlobalConfig = Default()

func Default() Config {
	return Config{
		Port:    8006,
		RomsDir: "./roms",
		SaveDir: "./saves",
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Tools: ToolsConfig{
			Unrar:       "unrar",
			Ps3Dec:      "ps3dec",
			SevenZip:    "7zz",
			ExtractXiso: "extract-xiso",
		},
		Retry: RetryConfig{
			Attempts: 4,
			Backoff:  Duration(2 * time.Second),
		},
	}
}

// LoadConfig reads the YAML config file into GlobalConfig. A missing file is
// not an error; defaults stay in effect. Environment variables override the
// file afterwards.
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			loadEnv(&GlobalConfig)
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, &GlobalConfig); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	loadEnv(&GlobalConfig)
	return nil
}

func loadEnv(c *Config) {
	if v := os.Getenv("RGSX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("RGSX_ROMS_DIR"); v != "" {
		c.RomsDir = v
	}
	if v := os.Getenv("RGSX_SAVE_DIR"); v != "" {
		c.SaveDir = v
	}
}

// VitaAppDir is the PSVita install staging path, a sibling of the ROMs tree.
func (c Config) VitaAppDir() string {
	return filepath.Join(filepath.Dir(c.RomsDir), "psvita", "ux0", "app")
}

// HistoryPath is the canonical queue+history JSON file.
func (c Config) HistoryPath() string {
	return filepath.Join(c.SaveDir, "history.json")
}

// GamesDir holds the per-platform game listing files.
func (c Config) GamesDir() string {
	return filepath.Join(c.SaveDir, "games")
}
