package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Worker bounds accepted by the dispatcher.
const (
	MinWorkers = 1
	MaxWorkers = 15
)

type Config struct {
	Site    Site    `yaml:"site"`
	Extract Extract `yaml:"extract"`
	Crawl   Crawl   `yaml:"crawl"`
	Output  Output  `yaml:"output"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

// Site describes the publisher whose index pages are bound.
type Site struct {
	Name          string `yaml:"name"`
	TodayURL      string `yaml:"today_url"`
	TimeZone      string `yaml:"time_zone"`
	ArticleMarker string `yaml:"article_marker"`
	RespectRobots bool   `yaml:"respect_robots"`
}

// Extract holds the markers used to pull content out of an article page.
type Extract struct {
	TitleTag      string `yaml:"title_tag"`
	TitleFallback string `yaml:"title_fallback"`
	ImageMarker   string `yaml:"image_marker"`
	ContentID     string `yaml:"content_id"`
	Encoding      string `yaml:"encoding"`
}

type Crawl struct {
	Workers    int               `yaml:"workers"`
	TimeoutSec int               `yaml:"timeout_sec"`
	UserAgent  string            `yaml:"user_agent"`
	Headers    map[string]string `yaml:"headers"`
}

type Output struct {
	DataDir        string `yaml:"data_dir"`
	FilenamePrefix string `yaml:"filename_prefix"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for dailybinder.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "dailybinder")
}

// DataDir returns the XDG data directory for dailybinder.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "dailybinder")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/dailybinder/config.yaml > ./config.yaml.
// An empty path with no error means the embedded defaults should be used.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file. An empty path yields the
// embedded default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return parse(DefaultConfigYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration for Macao Daily.
func Default() *Config {
	return &Config{
		Site: Site{
			Name:          "澳門日報",
			TodayURL:      "https://www.macaodaily.com/html/%s/node_1.htm",
			TimeZone:      "Asia/Macau",
			ArticleMarker: "content_",
		},
		Extract: Extract{
			TitleTag:      "founder-title",
			TitleFallback: "none",
			ImageMarker:   "/res/",
			ContentID:     "ozoom",
			Encoding:      "utf-8",
		},
		Crawl: Crawl{
			Workers:    6,
			TimeoutSec: 15,
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0",
		},
		Output:  Output{FilenamePrefix: "MacaoDaily"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}
}

// Validate checks values the crawl depends on. Out-of-range worker counts
// are clamped, not rejected.
func (c *Config) Validate() error {
	c.Crawl.Workers = ClampWorkers(c.Crawl.Workers)
	if c.Crawl.TimeoutSec <= 0 {
		return fmt.Errorf("crawl.timeout_sec must be positive, got %d", c.Crawl.TimeoutSec)
	}
	if c.Site.ArticleMarker == "" {
		return fmt.Errorf("site.article_marker must not be empty")
	}
	switch c.Extract.TitleFallback {
	case "", "none", "readability":
	default:
		return fmt.Errorf("extract.title_fallback must be none or readability, got %q", c.Extract.TitleFallback)
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSec) * time.Second
}

// RequestHeaders returns the outbound headers shared by every request.
func (c *Config) RequestHeaders() map[string]string {
	h := make(map[string]string, len(c.Crawl.Headers)+1)
	for k, v := range c.Crawl.Headers {
		h[k] = v
	}
	if c.Crawl.UserAgent != "" {
		h["User-Agent"] = c.Crawl.UserAgent
	}
	return h
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// ClampWorkers bounds a caller-supplied worker count to the supported range.
func ClampWorkers(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
