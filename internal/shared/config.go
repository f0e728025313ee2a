package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Library      LibraryConfig      `toml:"library"`
	Cache        CacheConfig        `toml:"cache"`
	Download     DownloadConfig     `toml:"download"`
	SponsorBlock SponsorBlockConfig `toml:"sponsorblock"`
}

// LibraryConfig describes where the local music library and its run logs live.
type LibraryConfig struct {
	BaseDir     string `toml:"base_dir"`
	LogDir      string `toml:"log_dir"`
	ArchivePath string `toml:"archive_path"`
	AudioFormat string `toml:"audio_format"`
}

// CacheConfig contains metadata cache settings.
type CacheConfig struct {
	Dir     string `toml:"dir"`
	TTLDays int    `toml:"ttl_days"`
	Enabled bool   `toml:"enabled"`
}

// DownloadConfig contains settings passed through to the external downloader
// and the scheduler built around it.
type DownloadConfig struct {
	Concurrency int `toml:"concurrency"`
	Retries     int `toml:"retries"`
	// RateLimit is a yt-dlp style bandwidth cap (e.g. "2M"). Empty disables it.
	RateLimit        string `toml:"rate_limit"`
	SleepInterval    int    `toml:"sleep_interval"`
	MaxSleepInterval int    `toml:"max_sleep_interval"`
	// SleepRequests is the minimum number of seconds between metadata
	// requests across all workers.
	SleepRequests int    `toml:"sleep_requests"`
	CookiesPath   string `toml:"cookies_path"`
	YTDLPBin      string `toml:"yt_dlp_bin"`
	FFmpegBin     string `toml:"ffmpeg_bin"`
}

// SponsorBlockConfig contains segment-removal service settings.
// An empty category list disables segment removal entirely.
type SponsorBlockConfig struct {
	APIURL     string   `toml:"api_url"`
	Categories []string `toml:"categories"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.expandPaths()

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.expandPaths()
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SidecarScanRoot returns the directory reconciliation scans for sidecars.
func (c *Config) SidecarScanRoot() string {
	return c.Library.BaseDir
}

// SegmentRemovalEnabled reports whether any segment categories are configured.
func (c *Config) SegmentRemovalEnabled() bool {
	return len(c.SponsorBlock.Categories) > 0
}

func (c *Config) expandPaths() {
	c.Library.BaseDir = expandHome(c.Library.BaseDir)
	c.Library.LogDir = expandHome(c.Library.LogDir)
	c.Library.ArchivePath = expandHome(c.Library.ArchivePath)
	c.Cache.Dir = expandHome(c.Cache.Dir)
	c.Download.CookiesPath = expandHome(c.Download.CookiesPath)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
