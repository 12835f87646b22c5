package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Dify holds the remote workflow endpoints and credentials.
type Dify struct {
	VisionAPIURL  string `json:"vision_api_url"`
	ChatAPIURL    string `json:"chat_api_url"`
	FileUploadURL string `json:"file_upload_url"`
	APIKey        string `json:"api_key"`
	VisionAPIKey  string `json:"vision_api_key"`
}

// Region is a fixed screen rectangle used when the chat anchor cannot be
// located.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Settings controls polling, cleanup and matching behavior.
type Settings struct {
	CheckInterval      int     `json:"check_interval"`
	ErrorRetryInterval int     `json:"error_retry_interval"`
	UseScreenshot      *bool   `json:"use_screenshot"`
	CleanupScreenshots bool    `json:"cleanup_screenshots"`
	CleanupAfterDays   int     `json:"cleanup_after_days"`
	Backend            string  `json:"backend"`
	Confidence         float64 `json:"confidence"`
	ScreenshotsDir     string  `json:"screenshots_dir"`
	TemplatesDir       string  `json:"templates_dir"`
	FallbackRegion     Region  `json:"fallback_region"`
}

type Config struct {
	Dify              Dify     `json:"dify"`
	Settings          Settings `json:"settings"`
	EnableFileLogging bool     `json:"-"`
}

// Load reads the JSON configuration document and layers .env overrides for
// the bearer tokens on top. A missing or malformed document is a fatal
// startup condition for the caller.
func Load(path string) (*Config, error) {
	loadDotEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Tokens may live in the environment instead of the document.
	if v := os.Getenv("DIFY_API_KEY"); v != "" {
		cfg.Dify.APIKey = v
	}
	if v := os.Getenv("DIFY_VISION_API_KEY"); v != "" {
		cfg.Dify.VisionAPIKey = v
	}
	cfg.EnableFileLogging = os.Getenv("ENABLE_FILE_LOGGING") == "true"

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv probes the working directory and the executable directory for a
// .env file, ignoring absence.
func loadDotEnv() {
	envPaths := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		envPaths = append(envPaths, filepath.Join(filepath.Dir(execPath), ".env"))
	}
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			godotenv.Load(envPath)
			break
		}
	}
}

func (c *Config) applyDefaults() {
	s := &c.Settings
	if s.CheckInterval == 0 {
		s.CheckInterval = 3
	}
	if s.ErrorRetryInterval == 0 {
		s.ErrorRetryInterval = 30
	}
	if s.UseScreenshot == nil {
		t := true
		s.UseScreenshot = &t
	}
	if s.CleanupAfterDays == 0 {
		s.CleanupAfterDays = 7
	}
	if s.Backend == "" {
		s.Backend = "native"
	}
	if s.Confidence == 0 {
		s.Confidence = 0.8
	}
	if s.ScreenshotsDir == "" {
		s.ScreenshotsDir = "screenshots"
	}
	if s.TemplatesDir == "" {
		s.TemplatesDir = "templates"
	}
	if s.FallbackRegion == (Region{}) {
		s.FallbackRegion = Region{X: 400, Y: 200, Width: 800, Height: 600}
	}
}

func (c *Config) validate() error {
	required := map[string]string{
		"dify.vision_api_url":  c.Dify.VisionAPIURL,
		"dify.chat_api_url":    c.Dify.ChatAPIURL,
		"dify.file_upload_url": c.Dify.FileUploadURL,
		"dify.api_key":         c.Dify.APIKey,
		"dify.vision_api_key":  c.Dify.VisionAPIKey,
	}
	for key, val := range required {
		if val == "" {
			return fmt.Errorf("config: %s is required", key)
		}
	}
	if c.Settings.CheckInterval < 0 || c.Settings.ErrorRetryInterval < 0 {
		return fmt.Errorf("config: intervals must be positive")
	}
	if c.Settings.Backend != "native" && c.Settings.Backend != "robotgo" {
		return fmt.Errorf("config: unknown backend %q", c.Settings.Backend)
	}
	return nil
}

// UseScreenshotEnabled reports whether chat capture is enabled.
func (c *Config) UseScreenshotEnabled() bool {
	return c.Settings.UseScreenshot == nil || *c.Settings.UseScreenshot
}
