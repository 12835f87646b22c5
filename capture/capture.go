// Package capture persists screenshots of the chat region for vision
// extraction.
package capture

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vcaesar/imgo"

	"chat-triage-bot/backend"
	"chat-triage-bot/config"
	"chat-triage-bot/screenshot"
	"chat-triage-bot/template"
)

// ErrDisabled reports that chat capture is switched off in the configuration.
var ErrDisabled = errors.New("chat capture disabled by use_screenshot=false")

// Margins added around the located chat window so the capture includes more
// conversation context.
const (
	marginLeft   = 50
	marginTop    = 50
	marginWidth  = 100
	marginHeight = 200
)

// Manager captures chat-region screenshots into the managed directory. File
// names are {customer_id}_{timestamp}.png; two captures for the same
// customer within the same second silently overwrite, an accepted
// limitation of second-granularity timestamps.
type Manager struct {
	backend    backend.Backend
	templates  *template.Set
	dir        string
	fallback   screenshot.Region
	confidence float64
	enabled    bool
	now        func() time.Time
}

func NewManager(b backend.Backend, tpls *template.Set, cfg *config.Config) (*Manager, error) {
	dir := cfg.Settings.ScreenshotsDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create screenshot directory %s: %w", dir, err)
	}
	fb := cfg.Settings.FallbackRegion
	return &Manager{
		backend:   b,
		templates: tpls,
		dir:       dir,
		fallback: screenshot.Region{
			X: fb.X, Y: fb.Y, Width: fb.Width, Height: fb.Height,
		},
		confidence: cfg.Settings.Confidence,
		enabled:    cfg.UseScreenshotEnabled(),
		now:        time.Now,
	}, nil
}

// Dir returns the managed screenshot directory.
func (m *Manager) Dir() string { return m.dir }

// CaptureRegion captures the given region and writes it for customerID,
// returning the file path.
func (m *Manager) CaptureRegion(r screenshot.Region, customerID string) (string, error) {
	img, err := m.backend.Capture(r)
	if err != nil {
		return "", fmt.Errorf("capture region %+v: %w", r, err)
	}
	return m.save(img, customerID)
}

// CaptureChat screenshots the chat conversation for customerID. It locates
// the chat-window anchor to compute a dynamic region expanded by fixed
// margins; when the anchor is not visible it falls back to the configured
// fixed region.
func (m *Manager) CaptureChat(customerID string) (string, error) {
	if !m.enabled {
		return "", ErrDisabled
	}

	region := m.fallback
	anchor, ok := m.templates.Get(template.RoleChatWindow)
	if ok {
		if match, found := m.backend.Locate(anchor, m.confidence); found {
			region = screenshot.Region{
				X:      max(0, match.X-marginLeft),
				Y:      max(0, match.Y-marginTop),
				Width:  match.Width + marginWidth,
				Height: match.Height + marginHeight,
			}
		} else {
			log.Printf("Chat window anchor not found, using fixed region %+v", m.fallback)
		}
	}
	return m.CaptureRegion(region, customerID)
}

func (m *Manager) save(img image.Image, customerID string) (string, error) {
	name := fmt.Sprintf("%s_%s.png", customerID, m.now().Format("20060102_150405"))
	path := filepath.Join(m.dir, name)
	if err := imgo.SaveToPNG(path, img); err != nil {
		return "", fmt.Errorf("save screenshot %s: %w", path, err)
	}
	log.Printf("Saved chat screenshot: %s", path)
	return path, nil
}
